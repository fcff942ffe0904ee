package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/hookline/hookline/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestConfig is a helper to insert a webhook config directly.
func InsertTestConfig(t *testing.T, db *sql.DB, id, name string, active bool) {
	t.Helper()
	isActive := 0
	if active {
		isActive = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO webhook_configs (id, name, target_url, max_retries, backoff_strategy,
			initial_interval_s, backoff_factor, max_interval_s, max_age_s, is_active,
			created_at, updated_at)
		VALUES (?, ?, 'https://example.com/hook', 3, 'exponential', 1, 2.0, 3600, 86400, ?, ?, ?)
	`
	if _, err := db.Exec(query, id, name, isActive, now, now); err != nil {
		t.Fatalf("failed to insert test config: %v", err)
	}
}

// InsertTestMessage is a helper to insert a message directly.
func InsertTestMessage(t *testing.T, db *sql.DB, id, configID, name, status string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO messages (id, config_id, webhook_name, payload, target_url, signature,
			status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, '{"a":1}', 'https://example.com/hook', 'sha256=deadbeef', ?, 0, ?, ?)
	`
	if _, err := db.Exec(query, id, configID, name, status, now, now); err != nil {
		t.Fatalf("failed to insert test message: %v", err)
	}
}

// SetMessageNextRetry sets next_retry_at for a message (RFC3339 or NULL via "").
func SetMessageNextRetry(t *testing.T, db *sql.DB, id, nextRetryAt string) {
	t.Helper()
	var err error
	if nextRetryAt == "" {
		_, err = db.Exec(`UPDATE messages SET next_retry_at = NULL WHERE id = ?`, id)
	} else {
		_, err = db.Exec(`UPDATE messages SET next_retry_at = ? WHERE id = ?`, nextRetryAt, id)
	}
	if err != nil {
		t.Fatalf("failed to set next_retry_at: %v", err)
	}
}

// MessageStatus reads a message's status column directly.
func MessageStatus(t *testing.T, db *sql.DB, id string) string {
	t.Helper()
	var status string
	if err := db.QueryRow(`SELECT status FROM messages WHERE id = ?`, id).Scan(&status); err != nil {
		t.Fatalf("failed to read message status: %v", err)
	}
	return status
}
