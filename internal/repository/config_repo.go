package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hookline/hookline/internal/models"
)

// SQLiteConfigRepository implements ConfigRepository for SQLite/libsql.
type SQLiteConfigRepository struct {
	db *sql.DB
}

// NewSQLiteConfigRepository creates a new SQLite config repository.
func NewSQLiteConfigRepository(db *sql.DB) *SQLiteConfigRepository {
	return &SQLiteConfigRepository{db: db}
}

const configColumns = `id, name, target_url, secret_encrypted, headers_json, is_active,
	max_retries, backoff_strategy, initial_interval_s, backoff_factor,
	max_interval_s, max_age_s, created_at, updated_at`

// Create inserts a new webhook config.
func (r *SQLiteConfigRepository) Create(ctx context.Context, cfg *models.WebhookConfig) error {
	if cfg.ID == "" {
		cfg.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	headersJSON, err := marshalHeaders(cfg.Headers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_configs (
			id, name, target_url, secret_encrypted, headers_json, is_active,
			max_retries, backoff_strategy, initial_interval_s, backoff_factor,
			max_interval_s, max_age_s, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.ID, cfg.Name, cfg.TargetURL, nullString(cfg.SecretEncrypted), headersJSON,
		boolToInt(cfg.Active), cfg.MaxRetries, string(cfg.BackoffStrategy),
		cfg.InitialIntervalS, cfg.BackoffFactor, cfg.MaxIntervalS, cfg.MaxAgeS,
		now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// Update rewrites a webhook config.
func (r *SQLiteConfigRepository) Update(ctx context.Context, cfg *models.WebhookConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	headersJSON, err := marshalHeaders(cfg.Headers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_configs SET
			name = ?, target_url = ?, secret_encrypted = ?, headers_json = ?,
			is_active = ?, max_retries = ?, backoff_strategy = ?,
			initial_interval_s = ?, backoff_factor = ?, max_interval_s = ?,
			max_age_s = ?, updated_at = ?
		WHERE id = ?
	`, cfg.Name, cfg.TargetURL, nullString(cfg.SecretEncrypted), headersJSON,
		boolToInt(cfg.Active), cfg.MaxRetries, string(cfg.BackoffStrategy),
		cfg.InitialIntervalS, cfg.BackoffFactor, cfg.MaxIntervalS, cfg.MaxAgeS,
		cfg.UpdatedAt.Format(time.RFC3339), cfg.ID)

	return err
}

// Deactivate soft-deletes a config.
func (r *SQLiteConfigRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_configs SET is_active = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// GetByID retrieves a config by ID.
func (r *SQLiteConfigRepository) GetByID(ctx context.Context, id string) (*models.WebhookConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM webhook_configs WHERE id = ?`, id)
	return scanConfig(row)
}

// GetByName retrieves a config by name regardless of active state.
func (r *SQLiteConfigRepository) GetByName(ctx context.Context, name string) (*models.WebhookConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM webhook_configs WHERE name = ?`, name)
	return scanConfig(row)
}

// GetActiveByName retrieves an active config by name.
func (r *SQLiteConfigRepository) GetActiveByName(ctx context.Context, name string) (*models.WebhookConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM webhook_configs WHERE name = ? AND is_active = 1`, name)
	return scanConfig(row)
}

// List returns all configs, newest first.
func (r *SQLiteConfigRepository) List(ctx context.Context) ([]*models.WebhookConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM webhook_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var configs []*models.WebhookConfig
	for rows.Next() {
		cfg, err := scanConfigFromRows(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func scanConfig(row *sql.Row) (*models.WebhookConfig, error) {
	cfg, err := scanConfigFrom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

func scanConfigFromRows(rows *sql.Rows) (*models.WebhookConfig, error) {
	return scanConfigFrom(rows.Scan)
}

func scanConfigFrom(scan func(dest ...any) error) (*models.WebhookConfig, error) {
	var cfg models.WebhookConfig
	var secret, headersJSON sql.NullString
	var isActive int
	var strategy, createdAt, updatedAt string

	err := scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.TargetURL,
		&secret,
		&headersJSON,
		&isActive,
		&cfg.MaxRetries,
		&strategy,
		&cfg.InitialIntervalS,
		&cfg.BackoffFactor,
		&cfg.MaxIntervalS,
		&cfg.MaxAgeS,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.SecretEncrypted = secret.String
	cfg.Active = isActive != 0
	cfg.BackoffStrategy = models.BackoffStrategy(strategy)

	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &cfg.Headers); err != nil {
			return nil, err
		}
	}

	cfg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &cfg, nil
}

func marshalHeaders(headers map[string]string) (*string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
