package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// SQLiteHealthRepository implements HealthRepository for SQLite/libsql.
// Counter and EWMA updates are single UPDATE statements so concurrent
// workers never lose increments.
type SQLiteHealthRepository struct {
	db *sql.DB
}

// NewSQLiteHealthRepository creates a new SQLite health repository.
func NewSQLiteHealthRepository(db *sql.DB) *SQLiteHealthRepository {
	return &SQLiteHealthRepository{db: db}
}

// RecordSuccess counts a terminal delivery and folds the latency into the
// EWMA (alpha=0.3; the first sample seeds the average directly).
func (r *SQLiteHealthRepository) RecordSuccess(ctx context.Context, configID string, latencyMs int64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_health_stats SET
			total_sent = total_sent + 1,
			total_delivered = total_delivered + 1,
			avg_response_time_ms = CASE
				WHEN avg_response_time_ms = 0 THEN ?
				ELSE avg_response_time_ms * 0.7 + ? * 0.3
			END,
			last_success_at = ?,
			updated_at = ?
		WHERE config_id = ?
	`, latencyMs, latencyMs, now, now, configID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Stats row does not exist yet; create it lazily and retry once.
		if err := r.ensureRow(ctx, configID); err != nil {
			return err
		}
		_, err = r.db.ExecContext(ctx, `
			UPDATE webhook_health_stats SET
				total_sent = total_sent + 1,
				total_delivered = total_delivered + 1,
				avg_response_time_ms = CASE
					WHEN avg_response_time_ms = 0 THEN ?
					ELSE avg_response_time_ms * 0.7 + ? * 0.3
				END,
				last_success_at = ?,
				updated_at = ?
			WHERE config_id = ?
		`, latencyMs, latencyMs, now, now, configID)
		return err
	}
	return nil
}

// RecordFailure counts a terminal failure and remembers the reason.
func (r *SQLiteHealthRepository) RecordFailure(ctx context.Context, configID, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_health_stats SET
			total_sent = total_sent + 1,
			total_failed = total_failed + 1,
			last_error_at = ?,
			last_error = ?,
			updated_at = ?
		WHERE config_id = ?
	`, now, reason, now, configID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if err := r.ensureRow(ctx, configID); err != nil {
			return err
		}
		_, err = r.db.ExecContext(ctx, `
			UPDATE webhook_health_stats SET
				total_sent = total_sent + 1,
				total_failed = total_failed + 1,
				last_error_at = ?,
				last_error = ?,
				updated_at = ?
			WHERE config_id = ?
		`, now, reason, now, configID)
		return err
	}
	return nil
}

// ensureRow lazily creates the stats row, copying the denormalized name
// from the config. ON CONFLICT absorbs the race with another worker.
func (r *SQLiteHealthRepository) ensureRow(ctx context.Context, configID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_health_stats (config_id, webhook_name, updated_at)
		SELECT id, name, ? FROM webhook_configs WHERE id = ?
		ON CONFLICT(config_id) DO NOTHING
	`, time.Now().UTC().Format(time.RFC3339), configID)
	return err
}

const healthColumns = `config_id, webhook_name, total_sent, total_delivered, total_failed,
	avg_response_time_ms, last_success_at, last_error_at, last_error, updated_at`

// GetByConfigID retrieves stats for one config.
func (r *SQLiteHealthRepository) GetByConfigID(ctx context.Context, configID string) (*models.WebhookHealthStats, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+healthColumns+` FROM webhook_health_stats WHERE config_id = ?`, configID)
	stats, err := scanHealthFrom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return stats, err
}

// List returns stats for all configs.
func (r *SQLiteHealthRepository) List(ctx context.Context) ([]*models.WebhookHealthStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+healthColumns+` FROM webhook_health_stats ORDER BY webhook_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanHealthRows(rows)
}

// ListUnhealthy returns stats for configs that crossed the unhealthy
// threshold: at least minSent terminal outcomes and a success rate below
// minRate percent.
func (r *SQLiteHealthRepository) ListUnhealthy(ctx context.Context, minSent int64, minRate float64) ([]*models.WebhookHealthStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+healthColumns+` FROM webhook_health_stats
		WHERE total_sent >= ?
		  AND (CAST(total_delivered AS REAL) / total_sent) * 100 < ?
		ORDER BY webhook_name
	`, minSent, minRate)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanHealthRows(rows)
}

func scanHealthRows(rows *sql.Rows) ([]*models.WebhookHealthStats, error) {
	var all []*models.WebhookHealthStats
	for rows.Next() {
		stats, err := scanHealthFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	return all, rows.Err()
}

func scanHealthFrom(scan func(dest ...any) error) (*models.WebhookHealthStats, error) {
	var s models.WebhookHealthStats
	var lastSuccess, lastErrorAt, lastError sql.NullString
	var updatedAt string

	err := scan(
		&s.ConfigID,
		&s.WebhookName,
		&s.TotalSent,
		&s.TotalDelivered,
		&s.TotalFailed,
		&s.AvgResponseTimeMs,
		&lastSuccess,
		&lastErrorAt,
		&lastError,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		t, _ := time.Parse(time.RFC3339, lastSuccess.String)
		s.LastSuccessTime = &t
	}
	if lastErrorAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastErrorAt.String)
		s.LastErrorTime = &t
	}
	s.LastError = lastError.String
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &s, nil
}
