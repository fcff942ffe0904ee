package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hookline/hookline/internal/models"
)

// SQLiteMessageRepository implements MessageRepository for SQLite/libsql.
type SQLiteMessageRepository struct {
	db *sql.DB
}

// NewSQLiteMessageRepository creates a new SQLite message repository.
func NewSQLiteMessageRepository(db *sql.DB) *SQLiteMessageRepository {
	return &SQLiteMessageRepository{db: db}
}

const messageColumns = `id, config_id, webhook_name, payload, target_url, signature,
	headers_json, status, retry_count, next_retry_at, last_error,
	processing_node, created_at, updated_at`

// Insert persists a new message. Status defaults to pending.
func (r *SQLiteMessageRepository) Insert(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	headersJSON, err := marshalHeaders(msg.Headers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, config_id, webhook_name, payload, target_url, signature,
			headers_json, status, retry_count, next_retry_at, last_error,
			processing_node, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConfigID, msg.WebhookName, msg.Payload, msg.TargetURL, msg.Signature,
		headersJSON, string(msg.Status), msg.RetryCount, nullTime(msg.NextRetry),
		nullString(msg.LastError), nullString(msg.ProcessingNode),
		now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetByID retrieves a message by ID.
func (r *SQLiteMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessageFrom(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// MarkProcessing claims a message via compare-and-set. Exactly one concurrent
// caller observes a non-zero row count; everyone else lost the race.
func (r *SQLiteMessageRepository) MarkProcessing(ctx context.Context, id, node string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'processing', processing_node = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ?
		  AND (status = 'pending'
		       OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?))
	`, node, now.UTC().Format(time.RFC3339), id, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkDelivered finalizes a successful delivery.
func (r *SQLiteMessageRepository) MarkDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'delivered', next_retry_at = NULL, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// MarkFailed records a delivery failure. nextRetry = nil is terminal.
// The guard on processing keeps a racing cancel from being overwritten.
func (r *SQLiteMessageRepository) MarkFailed(ctx context.Context, id, errMsg string, nextRetry *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed', last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, errMsg, nullTime(nextRetry), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// IncrementRetryCount bumps the retry counter ahead of a retry attempt.
func (r *SQLiteMessageRepository) IncrementRetryCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// Cancel transitions a non-terminal message to cancelled. Terminal failures
// (failed with no scheduled retry), delivered, and already-cancelled messages
// are left alone.
func (r *SQLiteMessageRepository) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'cancelled', next_retry_at = NULL, updated_at = ?
		WHERE id = ?
		  AND (status IN ('pending', 'processing')
		       OR (status = 'failed' AND next_retry_at IS NOT NULL))
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ScheduleRetryNow makes a failed message due for immediate redelivery.
func (r *SQLiteMessageRepository) ScheduleRetryNow(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET next_retry_at = ?, updated_at = ? WHERE id = ? AND status = 'failed'
	`, now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateTargetURL redirects future attempts of a message.
func (r *SQLiteMessageRepository) UpdateTargetURL(ctx context.Context, id, targetURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET target_url = ?, updated_at = ? WHERE id = ?
	`, targetURL, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// FindForRetry returns ids of failed messages whose retry is due, oldest first.
func (r *SQLiteMessageRepository) FindForRetry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.findIDs(ctx, `
		SELECT id FROM messages
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?
	`, now.UTC().Format(time.RFC3339), limit)
}

// FindPending returns ids of pending messages, oldest first. Used by the
// startup sweep to re-enqueue messages whose publish never happened.
func (r *SQLiteMessageRepository) FindPending(ctx context.Context, limit int) ([]string, error) {
	return r.findIDs(ctx, `
		SELECT id FROM messages WHERE status = 'pending' ORDER BY created_at LIMIT ?
	`, limit)
}

// FindStuck returns ids of messages stuck in processing since before threshold.
func (r *SQLiteMessageRepository) FindStuck(ctx context.Context, threshold time.Time) ([]string, error) {
	return r.findIDs(ctx, `
		SELECT id FROM messages WHERE status = 'processing' AND updated_at < ? ORDER BY updated_at
	`, threshold.UTC().Format(time.RFC3339))
}

func (r *SQLiteMessageRepository) findIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search returns messages matching the filters, newest first.
func (r *SQLiteMessageRepository) Search(ctx context.Context, filters SearchFilters) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []any

	if filters.WebhookName != "" {
		query += ` AND webhook_name = ?`
		args = append(args, filters.WebhookName)
	}
	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filters.Status))
	}
	if !filters.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filters.Since.UTC().Format(time.RFC3339))
	}
	if !filters.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filters.Until.UTC().Format(time.RFC3339))
	}

	query += ` ORDER BY created_at DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filters.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessageFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountByStatus counts messages in a given status.
func (r *SQLiteMessageRepository) CountByStatus(ctx context.Context, status models.MessageStatus) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status = ?`, string(status)).Scan(&count)
	return count, err
}

// DeleteOlderThan removes up to batch messages in the given statuses created
// before cutoff. Attempts cascade via the foreign key.
func (r *SQLiteMessageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []models.MessageStatus, batch int) (int64, error) {
	if len(statuses) == 0 || batch <= 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339), batch)

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE status IN (`+placeholders+`) AND created_at < ?
			LIMIT ?
		)
	`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessageFrom(scan func(dest ...any) error) (*models.Message, error) {
	var msg models.Message
	var headersJSON, nextRetryAt, lastError, processingNode sql.NullString
	var status, createdAt, updatedAt string

	err := scan(
		&msg.ID,
		&msg.ConfigID,
		&msg.WebhookName,
		&msg.Payload,
		&msg.TargetURL,
		&msg.Signature,
		&headersJSON,
		&status,
		&msg.RetryCount,
		&nextRetryAt,
		&lastError,
		&processingNode,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = models.MessageStatus(status)
	msg.LastError = lastError.String
	msg.ProcessingNode = processingNode.String

	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &msg.Headers); err != nil {
			return nil, err
		}
	}

	if nextRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
		msg.NextRetry = &t
	}

	msg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	msg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &msg, nil
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
