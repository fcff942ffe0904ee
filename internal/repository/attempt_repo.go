package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hookline/hookline/internal/models"
)

// SQLiteAttemptRepository implements AttemptRepository for SQLite/libsql.
type SQLiteAttemptRepository struct {
	db *sql.DB
}

// NewSQLiteAttemptRepository creates a new SQLite attempt repository.
func NewSQLiteAttemptRepository(db *sql.DB) *SQLiteAttemptRepository {
	return &SQLiteAttemptRepository{db: db}
}

// Append inserts an attempt record. The unique (message_id, attempt_number)
// constraint makes duplicate appends fail loudly instead of silently.
func (r *SQLiteAttemptRepository) Append(ctx context.Context, attempt *models.DeliveryAttempt) error {
	if attempt.ID == "" {
		attempt.ID = ulid.Make().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	headersJSON, err := marshalHeaders(attempt.ResponseHeaders)
	if err != nil {
		return err
	}

	var statusCode *int64
	if attempt.StatusCode != nil {
		v := int64(*attempt.StatusCode)
		statusCode = &v
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (
			id, message_id, attempt_number, attempted_at, target_url,
			status_code, response_body, response_headers_json,
			request_duration_ms, error_message, processing_node
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.MessageID, attempt.AttemptNumber,
		attempt.AttemptedAt.UTC().Format(time.RFC3339), attempt.TargetURL,
		statusCode, nullString(attempt.ResponseBody), headersJSON,
		attempt.RequestDurationMs, nullString(attempt.Error), nullString(attempt.ProcessingNode))

	return err
}

// GetByMessageID retrieves the most recent attempts for a message.
func (r *SQLiteAttemptRepository) GetByMessageID(ctx context.Context, messageID string, limit int) ([]*models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, attempt_number, attempted_at, target_url,
		       status_code, response_body, response_headers_json,
		       request_duration_ms, error_message, processing_node
		FROM delivery_attempts
		WHERE message_id = ?
		ORDER BY attempt_number DESC
		LIMIT ?
	`, messageID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var attempts []*models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		var statusCode sql.NullInt64
		var responseBody, headersJSON, errorMessage, processingNode sql.NullString
		var attemptedAt string

		err := rows.Scan(
			&a.ID,
			&a.MessageID,
			&a.AttemptNumber,
			&attemptedAt,
			&a.TargetURL,
			&statusCode,
			&responseBody,
			&headersJSON,
			&a.RequestDurationMs,
			&errorMessage,
			&processingNode,
		)
		if err != nil {
			return nil, err
		}

		if statusCode.Valid {
			v := int(statusCode.Int64)
			a.StatusCode = &v
		}
		a.ResponseBody = responseBody.String
		a.Error = errorMessage.String
		a.ProcessingNode = processingNode.String

		if headersJSON.Valid && headersJSON.String != "" {
			if err := json.Unmarshal([]byte(headersJSON.String), &a.ResponseHeaders); err != nil {
				return nil, err
			}
		}

		a.AttemptedAt, _ = time.Parse(time.RFC3339, attemptedAt)

		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// DeleteOlderThan removes up to batch attempts made before cutoff.
func (r *SQLiteAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM delivery_attempts WHERE id IN (
			SELECT id FROM delivery_attempts WHERE attempted_at < ? LIMIT ?
		)
	`, cutoff.UTC().Format(time.RFC3339), batch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
