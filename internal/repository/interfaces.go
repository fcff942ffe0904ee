// Package repository provides data access for webhook configs, messages,
// delivery attempts, and health stats. Every state transition is an atomic
// conditional update so concurrent workers cannot double-process a message.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// ConfigRepository manages webhook configurations.
type ConfigRepository interface {
	Create(ctx context.Context, cfg *models.WebhookConfig) error
	Update(ctx context.Context, cfg *models.WebhookConfig) error
	// Deactivate soft-deletes a config by clearing its active flag.
	Deactivate(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.WebhookConfig, error)
	GetByName(ctx context.Context, name string) (*models.WebhookConfig, error)
	// GetActiveByName resolves the config used for ingestion; inactive
	// configs are invisible here.
	GetActiveByName(ctx context.Context, name string) (*models.WebhookConfig, error)
	List(ctx context.Context) ([]*models.WebhookConfig, error)
}

// SearchFilters narrows a message search. Zero values mean "any".
type SearchFilters struct {
	WebhookName string
	Status      models.MessageStatus
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// MessageRepository manages message lifecycle state. Transition methods are
// compare-and-set: they report whether the row actually changed so callers
// can detect lost races.
type MessageRepository interface {
	Insert(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)

	// MarkProcessing claims a message for delivery. Only a PENDING message
	// or a FAILED one whose retry is due transitions; the returned count is
	// 0 when another worker owns it or the message is terminal.
	MarkProcessing(ctx context.Context, id, node string, now time.Time) (int64, error)
	// MarkDelivered finalizes a successful delivery. Guarded on PROCESSING
	// so a cancel that raced the HTTP call wins.
	MarkDelivered(ctx context.Context, id string) error
	// MarkFailed records a failure. A nil nextRetry makes the failure
	// terminal; otherwise the retry scheduler will pick the message up.
	MarkFailed(ctx context.Context, id, errMsg string, nextRetry *time.Time) error
	IncrementRetryCount(ctx context.Context, id string) error
	// Cancel transitions any non-terminal message to CANCELLED and reports
	// whether it mutated anything.
	Cancel(ctx context.Context, id string) (bool, error)
	// ScheduleRetryNow makes a FAILED message due immediately (manual retry).
	ScheduleRetryNow(ctx context.Context, id string, now time.Time) (bool, error)
	UpdateTargetURL(ctx context.Context, id, targetURL string) error

	FindForRetry(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindPending(ctx context.Context, limit int) ([]string, error)
	FindStuck(ctx context.Context, threshold time.Time) ([]string, error)
	Search(ctx context.Context, filters SearchFilters) ([]*models.Message, error)
	CountByStatus(ctx context.Context, status models.MessageStatus) (int64, error)

	// DeleteOlderThan removes up to batch messages in the given statuses
	// created before cutoff, returning how many rows went away.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []models.MessageStatus, batch int) (int64, error)
}

// AttemptRepository manages the append-only delivery attempt log.
type AttemptRepository interface {
	Append(ctx context.Context, attempt *models.DeliveryAttempt) error
	GetByMessageID(ctx context.Context, messageID string, limit int) ([]*models.DeliveryAttempt, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// HealthRepository maintains per-config delivery counters. Counter and EWMA
// updates happen inside single SQL statements; there is no read-modify-write
// in application code.
type HealthRepository interface {
	RecordSuccess(ctx context.Context, configID string, latencyMs int64) error
	RecordFailure(ctx context.Context, configID, reason string) error
	GetByConfigID(ctx context.Context, configID string) (*models.WebhookHealthStats, error)
	List(ctx context.Context) ([]*models.WebhookHealthStats, error)
	ListUnhealthy(ctx context.Context, minSent int64, minRate float64) ([]*models.WebhookHealthStats, error)
}

// Repositories bundles all repository implementations.
type Repositories struct {
	Config  ConfigRepository
	Message MessageRepository
	Attempt AttemptRepository
	Health  HealthRepository
}

// NewRepositories creates all repositories backed by the given database.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Config:  NewSQLiteConfigRepository(db),
		Message: NewSQLiteMessageRepository(db),
		Attempt: NewSQLiteAttemptRepository(db),
		Health:  NewSQLiteHealthRepository(db),
	}
}
