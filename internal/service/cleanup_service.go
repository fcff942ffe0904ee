package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
)

// CleanupService enforces retention: terminal messages and old delivery
// attempts are deleted in batches after their retention window passes.
// Non-terminal messages are never touched.
type CleanupService struct {
	messages repository.MessageRepository
	attempts repository.AttemptRepository

	interval      time.Duration
	deliveredDays int
	failedDays    int
	cancelledDays int
	attemptsDays  int
	batchSize     int
	logger        *slog.Logger
}

// NewCleanupService creates a new cleanup service from configuration.
func NewCleanupService(messages repository.MessageRepository, attempts repository.AttemptRepository, cfg *config.Config, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		messages:      messages,
		attempts:      attempts,
		interval:      cfg.CleanupInterval,
		deliveredDays: cfg.DeliveredRetentionDays,
		failedDays:    cfg.FailedRetentionDays,
		cancelledDays: cfg.CancelledRetentionDays,
		attemptsDays:  cfg.AttemptsRetentionDays,
		batchSize:     cfg.CleanBatchSize,
		logger:        logger,
	}
}

// Run executes cleanup on the configured interval until ctx is cancelled.
// One pass runs immediately at startup.
func (s *CleanupService) Run(ctx context.Context) {
	s.logger.Info("retention cleanup started", "interval", s.interval)

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("retention cleanup pass failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention cleanup stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("retention cleanup pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one full cleanup pass. Each retention class is drained
// batch by batch so a huge backlog never holds one long delete.
func (s *CleanupService) RunOnce(ctx context.Context) error {
	now := time.Now()

	classes := []struct {
		statuses []models.MessageStatus
		days     int
		label    string
	}{
		{[]models.MessageStatus{models.StatusDelivered}, s.deliveredDays, "delivered"},
		{[]models.MessageStatus{models.StatusFailed}, s.failedDays, "failed"},
		{[]models.MessageStatus{models.StatusCancelled}, s.cancelledDays, "cancelled"},
	}

	var totalMessages int64
	for _, class := range classes {
		if class.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -class.days)
		deleted, err := s.drainMessages(ctx, cutoff, class.statuses)
		if err != nil {
			return err
		}
		if deleted > 0 {
			s.logger.Info("expired messages deleted", "status", class.label, "count", deleted, "cutoff", cutoff)
		}
		totalMessages += deleted
	}

	var totalAttempts int64
	if s.attemptsDays > 0 {
		cutoff := now.AddDate(0, 0, -s.attemptsDays)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			deleted, err := s.attempts.DeleteOlderThan(ctx, cutoff, s.batchSize)
			if err != nil {
				return err
			}
			totalAttempts += deleted
			if deleted < int64(s.batchSize) {
				break
			}
		}
		if totalAttempts > 0 {
			s.logger.Info("expired delivery attempts deleted", "count", totalAttempts, "cutoff", cutoff)
		}
	}

	if totalMessages > 0 || totalAttempts > 0 {
		s.logger.Info("retention cleanup pass complete", "messages", totalMessages, "attempts", totalAttempts)
	}
	return nil
}

func (s *CleanupService) drainMessages(ctx context.Context, cutoff time.Time, statuses []models.MessageStatus) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		deleted, err := s.messages.DeleteOlderThan(ctx, cutoff, statuses, s.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(s.batchSize) {
			return total, nil
		}
	}
}
