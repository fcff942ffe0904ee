package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/repository"
)

// RetryScheduler periodically scans for failed messages whose retry is due
// and republishes them. Publishing is idempotent: if a retry envelope is
// published twice, the second consumer loses the claim and drops it.
type RetryScheduler struct {
	messages   repository.MessageRepository
	dispatcher dispatch.Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
}

// NewRetryScheduler creates a retry scheduler from configuration.
func NewRetryScheduler(messages repository.MessageRepository, dispatcher dispatch.Dispatcher, cfg *config.Config, logger *slog.Logger) *RetryScheduler {
	return &RetryScheduler{
		messages:   messages,
		dispatcher: dispatcher,
		interval:   cfg.RetrySchedulerInterval,
		batchSize:  cfg.RetryBatchSize,
		logger:     logger,
	}
}

// Run ticks until ctx is cancelled.
func (s *RetryScheduler) Run(ctx context.Context) {
	s.logger.Info("retry scheduler started", "interval", s.interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("retry scan failed", "error", err)
			}
		}
	}
}

// RunOnce publishes one batch of due retries. A publish failure for one
// message does not stop the rest; the message stays due and is retried on
// the next tick.
func (s *RetryScheduler) RunOnce(ctx context.Context) error {
	ids, err := s.messages.FindForRetry(ctx, time.Now(), s.batchSize)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	published := 0
	for _, id := range ids {
		if err := s.dispatcher.PublishRetry(ctx, dispatch.NewEnvelope(id, dispatch.OpRetry)); err != nil {
			s.logger.Warn("retry publish failed, will retry next tick", "message_id", id, "error", err)
			continue
		}
		published++
	}

	s.logger.Info("due retries published", "found", len(ids), "published", published)
	return nil
}

// SweepPending re-enqueues pending messages whose original publish never
// made it to the transport. Run at startup. Swept messages stay PENDING
// until a worker claims them, so each id is published at most once per
// sweep to avoid spinning on a slow consumer.
func (s *RetryScheduler) SweepPending(ctx context.Context) error {
	seen := make(map[string]bool)
	total := 0
	for {
		ids, err := s.messages.FindPending(ctx, s.batchSize)
		if err != nil {
			return err
		}

		progressed := false
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			progressed = true
			if err := s.dispatcher.PublishEvent(ctx, dispatch.NewEnvelope(id, dispatch.OpProcess)); err != nil {
				s.logger.Warn("pending sweep publish failed", "message_id", id, "error", err)
				continue
			}
			total++
		}
		if !progressed || len(ids) < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("pending messages re-enqueued at startup", "count", total)
	}
	return nil
}
