package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/repository"
)

// StuckDetector recovers messages orphaned in PROCESSING by a crashed or
// partitioned node: anything processing longer than the threshold is moved
// back to FAILED with a near-future retry so the scheduler re-enqueues it.
type StuckDetector struct {
	messages  repository.MessageRepository
	interval  time.Duration
	threshold time.Duration
	offset    time.Duration
	logger    *slog.Logger
}

// NewStuckDetector creates a stuck detector from configuration.
func NewStuckDetector(messages repository.MessageRepository, cfg *config.Config, logger *slog.Logger) *StuckDetector {
	return &StuckDetector{
		messages:  messages,
		interval:  cfg.StuckDetectorInterval,
		threshold: cfg.StuckThreshold,
		offset:    cfg.StuckNextRetryOffset,
		logger:    logger,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (d *StuckDetector) Run(ctx context.Context) {
	d.logger.Info("stuck detector started", "interval", d.interval, "threshold", d.threshold)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("stuck detector stopped")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.Error("stuck scan failed", "error", err)
			}
		}
	}
}

// RunOnce recovers all currently stuck messages and returns how many it
// touched. Also run once at boot, where every PROCESSING message is by
// definition orphaned.
func (d *StuckDetector) RunOnce(ctx context.Context) (int, error) {
	ids, err := d.messages.FindStuck(ctx, time.Now().Add(-d.threshold))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		next := time.Now().Add(d.offset)
		if err := d.messages.MarkFailed(ctx, id, "recovered from stuck", &next); err != nil {
			d.logger.Error("stuck recovery failed", "message_id", id, "error", err)
			continue
		}
		recovered++
		d.logger.Warn("stuck message recovered", "message_id", id, "next_retry_at", next)
	}

	return recovered, nil
}

// RecoverAtBoot reclaims every message left in PROCESSING regardless of
// age. Called before the dispatcher starts, when no worker can own one.
func (d *StuckDetector) RecoverAtBoot(ctx context.Context) (int, error) {
	ids, err := d.messages.FindStuck(ctx, time.Now().Add(time.Second))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		next := time.Now().Add(d.offset)
		if err := d.messages.MarkFailed(ctx, id, "recovered after restart", &next); err != nil {
			d.logger.Error("boot recovery failed", "message_id", id, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		d.logger.Info("processing messages recovered after restart", "count", recovered)
	}
	return recovered, nil
}
