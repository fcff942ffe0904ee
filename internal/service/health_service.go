package service

import (
	"context"
	"log/slog"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
)

// HealthService classifies per-webhook delivery health and the aggregate
// service status from the stored counters, the pending backlog, and the
// dispatch transport.
type HealthService struct {
	health     repository.HealthRepository
	messages   repository.MessageRepository
	dispatcher dispatch.Dispatcher

	minSent        int64
	minSuccessRate float64
	pendingBacklog int64
	logger         *slog.Logger
}

// NewHealthService creates a new health service.
func NewHealthService(health repository.HealthRepository, messages repository.MessageRepository, dispatcher dispatch.Dispatcher, cfg *config.Config, logger *slog.Logger) *HealthService {
	return &HealthService{
		health:         health,
		messages:       messages,
		dispatcher:     dispatcher,
		minSent:        cfg.HealthMinSent,
		minSuccessRate: cfg.HealthMinSuccessRate,
		pendingBacklog: cfg.HealthPendingBacklog,
		logger:         logger,
	}
}

// WebhookHealth is one webhook's stats with its classification applied.
type WebhookHealth struct {
	Stats       *models.WebhookHealthStats
	SuccessRate float64
	Unhealthy   bool
}

// ServiceHealth is the aggregate report.
type ServiceHealth struct {
	Status            models.ServiceStatus
	BrokerConnected   bool
	PendingMessages   int64
	UnhealthyWebhooks int
	Webhooks          []*WebhookHealth
}

// Report builds the aggregate health report. The service is unhealthy when
// the dispatch transport is down, degraded when the pending backlog crossed
// the threshold or any webhook is unhealthy, healthy otherwise.
func (s *HealthService) Report(ctx context.Context) (*ServiceHealth, error) {
	all, err := s.health.List(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := s.messages.CountByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, err
	}

	report := &ServiceHealth{
		BrokerConnected: s.dispatcher.Healthy(),
		PendingMessages: pending,
	}

	for _, stats := range all {
		wh := &WebhookHealth{
			Stats:       stats,
			SuccessRate: stats.SuccessRate(),
			Unhealthy:   stats.Unhealthy(s.minSent, s.minSuccessRate),
		}
		if wh.Unhealthy {
			report.UnhealthyWebhooks++
		}
		report.Webhooks = append(report.Webhooks, wh)
	}

	switch {
	case !report.BrokerConnected:
		report.Status = models.ServiceUnhealthy
	case report.UnhealthyWebhooks > 0 || pending >= s.pendingBacklog:
		report.Status = models.ServiceDegraded
	default:
		report.Status = models.ServiceHealthy
	}

	return report, nil
}

// WebhookStats returns stats for one config, or nil when no terminal outcome
// has been recorded yet.
func (s *HealthService) WebhookStats(ctx context.Context, configID string) (*WebhookHealth, error) {
	stats, err := s.health.GetByConfigID(ctx, configID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, nil
	}
	return &WebhookHealth{
		Stats:       stats,
		SuccessRate: stats.SuccessRate(),
		Unhealthy:   stats.Unhealthy(s.minSent, s.minSuccessRate),
	}, nil
}
