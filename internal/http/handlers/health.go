package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hookline/hookline/internal/service"
	"github.com/hookline/hookline/internal/version"
)

// DBPinger is the minimal database surface the readiness probe needs.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health report and probe endpoints.
type HealthHandler struct {
	health *service.HealthService
	db     DBPinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(health *service.HealthService, db DBPinger) *HealthHandler {
	return &HealthHandler{health: health, db: db}
}

// WebhookHealthResponse is one webhook's delivery health.
type WebhookHealthResponse struct {
	WebhookName       string  `json:"webhook_name" doc:"Webhook name"`
	TotalSent         int64   `json:"total_sent" doc:"Messages that reached a terminal status"`
	TotalDelivered    int64   `json:"total_delivered" doc:"Messages delivered"`
	TotalFailed       int64   `json:"total_failed" doc:"Messages that terminally failed"`
	SuccessRate       float64 `json:"success_rate" doc:"Delivery success percentage, -1 before any terminal outcome"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" doc:"Smoothed average delivery latency"`
	LastSuccessAt     *string `json:"last_success_at,omitempty" doc:"Most recent successful delivery"`
	LastErrorAt       *string `json:"last_error_at,omitempty" doc:"Most recent failure"`
	LastError         string  `json:"last_error,omitempty" doc:"Most recent failure reason"`
	Unhealthy         bool    `json:"unhealthy" doc:"Whether this webhook is below the success-rate threshold"`
}

// HealthReportOutput represents the service health response.
type HealthReportOutput struct {
	Body struct {
		Status            string                  `json:"status" enum:"healthy,degraded,unhealthy" doc:"Aggregate service status"`
		Version           string                  `json:"version" doc:"Service version"`
		BrokerConnected   bool                    `json:"broker_connected" doc:"Whether the dispatch transport is reachable"`
		PendingMessages   int64                   `json:"pending_messages" doc:"Messages waiting for a worker"`
		UnhealthyWebhooks int                     `json:"unhealthy_webhooks" doc:"Webhooks below the success-rate threshold"`
		Webhooks          []WebhookHealthResponse `json:"webhooks" doc:"Per-webhook delivery health"`
	}
}

// HealthReport returns the aggregate delivery health report.
func (h *HealthHandler) HealthReport(ctx context.Context, _ *struct{}) (*HealthReportOutput, error) {
	report, err := h.health.Report(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("health report failed")
	}

	out := &HealthReportOutput{}
	out.Body.Status = string(report.Status)
	out.Body.Version = version.Version
	out.Body.BrokerConnected = report.BrokerConnected
	out.Body.PendingMessages = report.PendingMessages
	out.Body.UnhealthyWebhooks = report.UnhealthyWebhooks
	out.Body.Webhooks = make([]WebhookHealthResponse, 0, len(report.Webhooks))
	for _, wh := range report.Webhooks {
		resp := WebhookHealthResponse{
			WebhookName:       wh.Stats.WebhookName,
			TotalSent:         wh.Stats.TotalSent,
			TotalDelivered:    wh.Stats.TotalDelivered,
			TotalFailed:       wh.Stats.TotalFailed,
			SuccessRate:       wh.SuccessRate,
			AvgResponseTimeMs: wh.Stats.AvgResponseTimeMs,
			LastError:         wh.Stats.LastError,
			Unhealthy:         wh.Unhealthy,
		}
		if wh.Stats.LastSuccessTime != nil {
			s := wh.Stats.LastSuccessTime.UTC().Format(time.RFC3339)
			resp.LastSuccessAt = &s
		}
		if wh.Stats.LastErrorTime != nil {
			s := wh.Stats.LastErrorTime.UTC().Format(time.RFC3339)
			resp.LastErrorAt = &s
		}
		out.Body.Webhooks = append(out.Body.Webhooks, resp)
	}
	return out, nil
}

// WebhookStatsInput represents the per-webhook stats request.
type WebhookStatsInput struct {
	ID string `path:"id" doc:"Webhook config ID"`
}

// WebhookStatsOutput represents the per-webhook stats response.
type WebhookStatsOutput struct {
	Body WebhookHealthResponse
}

// WebhookStats returns delivery stats for one webhook config.
func (h *HealthHandler) WebhookStats(ctx context.Context, input *WebhookStatsInput) (*WebhookStatsOutput, error) {
	wh, err := h.health.WebhookStats(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("stats lookup failed")
	}
	if wh == nil {
		return nil, huma.Error404NotFound("no delivery stats recorded for this webhook")
	}

	out := &WebhookStatsOutput{}
	out.Body = WebhookHealthResponse{
		WebhookName:       wh.Stats.WebhookName,
		TotalSent:         wh.Stats.TotalSent,
		TotalDelivered:    wh.Stats.TotalDelivered,
		TotalFailed:       wh.Stats.TotalFailed,
		SuccessRate:       wh.SuccessRate,
		AvgResponseTimeMs: wh.Stats.AvgResponseTimeMs,
		LastError:         wh.Stats.LastError,
		Unhealthy:         wh.Unhealthy,
	}
	if wh.Stats.LastSuccessTime != nil {
		s := wh.Stats.LastSuccessTime.UTC().Format(time.RFC3339)
		out.Body.LastSuccessAt = &s
	}
	if wh.Stats.LastErrorTime != nil {
		s := wh.Stats.LastErrorTime.UTC().Format(time.RFC3339)
		out.Body.LastErrorAt = &s
	}
	return out, nil
}

// ProbeOutput represents a liveness or readiness probe response.
type ProbeOutput struct {
	Body struct {
		Status string `json:"status" doc:"ok when the probe passes"`
	}
}

// Livez reports process liveness.
func (h *HealthHandler) Livez(_ context.Context, _ *struct{}) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// Readyz reports readiness: the database must answer a ping.
func (h *HealthHandler) Readyz(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(pingCtx); err != nil {
		return nil, huma.Error503ServiceUnavailable("database unavailable")
	}
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}
