package service

import (
	"context"
	"testing"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/models"
)

func newHealthFixture() (*HealthService, *mockHealthRepo, *mockMessageRepo, *mockDispatcher) {
	health := newMockHealthRepo()
	messages := newMockMessageRepo()
	dispatcher := newMockDispatcher()
	cfg := &config.Config{
		HealthMinSent:        5,
		HealthMinSuccessRate: 80.0,
		HealthPendingBacklog: 10,
	}
	svc := NewHealthService(health, messages, dispatcher, cfg, testLogger())
	return svc, health, messages, dispatcher
}

func TestHealthReportHealthy(t *testing.T) {
	svc, health, _, _ := newHealthFixture()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := health.RecordSuccess(ctx, "cfg1", 50); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.Status != models.ServiceHealthy {
		t.Errorf("status = %q, want healthy", report.Status)
	}
	if !report.BrokerConnected {
		t.Error("broker should be connected")
	}
	if len(report.Webhooks) != 1 || report.Webhooks[0].Unhealthy {
		t.Errorf("webhooks = %+v", report.Webhooks)
	}
}

func TestHealthReportDegradedByWebhook(t *testing.T) {
	svc, health, _, _ := newHealthFixture()
	ctx := context.Background()

	if err := health.RecordSuccess(ctx, "cfg1", 50); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := health.RecordFailure(ctx, "cfg1", "boom"); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.Status != models.ServiceDegraded {
		t.Errorf("status = %q, want degraded", report.Status)
	}
	if report.UnhealthyWebhooks != 1 {
		t.Errorf("unhealthy webhooks = %d, want 1", report.UnhealthyWebhooks)
	}
}

func TestHealthReportDegradedByBacklog(t *testing.T) {
	svc, _, messages, _ := newHealthFixture()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		msg := &models.Message{WebhookName: "orders", Status: models.StatusPending}
		if err := messages.Insert(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.Status != models.ServiceDegraded {
		t.Errorf("status = %q, want degraded", report.Status)
	}
	if report.PendingMessages != 10 {
		t.Errorf("pending = %d, want 10", report.PendingMessages)
	}
}

func TestHealthReportUnhealthyBroker(t *testing.T) {
	svc, _, _, dispatcher := newHealthFixture()
	dispatcher.unhealthy = true

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.Status != models.ServiceUnhealthy {
		t.Errorf("status = %q, want unhealthy", report.Status)
	}
}

func TestHealthLowVolumeNeverUnhealthy(t *testing.T) {
	svc, health, _, _ := newHealthFixture()
	ctx := context.Background()

	// 100% failure rate but under the volume floor.
	for i := 0; i < 4; i++ {
		if err := health.RecordFailure(ctx, "cfg1", "boom"); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if report.Status != models.ServiceHealthy {
		t.Errorf("status = %q, want healthy", report.Status)
	}
}

func TestWebhookStats(t *testing.T) {
	svc, health, _, _ := newHealthFixture()
	ctx := context.Background()

	got, err := svc.WebhookStats(ctx, "cfg1")
	if err != nil {
		t.Fatalf("WebhookStats failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil before any terminal outcome")
	}

	if err := health.RecordSuccess(ctx, "cfg1", 40); err != nil {
		t.Fatal(err)
	}
	got, err = svc.WebhookStats(ctx, "cfg1")
	if err != nil {
		t.Fatalf("WebhookStats failed: %v", err)
	}
	if got == nil || got.SuccessRate != 100 {
		t.Errorf("stats = %+v", got)
	}
}
