package backoff

import (
	"testing"

	"github.com/hookline/hookline/internal/models"
)

func TestDelayStrategies(t *testing.T) {
	tests := []struct {
		name       string
		strategy   models.BackoffStrategy
		initial    int
		factor     float64
		max        int
		retryIndex int
		statusCode int
		want       int
	}{
		{"fixed ignores index", models.BackoffFixed, 10, 2, 3600, 5, 0, 10},
		{"linear first retry", models.BackoffLinear, 10, 2, 3600, 0, 0, 10},
		{"linear third retry", models.BackoffLinear, 10, 2, 3600, 2, 0, 30},
		{"linear clamped to max", models.BackoffLinear, 100, 2, 250, 9, 0, 250},
		{"exponential first retry", models.BackoffExponential, 1, 2, 3600, 0, 0, 1},
		{"exponential second retry", models.BackoffExponential, 1, 2, 3600, 1, 0, 2},
		{"exponential third retry", models.BackoffExponential, 1, 2, 3600, 2, 0, 4},
		{"exponential factor 3", models.BackoffExponential, 2, 3, 3600, 2, 0, 18},
		{"exponential clamped", models.BackoffExponential, 60, 2, 600, 10, 0, 600},
		{"unknown falls back to exp 2", models.BackoffStrategy("bogus"), 1, 7, 3600, 3, 0, 8},
		{"429 doubles", models.BackoffFixed, 10, 2, 3600, 0, 429, 20},
		{"503 scales 1.5x", models.BackoffFixed, 10, 2, 3600, 0, 503, 15},
		{"404 no scaling", models.BackoffFixed, 10, 2, 3600, 0, 404, 10},
		{"hint still clamped", models.BackoffFixed, 100, 2, 150, 0, 429, 150},
		{"floor of one second", models.BackoffFixed, 0, 2, 3600, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(tt.strategy, tt.initial, tt.factor, tt.max, tt.retryIndex, tt.statusCode)
			if got != tt.want {
				t.Errorf("Delay = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDelayBounds(t *testing.T) {
	strategies := []models.BackoffStrategy{
		models.BackoffFixed, models.BackoffLinear, models.BackoffExponential, "unknown",
	}
	codes := []int{0, 200, 404, 429, 500, 503}
	const max = 900

	for _, s := range strategies {
		for _, code := range codes {
			for idx := 0; idx < 20; idx++ {
				got := Delay(s, 30, 2.5, max, idx, code)
				if got < 1 || got > max {
					t.Fatalf("Delay(%s, idx=%d, code=%d) = %d out of [1, %d]", s, idx, code, got, max)
				}
			}
		}
	}
}

func TestHorizon(t *testing.T) {
	cfg := &models.WebhookConfig{
		MaxRetries:       3,
		BackoffStrategy:  models.BackoffExponential,
		InitialIntervalS: 1,
		BackoffFactor:    2,
		MaxIntervalS:     3600,
	}
	// 1 + 2 + 4
	if got := Horizon(cfg); got != 7 {
		t.Errorf("Horizon = %d, want 7", got)
	}

	cfg.MaxRetries = 0
	if got := Horizon(cfg); got != 0 {
		t.Errorf("Horizon with no retries = %d, want 0", got)
	}
}
