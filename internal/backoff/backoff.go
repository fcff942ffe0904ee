// Package backoff computes retry delays from a config's retry policy.
// All functions are pure apart from a one-time warning on unknown strategies.
package backoff

import (
	"log/slog"
	"math"
	"sync"

	"github.com/hookline/hookline/internal/models"
)

var unknownStrategyOnce sync.Once

// Delay returns the wait in whole seconds before the next attempt.
// retryIndex is 0-based (0 = delay before the first retry). statusCode is the
// HTTP status of the failed attempt, or 0 when the failure was a transport
// error; 429 doubles the delay and 5xx scales it by 1.5. The result is
// clamped to [1, maxIntervalS].
func Delay(strategy models.BackoffStrategy, initialS int, factor float64, maxIntervalS, retryIndex, statusCode int) int {
	var d float64
	switch strategy {
	case models.BackoffFixed:
		d = float64(initialS)
	case models.BackoffLinear:
		d = float64(initialS) * float64(1+retryIndex)
	case models.BackoffExponential:
		d = float64(initialS) * math.Pow(factor, float64(retryIndex))
	default:
		unknownStrategyOnce.Do(func() {
			slog.Warn("unknown backoff strategy, falling back to exponential", "strategy", string(strategy))
		})
		d = float64(initialS) * math.Pow(2, float64(retryIndex))
	}

	switch {
	case statusCode == 429:
		d *= 2.0
	case statusCode >= 500 && statusCode <= 599:
		d *= 1.5
	}

	secs := int(d)
	if secs < 1 {
		secs = 1
	}
	if maxIntervalS >= 1 && secs > maxIntervalS {
		secs = maxIntervalS
	}
	return secs
}

// Horizon estimates the total seconds spent waiting across all retries of a
// config, ignoring response hints. Useful for surfacing the worst-case
// delivery window of a retry policy.
func Horizon(cfg *models.WebhookConfig) int {
	total := 0
	for i := 0; i < cfg.MaxRetries; i++ {
		total += Delay(cfg.BackoffStrategy, cfg.InitialIntervalS, cfg.BackoffFactor, cfg.MaxIntervalS, i, 0)
	}
	return total
}
