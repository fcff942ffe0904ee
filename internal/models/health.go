package models

import "time"

// WebhookHealthStats aggregates delivery outcomes for one config.
// Counters are monotonic and count terminal outcomes: a message increments
// TotalDelivered or TotalFailed exactly once, when it reaches a terminal
// status. AvgResponseTimeMs is an EWMA with alpha=0.3 over recent latencies.
type WebhookHealthStats struct {
	ConfigID          string
	WebhookName       string
	TotalSent         int64
	TotalDelivered    int64
	TotalFailed       int64
	AvgResponseTimeMs float64
	LastSuccessTime   *time.Time
	LastErrorTime     *time.Time
	LastError         string
	UpdatedAt         time.Time
}

// SuccessRate returns the delivery success percentage, or -1 when no
// terminal outcome has been recorded yet.
func (s *WebhookHealthStats) SuccessRate() float64 {
	if s.TotalSent == 0 {
		return -1
	}
	return float64(s.TotalDelivered) / float64(s.TotalSent) * 100
}

// Unhealthy classifies the config against the configured thresholds.
// A config with fewer than minSent terminal outcomes is never unhealthy.
func (s *WebhookHealthStats) Unhealthy(minSent int64, minRate float64) bool {
	return s.TotalSent >= minSent && s.SuccessRate() < minRate
}

// ServiceStatus is the aggregate health of the delivery service.
type ServiceStatus string

const (
	ServiceHealthy   ServiceStatus = "healthy"
	ServiceDegraded  ServiceStatus = "degraded"
	ServiceUnhealthy ServiceStatus = "unhealthy"
)
