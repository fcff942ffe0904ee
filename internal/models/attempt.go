package models

import "time"

// DeliveryAttempt is one outbound HTTP request for a message. Attempts form
// an append-only log: (MessageID, AttemptNumber) is unique and rows are never
// mutated after insert. Response body and headers are truncated before
// persistence.
type DeliveryAttempt struct {
	ID                string
	MessageID         string
	AttemptNumber     int
	AttemptedAt       time.Time
	TargetURL         string
	StatusCode        *int
	ResponseBody      string
	ResponseHeaders   map[string]string
	RequestDurationMs int64
	Error             string
	ProcessingNode    string
}

// Succeeded reports whether the target acknowledged with a 2xx.
func (a *DeliveryAttempt) Succeeded() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}
