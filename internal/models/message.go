package models

import "time"

// MessageStatus is the lifecycle state of a message. Stored as a lowercase
// string; this type is the single canonical representation everywhere.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusDelivered  MessageStatus = "delivered"
	StatusFailed     MessageStatus = "failed"
	StatusCancelled  MessageStatus = "cancelled"
)

// Message is one inbound event advancing through the state machine until it
// reaches a terminal status (delivered, cancelled, or failed with no retry
// scheduled). Payload holds the canonical JSON text as normalized at receipt;
// Signature is the HMAC computed over exactly those bytes.
type Message struct {
	ID             string
	ConfigID       string
	WebhookName    string
	Payload        string
	TargetURL      string
	Signature      string
	Headers        map[string]string
	Status         MessageStatus
	RetryCount     int
	NextRetry      *time.Time
	LastError      string
	ProcessingNode string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal reports whether no further delivery will be attempted.
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case StatusDelivered, StatusCancelled:
		return true
	case StatusFailed:
		return m.NextRetry == nil
	}
	return false
}

// Expired reports whether the message is past the config's hard TTL.
func (m *Message) Expired(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return m.CreatedAt.Add(maxAge).Before(now)
}
