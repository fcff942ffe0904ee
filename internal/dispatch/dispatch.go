// Package dispatch moves message ids from ingestion to delivery workers.
// Two implementations exist: a Kafka-backed dispatcher for multi-node
// deployments and an in-process channel dispatcher for single-node mode.
// Both carry only message ids; payloads stay in the database.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/werrors"
)

// Operations carried in an envelope. A retry operation tells the worker to
// bump the retry counter before attempting delivery.
const (
	OpProcess = "process"
	OpRetry   = "retry"
)

// Envelope is the wire format published to the dispatch transport. The
// timestamp is Unix milliseconds; UUID deduplicates envelopes in logs.
type Envelope struct {
	MessageID  string `json:"message_id"`
	Timestamp  int64  `json:"timestamp"`
	UUID       string `json:"uuid"`
	Operation  string `json:"operation,omitempty"`
	TargetNode string `json:"target_node,omitempty"`
}

// NewEnvelope builds an envelope for a message with the given operation.
func NewEnvelope(messageID, operation string) *Envelope {
	return &Envelope{
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
		UUID:      uuid.NewString(),
		Operation: operation,
	}
}

// Encode serializes the envelope for the transport.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses an envelope off the transport.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, werrors.Wrap(werrors.KindInvalidPayload, werrors.PhaseDelivery, "malformed dispatch envelope", err)
	}
	if env.MessageID == "" {
		return nil, werrors.E(werrors.KindInvalidPayload, "dispatch envelope has no message id")
	}
	return &env, nil
}

// Handler consumes envelopes delivered by the transport. Errors are logged
// by the dispatcher; the envelope is not redelivered.
type Handler func(ctx context.Context, env *Envelope) error

// Dispatcher publishes and consumes delivery envelopes. Subscribe must be
// called before Start.
type Dispatcher interface {
	// PublishEvent enqueues a newly ingested message for first delivery.
	PublishEvent(ctx context.Context, env *Envelope) error
	// PublishRetry enqueues a due retry.
	PublishRetry(ctx context.Context, env *Envelope) error
	// PublishBalancing hands a message to a specific node.
	PublishBalancing(ctx context.Context, env *Envelope) error

	Subscribe(handler Handler)
	Start(ctx context.Context) error
	Stop() error

	// Healthy reports whether the transport is usable right now.
	Healthy() bool
}
