package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hookline/hookline/internal/service"
)

// IngestHandler accepts inbound webhook payloads.
type IngestHandler struct {
	ingest *service.IngestService
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingest *service.IngestService) *IngestHandler {
	return &IngestHandler{ingest: ingest}
}

// IngestInput represents an inbound event. The payload is taken verbatim;
// canonicalization happens inside the service.
type IngestInput struct {
	Name string `path:"name" doc:"Webhook name"`
	Body struct {
		Payload            json.RawMessage   `json:"payload" doc:"Event payload, any JSON value"`
		Headers            map[string]string `json:"headers,omitempty" doc:"Per-message headers, merged over the webhook's configured headers"`
		TargetURL          string            `json:"target_url,omitempty" format:"uri" doc:"Destination override for this message only"`
		DeliverImmediately bool              `json:"deliver_immediately,omitempty" doc:"Fail the request if the message cannot be queued for delivery right away"`
	}
}

// IngestOutput represents the acceptance response.
type IngestOutput struct {
	Status int
	Body   struct {
		MessageID string `json:"message_id" doc:"ID assigned to the accepted message"`
		Status    string `json:"status" doc:"Initial message status"`
		Timestamp string `json:"timestamp" doc:"When the message was accepted"`
	}
}

// Ingest accepts a payload for a named webhook. The message is persisted
// and queued; delivery happens asynchronously.
func (h *IngestHandler) Ingest(ctx context.Context, input *IngestInput) (*IngestOutput, error) {
	msg, err := h.ingest.Ingest(ctx, service.IngestRequest{
		WebhookName:        input.Name,
		Payload:            input.Body.Payload,
		Headers:            input.Body.Headers,
		TargetURL:          input.Body.TargetURL,
		DeliverImmediately: input.Body.DeliverImmediately,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := &IngestOutput{Status: 202}
	out.Body.MessageID = msg.ID
	out.Body.Status = string(msg.Status)
	out.Body.Timestamp = msg.CreatedAt.UTC().Format(time.RFC3339)
	return out, nil
}
