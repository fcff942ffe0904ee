package handlers

import (
	"context"
	"time"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
	"github.com/hookline/hookline/internal/service"
)

// MessageHandler handles message inspection and lifecycle endpoints.
type MessageHandler struct {
	messages *service.MessageService
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID             string            `json:"id" doc:"Message ID"`
	WebhookName    string            `json:"webhook_name" doc:"Webhook this message belongs to"`
	TargetURL      string            `json:"target_url" doc:"Current delivery destination"`
	Status         string            `json:"status" enum:"pending,processing,delivered,failed,cancelled" doc:"Lifecycle status"`
	RetryCount     int               `json:"retry_count" doc:"Retries attempted so far"`
	NextRetryAt    *string           `json:"next_retry_at,omitempty" doc:"When the next retry is due"`
	LastError      string            `json:"last_error,omitempty" doc:"Most recent failure reason"`
	ProcessingNode string            `json:"processing_node,omitempty" doc:"Node that last claimed the message"`
	Payload        string            `json:"payload,omitempty" doc:"Canonical payload as accepted"`
	Headers        map[string]string `json:"headers,omitempty" doc:"Headers captured at ingestion"`
	CreatedAt      string            `json:"created_at" doc:"Ingestion timestamp"`
	UpdatedAt      string            `json:"updated_at" doc:"Last transition timestamp"`
}

// AttemptResponse represents one delivery attempt in API responses.
type AttemptResponse struct {
	AttemptNumber     int               `json:"attempt_number" doc:"1 for the initial delivery, then 2..N+1 for retries"`
	AttemptedAt       string            `json:"attempted_at" doc:"When the request was made"`
	TargetURL         string            `json:"target_url" doc:"URL the request was sent to"`
	StatusCode        *int              `json:"status_code,omitempty" doc:"HTTP status, absent on network failure"`
	ResponseBody      string            `json:"response_body,omitempty" doc:"Truncated response body"`
	ResponseHeaders   map[string]string `json:"response_headers,omitempty" doc:"Response headers"`
	RequestDurationMs int64             `json:"request_duration_ms" doc:"Round-trip time in milliseconds"`
	Error             string            `json:"error,omitempty" doc:"Transport error, if any"`
}

func messageToResponse(msg *models.Message, includePayload bool) MessageResponse {
	resp := MessageResponse{
		ID:             msg.ID,
		WebhookName:    msg.WebhookName,
		TargetURL:      msg.TargetURL,
		Status:         string(msg.Status),
		RetryCount:     msg.RetryCount,
		LastError:      msg.LastError,
		ProcessingNode: msg.ProcessingNode,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      msg.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if msg.NextRetry != nil {
		s := msg.NextRetry.UTC().Format(time.RFC3339)
		resp.NextRetryAt = &s
	}
	if includePayload {
		resp.Payload = msg.Payload
		resp.Headers = msg.Headers
	}
	return resp
}

func attemptToResponse(a *models.DeliveryAttempt) AttemptResponse {
	return AttemptResponse{
		AttemptNumber:     a.AttemptNumber,
		AttemptedAt:       a.AttemptedAt.UTC().Format(time.RFC3339),
		TargetURL:         a.TargetURL,
		StatusCode:        a.StatusCode,
		ResponseBody:      a.ResponseBody,
		ResponseHeaders:   a.ResponseHeaders,
		RequestDurationMs: a.RequestDurationMs,
		Error:             a.Error,
	}
}

// GetMessageInput represents the get message request.
type GetMessageInput struct {
	ID string `path:"id" doc:"Message ID"`
}

// GetMessageOutput represents the get message response.
type GetMessageOutput struct {
	Body struct {
		Message  MessageResponse   `json:"message" doc:"The message"`
		Attempts []AttemptResponse `json:"attempts" doc:"Delivery attempts, most recent first"`
	}
}

// GetMessage returns a message with its delivery attempt history.
func (h *MessageHandler) GetMessage(ctx context.Context, input *GetMessageInput) (*GetMessageOutput, error) {
	detail, err := h.messages.Get(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}

	out := &GetMessageOutput{}
	out.Body.Message = messageToResponse(detail.Message, true)
	out.Body.Attempts = make([]AttemptResponse, 0, len(detail.Attempts))
	for _, a := range detail.Attempts {
		out.Body.Attempts = append(out.Body.Attempts, attemptToResponse(a))
	}
	return out, nil
}

// SearchMessagesInput represents the message search request.
type SearchMessagesInput struct {
	WebhookName string    `query:"webhook_name" doc:"Filter by webhook name"`
	Status      string    `query:"status" enum:"pending,processing,delivered,failed,cancelled" required:"false" doc:"Filter by status"`
	Since       time.Time `query:"since" doc:"Only messages created at or after this time"`
	Until       time.Time `query:"until" doc:"Only messages created before this time"`
	Limit       int       `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
	Offset      int       `query:"offset" minimum:"0" doc:"Page offset"`
}

// SearchMessagesOutput represents the message search response.
type SearchMessagesOutput struct {
	Body struct {
		Messages []MessageResponse `json:"messages" doc:"Matching messages, newest first"`
		Count    int               `json:"count" doc:"Number of messages in this page"`
	}
}

// SearchMessages returns messages matching the filters, newest first.
// Payloads are omitted from search results; fetch a single message for those.
func (h *MessageHandler) SearchMessages(ctx context.Context, input *SearchMessagesInput) (*SearchMessagesOutput, error) {
	msgs, err := h.messages.Search(ctx, repository.SearchFilters{
		WebhookName: input.WebhookName,
		Status:      models.MessageStatus(input.Status),
		Since:       input.Since,
		Until:       input.Until,
		Limit:       input.Limit,
		Offset:      input.Offset,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := &SearchMessagesOutput{}
	out.Body.Messages = make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out.Body.Messages = append(out.Body.Messages, messageToResponse(msg, false))
	}
	out.Body.Count = len(out.Body.Messages)
	return out, nil
}

// CancelMessageInput represents the cancel message request.
type CancelMessageInput struct {
	ID string `path:"id" doc:"Message ID"`
}

// CancelMessageOutput represents the cancel message response.
type CancelMessageOutput struct {
	Body MessageResponse
}

// CancelMessage stops future delivery of a message.
func (h *MessageHandler) CancelMessage(ctx context.Context, input *CancelMessageInput) (*CancelMessageOutput, error) {
	msg, err := h.messages.Cancel(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &CancelMessageOutput{Body: messageToResponse(msg, false)}, nil
}

// RetryMessageInput represents the manual retry request.
type RetryMessageInput struct {
	ID   string `path:"id" doc:"Message ID"`
	Body struct {
		TargetURL string `json:"target_url,omitempty" format:"uri" doc:"Optional replacement destination for this and later attempts"`
	}
}

// RetryMessageOutput represents the manual retry response.
type RetryMessageOutput struct {
	Status int
	Body   MessageResponse
}

// RetryMessage schedules an immediate redelivery of a failed message.
func (h *MessageHandler) RetryMessage(ctx context.Context, input *RetryMessageInput) (*RetryMessageOutput, error) {
	msg, err := h.messages.Retry(ctx, input.ID, input.Body.TargetURL)
	if err != nil {
		return nil, mapError(err)
	}
	return &RetryMessageOutput{Status: 202, Body: messageToResponse(msg, false)}, nil
}

// BulkRetryInput represents the bulk retry request. Explicit message_ids
// take precedence; otherwise failed messages are selected by the optional
// webhook_name and time_range_hours filters.
type BulkRetryInput struct {
	Body struct {
		MessageIDs     []string `json:"message_ids,omitempty" maxItems:"1000" doc:"Specific messages to retry"`
		WebhookName    string   `json:"webhook_name,omitempty" doc:"Only retry failed messages of this webhook"`
		TimeRangeHours int      `json:"time_range_hours,omitempty" minimum:"1" doc:"Only retry messages ingested within the last N hours"`
		Limit          int      `json:"limit,omitempty" minimum:"1" maximum:"1000" doc:"Maximum messages to schedule (default 100)"`
		DestinationURL string   `json:"destination_url,omitempty" format:"uri" doc:"Optional replacement destination"`
	}
}

// BulkRetryOutput represents the bulk retry response.
type BulkRetryOutput struct {
	Status int
	Body   struct {
		Requested int      `json:"requested" doc:"Failed messages found"`
		Scheduled int      `json:"scheduled" doc:"Messages scheduled for redelivery"`
		Skipped   []string `json:"skipped,omitempty" doc:"Message IDs skipped because they changed state"`
	}
}

// BulkRetry schedules redelivery for a batch of failed messages.
func (h *MessageHandler) BulkRetry(ctx context.Context, input *BulkRetryInput) (*BulkRetryOutput, error) {
	result, err := h.messages.BulkRetry(ctx, service.BulkRetryRequest{
		MessageIDs:     input.Body.MessageIDs,
		WebhookName:    input.Body.WebhookName,
		TimeRangeHours: input.Body.TimeRangeHours,
		Limit:          input.Body.Limit,
		DestinationURL: input.Body.DestinationURL,
	})
	if err != nil {
		return nil, mapError(err)
	}

	out := &BulkRetryOutput{Status: 202}
	out.Body.Requested = result.Requested
	out.Body.Scheduled = result.Scheduled
	out.Body.Skipped = result.Skipped
	return out, nil
}
