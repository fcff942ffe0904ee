package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
	"github.com/hookline/hookline/internal/werrors"
)

// MessageService exposes the operator-facing message lifecycle operations:
// inspection, search, cancellation, and manual retries.
type MessageService struct {
	messages   repository.MessageRepository
	attempts   repository.AttemptRepository
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(messages repository.MessageRepository, attempts repository.AttemptRepository, dispatcher dispatch.Dispatcher, logger *slog.Logger) *MessageService {
	return &MessageService{
		messages:   messages,
		attempts:   attempts,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// MessageDetail is a message together with its delivery attempt history.
type MessageDetail struct {
	Message  *models.Message
	Attempts []*models.DeliveryAttempt
}

// Get returns a message with its most recent attempts.
func (s *MessageService) Get(ctx context.Context, id string) (*MessageDetail, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "message lookup failed", err)
	}
	if msg == nil {
		return nil, werrors.Ef(werrors.KindNotFound, "message %q not found", id)
	}

	attempts, err := s.attempts.GetByMessageID(ctx, id, 20)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "attempt lookup failed", err).WithMessage(id)
	}
	return &MessageDetail{Message: msg, Attempts: attempts}, nil
}

// Search returns messages matching the filters.
func (s *MessageService) Search(ctx context.Context, filters repository.SearchFilters) ([]*models.Message, error) {
	return s.messages.Search(ctx, filters)
}

// Cancel stops future delivery of a message. Cancelling a terminal message
// is a conflict; an attempt already in flight may still complete, but its
// outcome will not overwrite the cancellation.
func (s *MessageService) Cancel(ctx context.Context, id string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "message lookup failed", err)
	}
	if msg == nil {
		return nil, werrors.Ef(werrors.KindNotFound, "message %q not found", id)
	}

	mutated, err := s.messages.Cancel(ctx, id)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "cancel failed", err).WithMessage(id)
	}
	if !mutated {
		return nil, werrors.Ef(werrors.KindStorageConflict, "message %q is already terminal", id).WithMessage(id)
	}

	s.logger.Info("message cancelled", "message_id", id, "webhook", msg.WebhookName, "was", msg.Status)
	return s.messages.GetByID(ctx, id)
}

// Retry schedules an immediate redelivery of a failed message. An optional
// target URL redirects the retry (and all subsequent attempts).
func (s *MessageService) Retry(ctx context.Context, id, targetURL string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseRetryScheduling, "message lookup failed", err)
	}
	if msg == nil {
		return nil, werrors.Ef(werrors.KindNotFound, "message %q not found", id)
	}
	if msg.Status != models.StatusFailed {
		return nil, werrors.Ef(werrors.KindStorageConflict,
			"message %q is %s; only failed messages can be retried", id, msg.Status).WithMessage(id)
	}

	if targetURL != "" {
		if !strings.HasPrefix(targetURL, "http://") && !strings.HasPrefix(targetURL, "https://") {
			return nil, werrors.E(werrors.KindConfiguration, "target_url must be an http(s) URL").WithMessage(id)
		}
		if err := s.messages.UpdateTargetURL(ctx, id, targetURL); err != nil {
			return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseRetryScheduling, "target url update failed", err).WithMessage(id)
		}
	}

	now := time.Now()
	ok, err := s.messages.ScheduleRetryNow(ctx, id, now)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseRetryScheduling, "retry schedule failed", err).WithMessage(id)
	}
	if !ok {
		// Raced with another transition between the read and the update.
		return nil, werrors.Ef(werrors.KindStorageConflict, "message %q changed state during retry", id).WithMessage(id)
	}

	if err := s.dispatcher.PublishRetry(ctx, dispatch.NewEnvelope(id, dispatch.OpRetry)); err != nil {
		// The retry is due in the database; the scheduler will publish it
		// on its next tick even though this publish failed.
		s.logger.Warn("retry publish failed, scheduler will pick it up", "message_id", id, "error", err)
	}

	s.logger.Info("manual retry scheduled", "message_id", id, "webhook", msg.WebhookName, "target_override", targetURL != "")
	return s.messages.GetByID(ctx, id)
}

// BulkRetryRequest selects which failed messages to reschedule. Explicit
// MessageIDs take precedence; otherwise messages are picked by the optional
// webhook name and time range filters.
type BulkRetryRequest struct {
	MessageIDs     []string
	WebhookName    string
	TimeRangeHours int
	Limit          int
	DestinationURL string
}

// BulkRetryResult summarizes a bulk retry request.
type BulkRetryResult struct {
	Requested int
	Scheduled int
	Skipped   []string
}

// BulkRetry schedules immediate redelivery for a batch of failed messages.
// Messages that changed state under us, or ids that do not name a failed
// message, are skipped, not errors.
func (s *MessageService) BulkRetry(ctx context.Context, req BulkRetryRequest) (*BulkRetryResult, error) {
	if req.DestinationURL != "" && !strings.HasPrefix(req.DestinationURL, "http://") && !strings.HasPrefix(req.DestinationURL, "https://") {
		return nil, werrors.E(werrors.KindConfiguration, "destination_url must be an http(s) URL")
	}

	result := &BulkRetryResult{}
	failed, err := s.selectForBulkRetry(ctx, req, result)
	if err != nil {
		return nil, err
	}
	result.Requested += len(failed)

	now := time.Now()
	for _, msg := range failed {
		if msg.Status != models.StatusFailed {
			result.Skipped = append(result.Skipped, msg.ID)
			continue
		}
		if req.DestinationURL != "" {
			if err := s.messages.UpdateTargetURL(ctx, msg.ID, req.DestinationURL); err != nil {
				s.logger.Error("bulk retry target update failed", "message_id", msg.ID, "error", err)
				result.Skipped = append(result.Skipped, msg.ID)
				continue
			}
		}
		ok, err := s.messages.ScheduleRetryNow(ctx, msg.ID, now)
		if err != nil || !ok {
			result.Skipped = append(result.Skipped, msg.ID)
			continue
		}
		if err := s.dispatcher.PublishRetry(ctx, dispatch.NewEnvelope(msg.ID, dispatch.OpRetry)); err != nil {
			s.logger.Warn("bulk retry publish failed, scheduler will pick it up", "message_id", msg.ID, "error", err)
		}
		result.Scheduled++
	}

	s.logger.Info("bulk retry",
		"webhook", req.WebhookName,
		"by_id", len(req.MessageIDs) > 0,
		"requested", result.Requested,
		"scheduled", result.Scheduled,
		"skipped", len(result.Skipped))
	return result, nil
}

func (s *MessageService) selectForBulkRetry(ctx context.Context, req BulkRetryRequest, result *BulkRetryResult) ([]*models.Message, error) {
	if len(req.MessageIDs) > 0 {
		msgs := make([]*models.Message, 0, len(req.MessageIDs))
		for _, id := range req.MessageIDs {
			msg, err := s.messages.GetByID(ctx, id)
			if err != nil {
				return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseRetryScheduling, "message lookup failed", err).WithMessage(id)
			}
			if msg == nil {
				// Unknown ids are reported as skipped, not failures.
				result.Requested++
				result.Skipped = append(result.Skipped, id)
				continue
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	filters := repository.SearchFilters{
		WebhookName: req.WebhookName,
		Status:      models.StatusFailed,
		Limit:       limit,
	}
	if req.TimeRangeHours > 0 {
		filters.Since = time.Now().Add(-time.Duration(req.TimeRangeHours) * time.Hour)
	}

	failed, err := s.messages.Search(ctx, filters)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseRetryScheduling, "search failed", err).WithWebhook(req.WebhookName)
	}
	return failed, nil
}
