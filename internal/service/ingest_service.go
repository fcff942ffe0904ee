package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
	"github.com/hookline/hookline/internal/signature"
	"github.com/hookline/hookline/internal/werrors"
)

// IngestService accepts inbound events: it resolves the webhook config,
// canonicalizes and signs the payload, persists the message, and enqueues it
// for delivery. Persist-then-publish: a message is durable before the
// dispatch transport sees it, so a failed publish leaves a PENDING row the
// startup sweep re-enqueues instead of losing the event.
type IngestService struct {
	configs    *ConfigService
	messages   repository.MessageRepository
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(configs *ConfigService, messages repository.MessageRepository, dispatcher dispatch.Dispatcher, logger *slog.Logger) *IngestService {
	return &IngestService{
		configs:    configs,
		messages:   messages,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// IngestRequest carries one inbound event and its per-message options.
type IngestRequest struct {
	WebhookName string
	Payload     []byte
	// Headers are merged over the config's headers for this message only.
	Headers map[string]string
	// TargetURL overrides the config's destination for this message only.
	TargetURL string
	// DeliverImmediately surfaces a dispatch failure to the caller instead
	// of leaving the message PENDING for the sweep.
	DeliverImmediately bool
}

// Ingest accepts a payload for the named webhook and returns the persisted
// message. The returned message is PENDING; delivery happens asynchronously.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*models.Message, error) {
	webhookName := req.WebhookName
	cfg, err := s.configs.configs.GetActiveByName(ctx, webhookName)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseReception, "config lookup failed", err).WithWebhook(webhookName)
	}
	if cfg == nil {
		return nil, werrors.Ef(werrors.KindNotFound, "no active webhook named %q", webhookName).WithWebhook(webhookName)
	}

	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, werrors.E(werrors.KindInvalidPayload, "payload must be a valid JSON document").WithWebhook(webhookName)
	}

	targetURL := cfg.TargetURL
	if req.TargetURL != "" {
		if !strings.HasPrefix(req.TargetURL, "http://") && !strings.HasPrefix(req.TargetURL, "https://") {
			return nil, werrors.E(werrors.KindInvalidPayload, "target_url must be an http(s) URL").WithWebhook(webhookName)
		}
		targetURL = req.TargetURL
	}

	canonical := signature.Canonicalize(req.Payload)

	var sig string
	if cfg.HasSecret() {
		secret, err := s.configs.SigningSecret(cfg)
		if err != nil {
			return nil, err
		}
		sig, err = signature.Sign(canonical, []byte(secret))
		if err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		ConfigID:    cfg.ID,
		WebhookName: cfg.Name,
		Payload:     string(canonical),
		TargetURL:   targetURL,
		Signature:   sig,
		Headers:     mergeHeaders(cfg.Headers, req.Headers),
		Status:      models.StatusPending,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseReception, "message insert failed", err).WithWebhook(webhookName)
	}

	if err := s.dispatcher.PublishEvent(ctx, dispatch.NewEnvelope(msg.ID, dispatch.OpProcess)); err != nil {
		if req.DeliverImmediately {
			return nil, werrors.Wrap(werrors.KindTransportUnavailable, werrors.PhaseReception,
				"message accepted but could not be queued for immediate delivery", err).WithWebhook(webhookName).WithMessage(msg.ID)
		}
		// The message is already durable. Leave it PENDING; the startup
		// sweep or an operator retry will pick it up.
		s.logger.Warn("publish failed, message left pending",
			"message_id", msg.ID,
			"webhook", webhookName,
			"error", err)
		return msg, nil
	}

	s.logger.Info("message ingested",
		"message_id", msg.ID,
		"webhook", webhookName,
		"payload_bytes", len(canonical))
	return msg, nil
}

// mergeHeaders layers per-message headers over the config's. The caller's
// headers win on conflict; neither input map is mutated.
func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
