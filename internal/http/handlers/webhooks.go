package handlers

import (
	"context"
	"time"

	"github.com/hookline/hookline/internal/backoff"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/service"
)

// WebhookHandler handles webhook config CRUD endpoints.
type WebhookHandler struct {
	configs *service.ConfigService
}

// NewWebhookHandler creates a new webhook config handler.
func NewWebhookHandler(configs *service.ConfigService) *WebhookHandler {
	return &WebhookHandler{configs: configs}
}

// WebhookInput represents webhook config data in API requests.
type WebhookInput struct {
	Name             string            `json:"name" minLength:"1" maxLength:"64" doc:"Unique name for this webhook"`
	TargetURL        string            `json:"target_url" format:"uri" minLength:"1" doc:"Destination URL payloads are delivered to"`
	Secret           string            `json:"secret,omitempty" maxLength:"256" doc:"Secret for HMAC-SHA256 signing (leave empty to disable signing; omit on update to keep the current one)"`
	Headers          map[string]string `json:"headers,omitempty" doc:"Custom headers added to every delivery request"`
	IsActive         bool              `json:"is_active" doc:"Whether this webhook accepts new events"`
	MaxRetries       *int              `json:"max_retries,omitempty" minimum:"0" maximum:"20" doc:"Retry attempts after the initial delivery (default 3, 0 disables retries)"`
	BackoffStrategy  string            `json:"backoff_strategy,omitempty" enum:"fixed,linear,exponential" doc:"How retry delays grow (default exponential)"`
	InitialIntervalS int               `json:"initial_interval_s,omitempty" minimum:"0" doc:"First retry delay in seconds (default 1)"`
	BackoffFactor    float64           `json:"backoff_factor,omitempty" doc:"Growth factor for linear/exponential backoff (default 2.0)"`
	MaxIntervalS     int               `json:"max_interval_s,omitempty" minimum:"0" doc:"Retry delay ceiling in seconds (default 3600)"`
	MaxAgeS          int               `json:"max_age_s,omitempty" minimum:"0" doc:"Hard TTL for messages in seconds (default 86400)"`
}

// WebhookResponse represents a webhook config in API responses. The secret
// is never returned.
type WebhookResponse struct {
	ID               string            `json:"id" doc:"Unique webhook ID"`
	Name             string            `json:"name" doc:"Webhook name"`
	TargetURL        string            `json:"target_url" doc:"Destination URL"`
	HasSecret        bool              `json:"has_secret" doc:"Whether deliveries are signed"`
	Headers          map[string]string `json:"headers,omitempty" doc:"Custom headers"`
	IsActive         bool              `json:"is_active" doc:"Whether this webhook accepts new events"`
	MaxRetries       int               `json:"max_retries" doc:"Retry attempts after the initial delivery"`
	BackoffStrategy  string            `json:"backoff_strategy" doc:"Retry delay strategy"`
	InitialIntervalS int               `json:"initial_interval_s" doc:"First retry delay in seconds"`
	BackoffFactor    float64           `json:"backoff_factor" doc:"Backoff growth factor"`
	MaxIntervalS     int               `json:"max_interval_s" doc:"Retry delay ceiling in seconds"`
	MaxAgeS          int               `json:"max_age_s" doc:"Hard message TTL in seconds"`
	RetryHorizonS    int               `json:"retry_horizon_s" doc:"Worst-case total wait across all retries"`
	CreatedAt        string            `json:"created_at" doc:"Creation timestamp"`
	UpdatedAt        string            `json:"updated_at" doc:"Last update timestamp"`
}

func configToResponse(cfg *models.WebhookConfig) WebhookResponse {
	return WebhookResponse{
		ID:               cfg.ID,
		Name:             cfg.Name,
		TargetURL:        cfg.TargetURL,
		HasSecret:        cfg.HasSecret(),
		Headers:          cfg.Headers,
		IsActive:         cfg.Active,
		MaxRetries:       cfg.MaxRetries,
		BackoffStrategy:  string(cfg.BackoffStrategy),
		InitialIntervalS: cfg.InitialIntervalS,
		BackoffFactor:    cfg.BackoffFactor,
		MaxIntervalS:     cfg.MaxIntervalS,
		MaxAgeS:          cfg.MaxAgeS,
		RetryHorizonS:    backoff.Horizon(cfg),
		CreatedAt:        cfg.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        cfg.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func inputToConfigInput(in WebhookInput) *service.ConfigInput {
	return &service.ConfigInput{
		Name:             in.Name,
		TargetURL:        in.TargetURL,
		Secret:           in.Secret,
		Headers:          in.Headers,
		Active:           in.IsActive,
		MaxRetries:       in.MaxRetries,
		BackoffStrategy:  in.BackoffStrategy,
		InitialIntervalS: in.InitialIntervalS,
		BackoffFactor:    in.BackoffFactor,
		MaxIntervalS:     in.MaxIntervalS,
		MaxAgeS:          in.MaxAgeS,
	}
}

// ListWebhooksOutput represents the list webhooks response.
type ListWebhooksOutput struct {
	Body struct {
		Webhooks []WebhookResponse `json:"webhooks" doc:"All webhook configs"`
	}
}

// ListWebhooks returns all webhook configs.
func (h *WebhookHandler) ListWebhooks(ctx context.Context, _ *struct{}) (*ListWebhooksOutput, error) {
	configs, err := h.configs.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	out := &ListWebhooksOutput{}
	out.Body.Webhooks = make([]WebhookResponse, 0, len(configs))
	for _, cfg := range configs {
		out.Body.Webhooks = append(out.Body.Webhooks, configToResponse(cfg))
	}
	return out, nil
}

// GetWebhookInput represents the get webhook request.
type GetWebhookInput struct {
	ID string `path:"id" doc:"Webhook config ID"`
}

// GetWebhookOutput represents the get webhook response.
type GetWebhookOutput struct {
	Body WebhookResponse
}

// GetWebhook returns one webhook config.
func (h *WebhookHandler) GetWebhook(ctx context.Context, input *GetWebhookInput) (*GetWebhookOutput, error) {
	cfg, err := h.configs.Get(ctx, input.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &GetWebhookOutput{Body: configToResponse(cfg)}, nil
}

// CreateWebhookInput represents the create webhook request.
type CreateWebhookInput struct {
	Body WebhookInput
}

// CreateWebhookOutput represents the create webhook response.
type CreateWebhookOutput struct {
	Status int
	Body   WebhookResponse
}

// CreateWebhook registers a new webhook config.
func (h *WebhookHandler) CreateWebhook(ctx context.Context, input *CreateWebhookInput) (*CreateWebhookOutput, error) {
	cfg, err := h.configs.Create(ctx, inputToConfigInput(input.Body))
	if err != nil {
		return nil, mapError(err)
	}
	return &CreateWebhookOutput{Status: 201, Body: configToResponse(cfg)}, nil
}

// UpdateWebhookInput represents the update webhook request.
type UpdateWebhookInput struct {
	ID   string `path:"id" doc:"Webhook config ID"`
	Body WebhookInput
}

// UpdateWebhookOutput represents the update webhook response.
type UpdateWebhookOutput struct {
	Body WebhookResponse
}

// UpdateWebhook rewrites a webhook config.
func (h *WebhookHandler) UpdateWebhook(ctx context.Context, input *UpdateWebhookInput) (*UpdateWebhookOutput, error) {
	cfg, err := h.configs.Update(ctx, input.ID, inputToConfigInput(input.Body))
	if err != nil {
		return nil, mapError(err)
	}
	return &UpdateWebhookOutput{Body: configToResponse(cfg)}, nil
}

// DeleteWebhookInput represents the delete webhook request.
type DeleteWebhookInput struct {
	ID string `path:"id" doc:"Webhook config ID"`
}

// DeleteWebhookOutput represents the delete webhook response.
type DeleteWebhookOutput struct {
	Status int
}

// DeleteWebhook deactivates a webhook config. Messages already accepted
// keep delivering; new ingestion stops.
func (h *WebhookHandler) DeleteWebhook(ctx context.Context, input *DeleteWebhookInput) (*DeleteWebhookOutput, error) {
	if err := h.configs.Deactivate(ctx, input.ID); err != nil {
		return nil, mapError(err)
	}
	return &DeleteWebhookOutput{Status: 204}, nil
}
