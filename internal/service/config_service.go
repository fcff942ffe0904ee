// Package service implements the application logic between the HTTP layer
// and the repositories: webhook config management, message ingestion, the
// message lifecycle operations, health classification, and retention cleanup.
package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hookline/hookline/internal/crypto"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
	"github.com/hookline/hookline/internal/werrors"
)

// ConfigService manages webhook configurations. Secrets are encrypted before
// they touch the database and never leave this service in plaintext except
// for signing.
type ConfigService struct {
	configs   repository.ConfigRepository
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

// NewConfigService creates a new config service. encryptor may be nil, in
// which case secrets are stored as provided.
func NewConfigService(configs repository.ConfigRepository, encryptor *crypto.Encryptor, logger *slog.Logger) *ConfigService {
	return &ConfigService{configs: configs, encryptor: encryptor, logger: logger}
}

// webhookNameRe bounds names so they are safe in URL paths and log lines.
var webhookNameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// ConfigInput carries the writable fields of a webhook config. MaxRetries is
// a pointer so an explicit zero (no retries) is distinguishable from unset.
type ConfigInput struct {
	Name             string
	TargetURL        string
	Secret           string
	Headers          map[string]string
	Active           bool
	MaxRetries       *int
	BackoffStrategy  string
	InitialIntervalS int
	BackoffFactor    float64
	MaxIntervalS     int
	MaxAgeS          int
}

func (in *ConfigInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return werrors.E(werrors.KindConfiguration, "webhook name is required")
	}
	if !webhookNameRe.MatchString(in.Name) {
		return werrors.E(werrors.KindConfiguration,
			"webhook name must be 1-64 characters of letters, digits, underscore, dot, or hyphen")
	}
	if !strings.HasPrefix(in.TargetURL, "http://") && !strings.HasPrefix(in.TargetURL, "https://") {
		return werrors.E(werrors.KindConfiguration, "target_url must be an http(s) URL")
	}
	if in.MaxRetries != nil && *in.MaxRetries < 0 {
		return werrors.E(werrors.KindConfiguration, "max_retries must not be negative")
	}
	if in.InitialIntervalS < 0 || in.MaxIntervalS < 0 || in.MaxAgeS < 0 {
		return werrors.E(werrors.KindConfiguration, "intervals must not be negative")
	}
	return nil
}

// applyDefaults fills the retry policy fields a caller left unset.
func (in *ConfigInput) applyDefaults() {
	if in.BackoffStrategy == "" {
		in.BackoffStrategy = string(models.BackoffExponential)
	}
	if in.MaxRetries == nil {
		three := 3
		in.MaxRetries = &three
	}
	if in.InitialIntervalS == 0 {
		in.InitialIntervalS = 1
	}
	if in.BackoffFactor == 0 {
		in.BackoffFactor = 2.0
	}
	if in.MaxIntervalS == 0 {
		in.MaxIntervalS = 3600
	}
	if in.MaxAgeS == 0 {
		in.MaxAgeS = 86400
	}
}

// Create registers a new webhook. The name must be unique across active and
// inactive configs.
func (s *ConfigService) Create(ctx context.Context, in *ConfigInput) (*models.WebhookConfig, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.applyDefaults()

	existing, err := s.configs.GetByName(ctx, in.Name)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config lookup failed", err)
	}
	if existing != nil {
		return nil, werrors.Ef(werrors.KindAlreadyExists, "webhook %q already exists", in.Name).WithWebhook(in.Name)
	}

	secretStored, err := s.sealSecret(in.Secret)
	if err != nil {
		return nil, err
	}

	cfg := &models.WebhookConfig{
		Name:             in.Name,
		TargetURL:        in.TargetURL,
		SecretEncrypted:  secretStored,
		Headers:          in.Headers,
		Active:           in.Active,
		MaxRetries:       *in.MaxRetries,
		BackoffStrategy:  models.BackoffStrategy(in.BackoffStrategy),
		InitialIntervalS: in.InitialIntervalS,
		BackoffFactor:    in.BackoffFactor,
		MaxIntervalS:     in.MaxIntervalS,
		MaxAgeS:          in.MaxAgeS,
	}
	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config create failed", err)
	}

	s.logger.Info("webhook config created", "webhook", cfg.Name, "config_id", cfg.ID, "active", cfg.Active)
	return cfg, nil
}

// Update rewrites an existing config. An empty Secret keeps the stored one.
func (s *ConfigService) Update(ctx context.Context, id string, in *ConfigInput) (*models.WebhookConfig, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	in.applyDefaults()

	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config lookup failed", err)
	}
	if cfg == nil {
		return nil, werrors.Ef(werrors.KindNotFound, "webhook config %q not found", id)
	}

	if in.Name != cfg.Name {
		clash, err := s.configs.GetByName(ctx, in.Name)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config lookup failed", err)
		}
		if clash != nil {
			return nil, werrors.Ef(werrors.KindAlreadyExists, "webhook %q already exists", in.Name).WithWebhook(in.Name)
		}
	}

	cfg.Name = in.Name
	cfg.TargetURL = in.TargetURL
	cfg.Headers = in.Headers
	cfg.Active = in.Active
	cfg.MaxRetries = *in.MaxRetries
	cfg.BackoffStrategy = models.BackoffStrategy(in.BackoffStrategy)
	cfg.InitialIntervalS = in.InitialIntervalS
	cfg.BackoffFactor = in.BackoffFactor
	cfg.MaxIntervalS = in.MaxIntervalS
	cfg.MaxAgeS = in.MaxAgeS

	if in.Secret != "" {
		sealed, err := s.sealSecret(in.Secret)
		if err != nil {
			return nil, err
		}
		cfg.SecretEncrypted = sealed
	}

	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config update failed", err)
	}

	s.logger.Info("webhook config updated", "webhook", cfg.Name, "config_id", cfg.ID)
	return cfg, nil
}

// Deactivate soft-deletes a config. In-flight messages keep delivering;
// new ingestion for the name stops immediately.
func (s *ConfigService) Deactivate(ctx context.Context, id string) error {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config lookup failed", err)
	}
	if cfg == nil {
		return werrors.Ef(werrors.KindNotFound, "webhook config %q not found", id)
	}
	if err := s.configs.Deactivate(ctx, id); err != nil {
		return werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config deactivate failed", err)
	}
	s.logger.Info("webhook config deactivated", "webhook", cfg.Name, "config_id", id)
	return nil
}

// Get retrieves a config by id.
func (s *ConfigService) Get(ctx context.Context, id string) (*models.WebhookConfig, error) {
	cfg, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "config lookup failed", err)
	}
	if cfg == nil {
		return nil, werrors.Ef(werrors.KindNotFound, "webhook config %q not found", id)
	}
	return cfg, nil
}

// List returns all configs.
func (s *ConfigService) List(ctx context.Context) ([]*models.WebhookConfig, error) {
	return s.configs.List(ctx)
}

// SigningSecret returns the plaintext secret for a config, or "" when the
// config has none.
func (s *ConfigService) SigningSecret(cfg *models.WebhookConfig) (string, error) {
	if !cfg.HasSecret() {
		return "", nil
	}
	if s.encryptor == nil {
		return cfg.SecretEncrypted, nil
	}
	secret, err := s.encryptor.Decrypt(cfg.SecretEncrypted)
	if err != nil {
		return "", werrors.Wrap(werrors.KindSignatureInternal, werrors.PhaseSignature,
			"failed to decrypt signing secret", err).WithWebhook(cfg.Name)
	}
	return secret, nil
}

func (s *ConfigService) sealSecret(secret string) (string, error) {
	if secret == "" || s.encryptor == nil {
		return secret, nil
	}
	sealed, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return "", werrors.Wrap(werrors.KindProcessing, werrors.PhaseValidation, "failed to encrypt secret", err)
	}
	return sealed, nil
}
