package service

import (
	"log/slog"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/crypto"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/repository"
)

// Services bundles all application services for wiring into the HTTP layer.
type Services struct {
	Config  *ConfigService
	Ingest  *IngestService
	Message *MessageService
	Health  *HealthService
	Cleanup *CleanupService
}

// New wires all services against the repositories and the dispatcher.
func New(repos *repository.Repositories, dispatcher dispatch.Dispatcher, encryptor *crypto.Encryptor, cfg *config.Config, logger *slog.Logger) *Services {
	configSvc := NewConfigService(repos.Config, encryptor, logger)
	return &Services{
		Config:  configSvc,
		Ingest:  NewIngestService(configSvc, repos.Message, dispatcher, logger),
		Message: NewMessageService(repos.Message, repos.Attempt, dispatcher, logger),
		Health:  NewHealthService(repos.Health, repos.Message, dispatcher, cfg, logger),
		Cleanup: NewCleanupService(repos.Message, repos.Attempt, cfg, logger),
	}
}
