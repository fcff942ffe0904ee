package routes

import (
	"github.com/hookline/hookline/internal/http/handlers"
	"github.com/hookline/hookline/internal/service"
)

// Handlers bundles the handler implementations the route table needs.
type Handlers struct {
	Ingest  *handlers.IngestHandler
	Webhook *handlers.WebhookHandler
	Message *handlers.MessageHandler
	Health  *handlers.HealthHandler
}

// NewHandlers wires handlers from the service layer.
func NewHandlers(services *service.Services, db handlers.DBPinger) *Handlers {
	return &Handlers{
		Ingest:  handlers.NewIngestHandler(services.Ingest),
		Webhook: handlers.NewWebhookHandler(services.Config),
		Message: handlers.NewMessageHandler(services.Message),
		Health:  handlers.NewHealthHandler(services.Health, db),
	}
}
