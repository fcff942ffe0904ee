package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/hookline/hookline/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
func Register(api huma.API, h *Handlers) {
	// --- Ingestion ---
	mw.Post(api, "/api/v1/ingest/{name}", h.Ingest.Ingest,
		mw.WithTags("Ingestion"),
		mw.WithSummary("Ingest an event"),
		mw.WithDescription("Accepts a payload for the named webhook and queues it for delivery. Returns 202 immediately; delivery is asynchronous."),
		mw.WithOperationID("ingestEvent"))

	// --- Webhooks ---
	mw.Get(api, "/api/v1/webhooks", h.Webhook.ListWebhooks,
		mw.WithTags("Webhooks"),
		mw.WithSummary("List webhooks"),
		mw.WithOperationID("listWebhooks"))
	mw.Get(api, "/api/v1/webhooks/{id}", h.Webhook.GetWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Get webhook"),
		mw.WithOperationID("getWebhook"))
	mw.Post(api, "/api/v1/webhooks", h.Webhook.CreateWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Create webhook"),
		mw.WithOperationID("createWebhook"))
	mw.Put(api, "/api/v1/webhooks/{id}", h.Webhook.UpdateWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Update webhook"),
		mw.WithOperationID("updateWebhook"))
	mw.Delete(api, "/api/v1/webhooks/{id}", h.Webhook.DeleteWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Deactivate webhook"),
		mw.WithOperationID("deleteWebhook"))
	mw.Get(api, "/api/v1/webhooks/{id}/stats", h.Health.WebhookStats,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Get webhook delivery stats"),
		mw.WithOperationID("getWebhookStats"))

	// --- Messages ---
	mw.Get(api, "/api/v1/messages", h.Message.SearchMessages,
		mw.WithTags("Messages"),
		mw.WithSummary("Search messages"),
		mw.WithOperationID("searchMessages"))
	mw.Get(api, "/api/v1/messages/{id}", h.Message.GetMessage,
		mw.WithTags("Messages"),
		mw.WithSummary("Get message with attempts"),
		mw.WithOperationID("getMessage"))
	mw.Post(api, "/api/v1/messages/{id}/cancel", h.Message.CancelMessage,
		mw.WithTags("Messages"),
		mw.WithSummary("Cancel message"),
		mw.WithOperationID("cancelMessage"))
	mw.Post(api, "/api/v1/messages/{id}/retry", h.Message.RetryMessage,
		mw.WithTags("Messages"),
		mw.WithSummary("Retry failed message"),
		mw.WithOperationID("retryMessage"))
	mw.Post(api, "/api/v1/messages/bulk-retry", h.Message.BulkRetry,
		mw.WithTags("Messages"),
		mw.WithSummary("Bulk retry failed messages"),
		mw.WithOperationID("bulkRetryMessages"))

	// --- Health ---
	mw.Get(api, "/api/v1/health", h.Health.HealthReport,
		mw.WithTags("Health"),
		mw.WithSummary("Service health report"),
		mw.WithOperationID("healthReport"))
}

// RegisterProbes registers the Kubernetes probes on the hidden API.
func RegisterProbes(api huma.API, h *Handlers) {
	mw.HiddenGet(api, "/healthz", h.Health.Livez)
	mw.HiddenGet(api, "/readyz", h.Health.Readyz)
}
