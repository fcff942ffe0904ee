// Package worker runs the delivery side of the pipeline: the delivery
// worker that executes outbound HTTP attempts, the retry scheduler that
// re-enqueues due retries, and the stuck detector that recovers messages
// orphaned by a crashed node.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hookline/hookline/internal/backoff"
	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
)

// Status codes outside 5xx that still warrant a retry.
var retriableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:  true, // 408
	http.StatusLocked:          true, // 423
	http.StatusTooEarly:        true, // 425
	http.StatusTooManyRequests: true, // 429
	449:                        true, // Retry With
}

// DeliveryWorker consumes dispatch envelopes and executes delivery attempts.
// Exactly-once processing per envelope is enforced by the compare-and-set
// claim; a worker that loses the claim drops the envelope silently.
type DeliveryWorker struct {
	repos  *repository.Repositories
	client *http.Client
	logger *slog.Logger

	node              string
	urlOverride       string
	maxResponseLog    int
	slowThreshold     time.Duration
	criticalThreshold time.Duration
}

// NewDeliveryWorker creates a delivery worker from configuration.
func NewDeliveryWorker(repos *repository.Repositories, cfg *config.Config, logger *slog.Logger) *DeliveryWorker {
	dialer := &net.Dialer{Timeout: cfg.ConnectionTimeout}
	client := &http.Client{
		Timeout: cfg.ConnectionTimeout + cfg.ReadTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   cfg.ConnectionTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   8,
		},
	}
	return &DeliveryWorker{
		repos:             repos,
		client:            client,
		logger:            logger,
		node:              cfg.NodeIdentifier,
		urlOverride:       cfg.DestinationURLOverride,
		maxResponseLog:    cfg.MaxResponseLogLength,
		slowThreshold:     cfg.SlowExecutionThreshold,
		criticalThreshold: cfg.CriticalExecutionThreshold,
	}
}

// HandleEnvelope processes one dispatch envelope end to end. It never
// returns an error for per-message delivery failures; those are recorded in
// the message state. Errors indicate infrastructure problems only.
func (w *DeliveryWorker) HandleEnvelope(ctx context.Context, env *dispatch.Envelope) error {
	ctx = logging.WithMessageID(ctx, env.MessageID)
	log := logging.FromContext(ctx, w.logger)

	msg, err := w.repos.Message.GetByID(ctx, env.MessageID)
	if err != nil {
		return fmt.Errorf("message load failed: %w", err)
	}
	if msg == nil {
		// Deleted by retention or never committed; nothing to do.
		log.Debug("envelope references unknown message, dropping")
		return nil
	}
	ctx = logging.WithWebhookName(ctx, msg.WebhookName)
	log = logging.FromContext(ctx, w.logger)

	if msg.IsTerminal() {
		log.Debug("message already terminal, dropping envelope", "status", msg.Status)
		return nil
	}

	cfg, err := w.repos.Config.GetByID(ctx, msg.ConfigID)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if cfg == nil || !cfg.Active {
		// The destination was removed under this message. Cancel rather
		// than fail so health stats are not charged for it.
		if _, err := w.repos.Message.Cancel(ctx, msg.ID); err != nil {
			return fmt.Errorf("cancel for missing config failed: %w", err)
		}
		log.Info("config missing or inactive, message cancelled")
		return nil
	}

	now := time.Now()
	claimed, err := w.repos.Message.MarkProcessing(ctx, msg.ID, w.node, now)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if claimed == 0 {
		log.Debug("lost claim race, dropping envelope")
		return nil
	}

	if env.Operation == dispatch.OpRetry {
		if err := w.repos.Message.IncrementRetryCount(ctx, msg.ID); err != nil {
			return fmt.Errorf("retry count increment failed: %w", err)
		}
		msg.RetryCount++
	}
	// Attempts are numbered 1..N: the initial delivery is attempt 1, the
	// Nth retry is attempt N+1.
	attemptNumber := msg.RetryCount + 1

	if msg.Expired(cfg.MaxAge(), now) {
		reason := fmt.Sprintf("expired: message exceeded max age of %s", cfg.MaxAge())
		if err := w.repos.Message.MarkFailed(ctx, msg.ID, reason, nil); err != nil {
			return fmt.Errorf("expiry mark failed: %w", err)
		}
		w.recordTerminalFailure(ctx, cfg.ID, reason, log)
		return nil
	}

	w.attempt(ctx, msg, cfg, attemptNumber, log)
	return nil
}

// attempt executes one outbound HTTP request and settles the message state
// from the outcome.
func (w *DeliveryWorker) attempt(ctx context.Context, msg *models.Message, cfg *models.WebhookConfig, attemptNumber int, log *slog.Logger) {
	targetURL := msg.TargetURL
	if w.urlOverride != "" {
		targetURL = w.urlOverride
	}

	attempt := &models.DeliveryAttempt{
		MessageID:      msg.ID,
		AttemptNumber:  attemptNumber,
		TargetURL:      targetURL,
		ProcessingNode: w.node,
	}

	start := time.Now()
	resp, reqErr := w.send(ctx, msg, targetURL)
	elapsed := time.Since(start)
	attempt.AttemptedAt = start
	attempt.RequestDurationMs = elapsed.Milliseconds()

	var statusCode int
	if resp != nil {
		statusCode = resp.StatusCode
		attempt.StatusCode = &statusCode
		attempt.ResponseBody = truncate(readBody(resp), w.maxResponseLog)
		attempt.ResponseHeaders = flattenHeaders(resp.Header)
	}
	if reqErr != nil {
		attempt.Error = reqErr.Error()
	}

	if err := w.repos.Attempt.Append(ctx, attempt); err != nil {
		// The attempt happened; losing its record must not change the
		// message outcome.
		log.Error("failed to persist delivery attempt", "error", err)
	}

	switch {
	case elapsed >= w.criticalThreshold:
		log.Warn("critically slow delivery", "duration", elapsed, "target", targetURL)
	case elapsed >= w.slowThreshold:
		log.Info("slow delivery", "duration", elapsed, "target", targetURL)
	}

	if reqErr == nil && statusCode >= 200 && statusCode < 300 {
		if err := w.repos.Message.MarkDelivered(ctx, msg.ID); err != nil {
			log.Error("failed to mark delivered", "error", err)
			return
		}
		if err := w.repos.Health.RecordSuccess(ctx, cfg.ID, elapsed.Milliseconds()); err != nil {
			log.Error("failed to record delivery stats", "error", err)
		}
		log.Info("message delivered",
			"status_code", statusCode,
			"attempt", attemptNumber,
			"duration_ms", elapsed.Milliseconds())
		return
	}

	reason := failureReason(statusCode, reqErr)
	retriable := reqErr != nil || isRetriableStatus(statusCode)

	if retriable && msg.RetryCount < cfg.MaxRetries {
		delayS := backoff.Delay(cfg.BackoffStrategy, cfg.InitialIntervalS, cfg.BackoffFactor,
			cfg.MaxIntervalS, msg.RetryCount, statusCode)
		next := time.Now().Add(time.Duration(delayS) * time.Second)
		if err := w.repos.Message.MarkFailed(ctx, msg.ID, reason, &next); err != nil {
			log.Error("failed to schedule retry", "error", err)
			return
		}
		log.Info("delivery failed, retry scheduled",
			"reason", reason,
			"attempt", attemptNumber,
			"next_retry_in_s", delayS)
		return
	}

	if retriable {
		// Retriable outcome with no retry budget left.
		reason = "retries exhausted: " + reason
	}
	if err := w.repos.Message.MarkFailed(ctx, msg.ID, reason, nil); err != nil {
		log.Error("failed to mark terminal failure", "error", err)
		return
	}
	w.recordTerminalFailure(ctx, cfg.ID, reason, log)
	log.Warn("message failed permanently",
		"reason", reason,
		"attempt", attemptNumber,
		"retriable", retriable)
}

func (w *DeliveryWorker) send(ctx context.Context, msg *models.Message, targetURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(msg.Payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", msg.ID)
	if msg.Signature != "" {
		req.Header.Set("X-Webhook-Signature", msg.Signature)
	}
	if msg.RetryCount > 0 {
		req.Header.Set("X-Webhook-Retry-Count", strconv.Itoa(msg.RetryCount))
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}

	return w.client.Do(req)
}

func (w *DeliveryWorker) recordTerminalFailure(ctx context.Context, configID, reason string, log *slog.Logger) {
	if err := w.repos.Health.RecordFailure(ctx, configID, reason); err != nil {
		log.Error("failed to record failure stats", "error", err)
	}
}

// isRetriableStatus classifies an HTTP status: every 5xx plus a small set
// of transient 4xx codes is worth retrying, other 4xx are permanent.
func isRetriableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return retriableStatusCodes[code]
}

func failureReason(statusCode int, reqErr error) string {
	if reqErr != nil {
		var netErr net.Error
		if errors.As(reqErr, &netErr) && netErr.Timeout() {
			return "request timed out: " + reqErr.Error()
		}
		return "request failed: " + reqErr.Error()
	}
	return fmt.Sprintf("endpoint returned HTTP %d", statusCode)
}

func readBody(resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	// Cap the read; response bodies are diagnostics, not data.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return ""
	}
	return string(data)
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
