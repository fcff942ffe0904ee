package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockConfigRepo is an in-memory ConfigRepository.
type mockConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*models.WebhookConfig
	nextID  int
}

func newMockConfigRepo() *mockConfigRepo {
	return &mockConfigRepo{configs: make(map[string]*models.WebhookConfig)}
}

func (m *mockConfigRepo) Create(_ context.Context, cfg *models.WebhookConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.configs {
		if existing.Name == cfg.Name {
			return fmt.Errorf("UNIQUE constraint failed: webhook_configs.name")
		}
	}
	if cfg.ID == "" {
		m.nextID++
		cfg.ID = fmt.Sprintf("cfg-%d", m.nextID)
	}
	copied := *cfg
	m.configs[cfg.ID] = &copied
	return nil
}

func (m *mockConfigRepo) Update(_ context.Context, cfg *models.WebhookConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *cfg
	m.configs[cfg.ID] = &copied
	return nil
}

func (m *mockConfigRepo) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[id]; ok {
		cfg.Active = false
	}
	return nil
}

func (m *mockConfigRepo) GetByID(_ context.Context, id string) (*models.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[id]; ok {
		copied := *cfg
		return &copied, nil
	}
	return nil, nil
}

func (m *mockConfigRepo) GetByName(_ context.Context, name string) (*models.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range m.configs {
		if cfg.Name == name {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockConfigRepo) GetActiveByName(_ context.Context, name string) (*models.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range m.configs {
		if cfg.Name == name && cfg.Active {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockConfigRepo) List(_ context.Context) ([]*models.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.WebhookConfig
	for _, cfg := range m.configs {
		copied := *cfg
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// mockMessageRepo is an in-memory MessageRepository with the same CAS
// semantics as the SQLite implementation.
type mockMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	nextID   int
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{messages: make(map[string]*models.Message)}
}

func (m *mockMessageRepo) Insert(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		m.nextID++
		msg.ID = fmt.Sprintf("msg-%d", m.nextID)
	}
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	copied := *msg
	m.messages[msg.ID] = &copied
	return nil
}

func (m *mockMessageRepo) GetByID(_ context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		copied := *msg
		return &copied, nil
	}
	return nil, nil
}

func (m *mockMessageRepo) MarkProcessing(_ context.Context, id, node string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return 0, nil
	}
	claimable := msg.Status == models.StatusPending ||
		(msg.Status == models.StatusFailed && msg.NextRetry != nil && !msg.NextRetry.After(now))
	if !claimable {
		return 0, nil
	}
	msg.Status = models.StatusProcessing
	msg.ProcessingNode = node
	msg.NextRetry = nil
	msg.UpdatedAt = now
	return 1, nil
}

func (m *mockMessageRepo) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == models.StatusProcessing {
		msg.Status = models.StatusDelivered
		msg.NextRetry = nil
		msg.LastError = ""
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (m *mockMessageRepo) MarkFailed(_ context.Context, id, errMsg string, nextRetry *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok && msg.Status == models.StatusProcessing {
		msg.Status = models.StatusFailed
		msg.LastError = errMsg
		msg.NextRetry = nextRetry
		msg.UpdatedAt = time.Now()
	}
	return nil
}

func (m *mockMessageRepo) IncrementRetryCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		msg.RetryCount++
	}
	return nil
}

func (m *mockMessageRepo) Cancel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, nil
	}
	cancellable := msg.Status == models.StatusPending ||
		msg.Status == models.StatusProcessing ||
		(msg.Status == models.StatusFailed && msg.NextRetry != nil)
	if !cancellable {
		return false, nil
	}
	msg.Status = models.StatusCancelled
	msg.NextRetry = nil
	msg.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockMessageRepo) ScheduleRetryNow(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Status != models.StatusFailed {
		return false, nil
	}
	t := now
	msg.NextRetry = &t
	msg.UpdatedAt = now
	return true, nil
}

func (m *mockMessageRepo) UpdateTargetURL(_ context.Context, id, targetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		msg.TargetURL = targetURL
	}
	return nil
}

func (m *mockMessageRepo) FindForRetry(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, msg := range m.messages {
		if msg.Status == models.StatusFailed && msg.NextRetry != nil && !msg.NextRetry.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockMessageRepo) FindPending(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, msg := range m.messages {
		if msg.Status == models.StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockMessageRepo) FindStuck(_ context.Context, threshold time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, msg := range m.messages {
		if msg.Status == models.StatusProcessing && msg.UpdatedAt.Before(threshold) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockMessageRepo) Search(_ context.Context, filters repository.SearchFilters) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.messages {
		if filters.WebhookName != "" && msg.WebhookName != filters.WebhookName {
			continue
		}
		if filters.Status != "" && msg.Status != filters.Status {
			continue
		}
		if !filters.Since.IsZero() && msg.CreatedAt.Before(filters.Since) {
			continue
		}
		if !filters.Until.IsZero() && msg.CreatedAt.After(filters.Until) {
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMessageRepo) CountByStatus(_ context.Context, status models.MessageStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *mockMessageRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, statuses []models.MessageStatus, batch int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, msg := range m.messages {
		if deleted >= int64(batch) {
			break
		}
		if !msg.CreatedAt.Before(cutoff) {
			continue
		}
		for _, s := range statuses {
			if msg.Status == s {
				delete(m.messages, id)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}

// mockAttemptRepo is an in-memory AttemptRepository.
type mockAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string][]*models.DeliveryAttempt
}

func newMockAttemptRepo() *mockAttemptRepo {
	return &mockAttemptRepo{attempts: make(map[string][]*models.DeliveryAttempt)}
}

func (m *mockAttemptRepo) Append(_ context.Context, attempt *models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attempts[attempt.MessageID] {
		if existing.AttemptNumber == attempt.AttemptNumber {
			return fmt.Errorf("UNIQUE constraint failed: delivery_attempts.attempt_number")
		}
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now()
	}
	copied := *attempt
	m.attempts[attempt.MessageID] = append(m.attempts[attempt.MessageID], &copied)
	return nil
}

func (m *mockAttemptRepo) GetByMessageID(_ context.Context, messageID string, limit int) ([]*models.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.attempts[messageID]
	out := make([]*models.DeliveryAttempt, 0, len(list))
	for _, a := range list {
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber > out[j].AttemptNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockAttemptRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, list := range m.attempts {
		var kept []*models.DeliveryAttempt
		for _, a := range list {
			if deleted < int64(batch) && a.AttemptedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, a)
		}
		m.attempts[id] = kept
	}
	return deleted, nil
}

// mockHealthRepo is an in-memory HealthRepository.
type mockHealthRepo struct {
	mu    sync.Mutex
	stats map[string]*models.WebhookHealthStats
}

func newMockHealthRepo() *mockHealthRepo {
	return &mockHealthRepo{stats: make(map[string]*models.WebhookHealthStats)}
}

func (m *mockHealthRepo) row(configID string) *models.WebhookHealthStats {
	if s, ok := m.stats[configID]; ok {
		return s
	}
	s := &models.WebhookHealthStats{ConfigID: configID}
	m.stats[configID] = s
	return s
}

func (m *mockHealthRepo) RecordSuccess(_ context.Context, configID string, latencyMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(configID)
	s.TotalSent++
	s.TotalDelivered++
	if s.AvgResponseTimeMs == 0 {
		s.AvgResponseTimeMs = float64(latencyMs)
	} else {
		s.AvgResponseTimeMs = s.AvgResponseTimeMs*0.7 + float64(latencyMs)*0.3
	}
	now := time.Now()
	s.LastSuccessTime = &now
	return nil
}

func (m *mockHealthRepo) RecordFailure(_ context.Context, configID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(configID)
	s.TotalSent++
	s.TotalFailed++
	s.LastError = reason
	now := time.Now()
	s.LastErrorTime = &now
	return nil
}

func (m *mockHealthRepo) GetByConfigID(_ context.Context, configID string) (*models.WebhookHealthStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[configID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (m *mockHealthRepo) List(_ context.Context) ([]*models.WebhookHealthStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.WebhookHealthStats
	for _, s := range m.stats {
		copied := *s
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ConfigID < all[j].ConfigID })
	return all, nil
}

func (m *mockHealthRepo) ListUnhealthy(_ context.Context, minSent int64, minRate float64) ([]*models.WebhookHealthStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WebhookHealthStats
	for _, s := range m.stats {
		if s.Unhealthy(minSent, minRate) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

// mockDispatcher records published envelopes.
type mockDispatcher struct {
	mu         sync.Mutex
	events     []*dispatch.Envelope
	retries    []*dispatch.Envelope
	balancing  []*dispatch.Envelope
	failEvents bool
	unhealthy  bool
	handler    dispatch.Handler
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{}
}

func (m *mockDispatcher) PublishEvent(_ context.Context, env *dispatch.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEvents {
		return fmt.Errorf("broker unavailable")
	}
	m.events = append(m.events, env)
	return nil
}

func (m *mockDispatcher) PublishRetry(_ context.Context, env *dispatch.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, env)
	return nil
}

func (m *mockDispatcher) PublishBalancing(_ context.Context, env *dispatch.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balancing = append(m.balancing, env)
	return nil
}

func (m *mockDispatcher) Subscribe(h dispatch.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockDispatcher) Start(_ context.Context) error { return nil }
func (m *mockDispatcher) Stop() error                   { return nil }

func (m *mockDispatcher) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unhealthy
}

func (m *mockDispatcher) publishedEvents() []*dispatch.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dispatch.Envelope(nil), m.events...)
}

func (m *mockDispatcher) publishedRetries() []*dispatch.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dispatch.Envelope(nil), m.retries...)
}
