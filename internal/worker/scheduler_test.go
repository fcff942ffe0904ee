package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/models"
)

// recordingDispatcher captures published envelopes for assertions.
type recordingDispatcher struct {
	mu      sync.Mutex
	events  []*dispatch.Envelope
	retries []*dispatch.Envelope
	fail    bool
}

func (d *recordingDispatcher) PublishEvent(_ context.Context, env *dispatch.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return fmt.Errorf("broker unavailable")
	}
	d.events = append(d.events, env)
	return nil
}

func (d *recordingDispatcher) PublishRetry(_ context.Context, env *dispatch.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return fmt.Errorf("broker unavailable")
	}
	d.retries = append(d.retries, env)
	return nil
}

func (d *recordingDispatcher) PublishBalancing(_ context.Context, _ *dispatch.Envelope) error {
	return nil
}

func (d *recordingDispatcher) Subscribe(dispatch.Handler)        {}
func (d *recordingDispatcher) Start(context.Context) error       { return nil }
func (d *recordingDispatcher) Stop() error                       { return nil }
func (d *recordingDispatcher) Healthy() bool                     { return !d.fail }

func (d *recordingDispatcher) retryIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, len(d.retries))
	for i, env := range d.retries {
		ids[i] = env.MessageID
	}
	return ids
}

func (d *recordingDispatcher) eventIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, len(d.events))
	for i, env := range d.events {
		ids[i] = env.MessageID
	}
	return ids
}

func TestRetrySchedulerPublishesDueRetries(t *testing.T) {
	repos, db := setupTestRepos(t)
	cfg := insertConfig(t, repos, "orders", "http://127.0.0.1:1", 3)

	due := insertMessage(t, repos, cfg, models.StatusPending)
	future := insertMessage(t, repos, cfg, models.StatusPending)
	if _, err := db.Exec(`UPDATE messages SET status = 'failed', next_retry_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute).UTC().Format(time.RFC3339), due.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE messages SET status = 'failed', next_retry_at = ? WHERE id = ?`,
		time.Now().Add(time.Hour).UTC().Format(time.RFC3339), future.ID); err != nil {
		t.Fatal(err)
	}

	d := &recordingDispatcher{}
	s := NewRetryScheduler(repos.Message, d, workerConfig(), testLogger())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	ids := d.retryIDs()
	if len(ids) != 1 || ids[0] != due.ID {
		t.Errorf("published retries = %v, want [%s]", ids, due.ID)
	}

	if len(d.retries) > 0 && d.retries[0].Operation != dispatch.OpRetry {
		t.Errorf("operation = %q, want retry", d.retries[0].Operation)
	}
}

func TestRetrySchedulerPublishFailureKeepsMessageDue(t *testing.T) {
	repos, db := setupTestRepos(t)
	cfg := insertConfig(t, repos, "orders", "http://127.0.0.1:1", 3)
	due := insertMessage(t, repos, cfg, models.StatusPending)
	if _, err := db.Exec(`UPDATE messages SET status = 'failed', next_retry_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute).UTC().Format(time.RFC3339), due.ID); err != nil {
		t.Fatal(err)
	}

	d := &recordingDispatcher{fail: true}
	s := NewRetryScheduler(repos.Message, d, workerConfig(), testLogger())
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce should not fail on publish errors: %v", err)
	}

	// Still due: next tick will find it again.
	ids, _ := repos.Message.FindForRetry(context.Background(), time.Now(), 10)
	if len(ids) != 1 || ids[0] != due.ID {
		t.Errorf("message no longer due after failed publish: %v", ids)
	}
}

func TestSweepPendingRepublishes(t *testing.T) {
	repos, _ := setupTestRepos(t)
	cfg := insertConfig(t, repos, "orders", "http://127.0.0.1:1", 3)

	p1 := insertMessage(t, repos, cfg, models.StatusPending)
	p2 := insertMessage(t, repos, cfg, models.StatusPending)
	insertMessage(t, repos, cfg, models.StatusDelivered)

	d := &recordingDispatcher{}
	s := NewRetryScheduler(repos.Message, d, workerConfig(), testLogger())
	if err := s.SweepPending(context.Background()); err != nil {
		t.Fatalf("SweepPending failed: %v", err)
	}

	ids := d.eventIDs()
	if len(ids) != 2 {
		t.Fatalf("swept %d messages, want 2: %v", len(ids), ids)
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[p1.ID] || !seen[p2.ID] {
		t.Errorf("swept ids = %v", ids)
	}
}

func TestSweepPendingTerminatesWhenConsumersAreSlow(t *testing.T) {
	repos, _ := setupTestRepos(t)
	cfg := insertConfig(t, repos, "orders", "http://127.0.0.1:1", 3)

	// More pending messages than one batch; none get claimed because no
	// worker is consuming. The sweep must still terminate.
	wcfg := workerConfig()
	wcfg.RetryBatchSize = 2
	for i := 0; i < 5; i++ {
		insertMessage(t, repos, cfg, models.StatusPending)
	}

	d := &recordingDispatcher{}
	s := NewRetryScheduler(repos.Message, d, wcfg, testLogger())

	done := make(chan error, 1)
	go func() { done <- s.SweepPending(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SweepPending failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SweepPending did not terminate")
	}

	// Each pending message published at most once.
	counts := make(map[string]int)
	for _, id := range d.eventIDs() {
		counts[id]++
	}
	for id, n := range counts {
		if n > 1 {
			t.Errorf("message %s published %d times", id, n)
		}
	}
}
