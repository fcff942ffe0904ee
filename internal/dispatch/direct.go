package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/werrors"
)

// DirectDispatcher is the single-node transport: a bounded in-process queue
// drained by a pool of handler goroutines. Publishing blocks briefly when
// the queue is full and then fails with a publish timeout, which leaves the
// message in PENDING for the startup sweep or retry scheduler to recover.
type DirectDispatcher struct {
	queue          chan *Envelope
	concurrency    int
	publishTimeout time.Duration
	logger         *slog.Logger

	mu      sync.RWMutex
	handler Handler
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDirectDispatcher creates an in-process dispatcher from configuration.
func NewDirectDispatcher(cfg *config.Config, logger *slog.Logger) *DirectDispatcher {
	return &DirectDispatcher{
		queue:          make(chan *Envelope, cfg.MaxInFlight),
		concurrency:    cfg.WorkerConcurrency,
		publishTimeout: cfg.ProducerSendTimeout,
		logger:         logger,
	}
}

// Subscribe registers the envelope handler. Must be called before Start.
func (d *DirectDispatcher) Subscribe(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Start launches the handler pool.
func (d *DirectDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return werrors.E(werrors.KindConfiguration, "direct dispatcher already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.started = true

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.run(runCtx)
	}

	d.logger.Info("direct dispatcher started",
		"concurrency", d.concurrency,
		"queue_capacity", cap(d.queue))
	return nil
}

func (d *DirectDispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-d.queue:
			d.mu.RLock()
			handler := d.handler
			d.mu.RUnlock()
			if handler == nil {
				continue
			}
			if err := handler(ctx, env); err != nil {
				d.logger.Error("envelope handler failed",
					"message_id", env.MessageID,
					"operation", env.Operation,
					"error", err)
			}
		}
	}
}

// Stop drains the pool. Queued envelopes that were never handled stay in
// PENDING and are re-enqueued on the next boot.
func (d *DirectDispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("direct dispatcher stopped", "queued", len(d.queue))
	return nil
}

// PublishEvent enqueues a newly ingested message.
func (d *DirectDispatcher) PublishEvent(ctx context.Context, env *Envelope) error {
	return d.enqueue(ctx, env)
}

// PublishRetry enqueues a due retry.
func (d *DirectDispatcher) PublishRetry(ctx context.Context, env *Envelope) error {
	return d.enqueue(ctx, env)
}

// PublishBalancing is a no-op target distinction in direct mode; there is
// only one node, so balancing envelopes join the same queue.
func (d *DirectDispatcher) PublishBalancing(ctx context.Context, env *Envelope) error {
	return d.enqueue(ctx, env)
}

func (d *DirectDispatcher) enqueue(ctx context.Context, env *Envelope) error {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()
	if !started {
		return werrors.E(werrors.KindTransportUnavailable, "direct dispatcher not started").WithMessage(env.MessageID)
	}

	timer := time.NewTimer(d.publishTimeout)
	defer timer.Stop()

	select {
	case d.queue <- env:
		return nil
	case <-ctx.Done():
		return werrors.Wrap(werrors.KindPublishTimeout, werrors.PhaseDelivery,
			"publish cancelled", ctx.Err()).WithMessage(env.MessageID)
	case <-timer.C:
		return werrors.Ef(werrors.KindPublishTimeout,
			"dispatch queue full after %s", d.publishTimeout).WithMessage(env.MessageID)
	}
}

// Healthy reports whether the dispatcher is accepting envelopes.
func (d *DirectDispatcher) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}
