// Package processor buffers trace events in memory and flushes them in
// batches on a dedicated background worker. Callers only enqueue; the
// worker is the sole goroutine that dequeues and talks to the sender, so
// the instrumented code never blocks on network I/O.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hibiki/internal/telemetry"
	"github.com/ashita-ai/hibiki/internal/wire"
)

// Sender delivers one batch of events. Implementations retry internally;
// a returned error means the batch is lost (at-most-once delivery).
type Sender interface {
	Send(ctx context.Context, events []wire.Event) error
}

// Config holds processor tuning knobs.
type Config struct {
	BatchSize     int           // flush as soon as this many events are queued
	FlushInterval time.Duration // flush at least this often while events are queued
	QueueCapacity int           // hard bound; oldest events are dropped beyond it
}

// Processor accumulates events and flushes them when either the batch size
// or the flush interval is reached, whichever comes first.
type Processor struct {
	sender        Sender
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	capacity      int

	mu    sync.Mutex
	queue []wire.Event

	droppedEvents atomic.Int64 // total events dropped due to queue capacity
	started       atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc // cancels the flushLoop goroutine
	drainCtx   context.Context    // set by Drain so the final flush respects the caller's deadline
}

// New creates a processor. Call Start before enqueueing.
func New(sender Sender, logger *slog.Logger, cfg Config) *Processor {
	return &Processor{
		sender:        sender,
		logger:        logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		capacity:      cfg.QueueCapacity,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics.
// Idempotent — a second call logs a warning and returns. Call Drain to stop.
func (p *Processor) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		p.logger.Warn("processor: Start called twice, ignoring")
		return
	}
	p.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancelLoop = cancel
	go p.flushLoop(loopCtx)
}

// Enqueue adds events to the queue. It never blocks and never fails: when
// the queue is full the oldest events are discarded so the traced
// application is shielded from a slow or dead backend.
func (p *Processor) Enqueue(events ...wire.Event) {
	if len(events) == 0 {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, events...)
	if overflow := len(p.queue) - p.capacity; overflow > 0 {
		p.queue = p.queue[overflow:]
		p.droppedEvents.Add(int64(overflow))
		p.logger.Warn("processor: queue full, dropped oldest events", "dropped", overflow)
	}
	full := len(p.queue) >= p.batchSize
	p.mu.Unlock()

	if full {
		p.RequestFlush()
	}
}

// RequestFlush asks the worker to flush promptly. It does not wait for the
// flush (let alone delivery) to complete.
func (p *Processor) RequestFlush() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

func (p *Processor) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush using the drain context provided by Drain().
			// A fresh context is needed because ctx is already done.
			if p.drainCtx != nil {
				p.flush(p.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				p.flush(fallbackCtx)
				cancel()
			}
			close(p.done)
			return
		case <-ticker.C:
			p.flush(ctx)
		case <-p.flushCh:
			p.flush(ctx)
		}
	}
}

func (p *Processor) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	// The queue can hold far more than one batch after a breaker-open
	// stretch; hand it to the sender in batch-sized chunks.
	for len(pending) > 0 {
		n := min(p.batchSize, len(pending))
		batch := pending[:n]
		pending = pending[n:]

		start := time.Now()
		err := p.sender.Send(ctx, batch)
		duration := time.Since(start)

		if err != nil {
			// At-most-once: the sender already retried, the batch is gone.
			// Later chunks still get their attempt; the sender's breaker
			// keeps that cheap when the backend is down.
			p.droppedEvents.Add(int64(len(batch)))
			p.logger.Error("processor: flush failed, batch dropped",
				"error", err,
				"batch_size", len(batch),
			)
			continue
		}

		p.logger.Debug("processor: batch flushed",
			"batch_size", len(batch),
			"flush_duration_ms", duration.Milliseconds(),
		)
	}
}

// Drain signals the background flush loop to stop, waits for its final
// flush, and returns. The ctx controls both the wait and the final flush.
func (p *Processor) Drain(ctx context.Context) {
	p.drainCtx = ctx
	if p.cancelLoop != nil {
		p.cancelLoop()
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("processor: drain timed out waiting for flush loop")
	}
}

// registerMetrics registers observable OTEL gauges for pipeline health.
// Called from Start() after the global meter provider has been initialized.
func (p *Processor) registerMetrics() {
	meter := telemetry.Meter("hibiki/processor")

	_, _ = meter.Int64ObservableGauge("hibiki.queue.depth",
		metric.WithDescription("Current number of events in the flush queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("hibiki.queue.dropped_total",
		metric.WithDescription("Total events dropped due to queue capacity or delivery failure"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.DroppedEvents())
			return nil
		}),
	)
}

// Len returns the current number of queued events.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// DroppedEvents returns the total number of events dropped, whether from
// queue overflow or delivery failure. A non-zero value indicates data loss.
func (p *Processor) DroppedEvents() int64 {
	return p.droppedEvents.Load()
}
