// Package hibiki instruments AI-agent workloads with hierarchical traces
// and ships them to a remote ingestion backend without ever blocking or
// destabilizing the traced application.
//
//	mgr, err := hibiki.New(
//	    hibiki.WithEndpoint("https://traces.example.com"),
//	    hibiki.WithCredentials(publicKey, secretKey),
//	    hibiki.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer mgr.Shutdown(ctx)
//
//	trace := mgr.NewTrace("agent-run", hibiki.WithSessionID(sessionID))
//	defer trace.Finish()
//	err = trace.Span(ctx, "generate", func(ctx context.Context, sp *hibiki.Span) error {
//	    out, err := model.Complete(ctx, prompt)
//	    sp.RecordGeneration(hibiki.Generation{Model: "m1", Output: out, Usage: usage})
//	    return err
//	})
//
// The import graph enforces a strict no-cycle rule: hibiki (root) imports
// internal/*, but internal/* never imports hibiki (root). Public types
// (Event, Usage, etc.) are standalone structs; conversion to the wire
// representation lives here because this is the only package that sees
// both sides of the boundary.
package hibiki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hibiki/internal/config"
	"github.com/ashita-ai/hibiki/internal/processor"
	"github.com/ashita-ai/hibiki/internal/telemetry"
	"github.com/ashita-ai/hibiki/internal/transport"
)

// Manager is the trace factory. It owns the shared delivery pipeline for
// the process lifetime. Construct with New(), release with Shutdown().
type Manager struct {
	cfg          config.Config
	backend      Backend
	logger       *slog.Logger
	otelShutdown telemetry.Shutdown
	version      string
	closed       atomic.Bool
}

// New initialises the tracing pipeline. Configuration comes from the
// environment (a .env file is honoured if present), then option overrides.
// Misconfiguration — an ingestion endpoint without credentials — surfaces
// here and only here; nothing fails mid-flight after New returns.
func New(opts ...Option) (*Manager, error) {
	o := resolvedOptions{maxRetries: -1}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("hibiki: load config: %w", err)
	}
	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	if o.publicKey != "" {
		cfg.PublicKey = o.publicKey
	}
	if o.secretKey != "" {
		cfg.SecretKey = o.secretKey
	}
	if o.batchSize > 0 {
		cfg.BatchSize = o.batchSize
	}
	if o.flushInterval > 0 {
		cfg.FlushInterval = o.flushInterval
	}
	if o.maxRetries >= 0 {
		cfg.MaxRetries = o.maxRetries
	}
	if o.breakerThreshold > 0 {
		cfg.BreakerThreshold = o.breakerThreshold
	}
	if o.breakerReset > 0 {
		cfg.BreakerResetTimeout = o.breakerReset
	}
	if o.queueCapacity > 0 {
		cfg.QueueCapacity = o.queueCapacity
	}
	if o.disabled {
		cfg.Enabled = false
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("hibiki: telemetry: %w", err)
	}

	backend, err := buildBackend(cfg, o, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	logger.Info("hibiki starting",
		"version", version,
		"enabled", cfg.Enabled,
		"batch_size", cfg.BatchSize,
		"flush_interval", cfg.FlushInterval,
	)

	return &Manager{
		cfg:          cfg,
		backend:      backend,
		logger:       logger,
		otelShutdown: otelShutdown,
		version:      version,
	}, nil
}

// buildBackend selects and wires the backend set from config and options.
func buildBackend(cfg config.Config, o resolvedOptions, logger *slog.Logger) (Backend, error) {
	backends := append([]Backend(nil), o.backends...)
	if o.consoleSet {
		backends = append(backends, NewConsoleBackend(o.consoleWriter))
	}

	switch {
	case !cfg.Enabled:
		logger.Info("hibiki: tracing disabled")
		return NoopBackend{}, nil
	case cfg.Endpoint != "":
		client, err := transport.NewClient(transport.Config{
			Endpoint:            cfg.Endpoint,
			PublicKey:           cfg.PublicKey,
			SecretKey:           cfg.SecretKey,
			HTTPClient:          o.httpClient,
			Timeout:             cfg.RequestTimeout,
			MaxRetries:          cfg.MaxRetries,
			BreakerThreshold:    cfg.BreakerThreshold,
			BreakerResetTimeout: cfg.BreakerResetTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("hibiki: ingestion backend misconfigured: %w", err)
		}
		backends = append(backends, newRemoteBackend(client, logger, processor.Config{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
			QueueCapacity: cfg.QueueCapacity,
		}))
	case len(backends) == 0:
		logger.Warn("hibiki: no endpoint configured and no backend provided, tracing disabled")
	}

	switch len(backends) {
	case 0:
		return NoopBackend{}, nil
	case 1:
		return backends[0], nil
	default:
		mb := NewMultiBackend(backends...)
		mb.logger = logger
		return mb, nil
	}
}

// NewTrace creates a trace and emits its trace-start event. It never
// fails; after Shutdown it returns a trace wired to the no-op backend and
// logs a warning.
func (m *Manager) NewTrace(name string, opts ...TraceOption) *Trace {
	backend := m.backend
	if m.closed.Load() {
		m.logger.Warn("hibiki: NewTrace after Shutdown, trace will not be recorded", "trace", name)
		backend = NoopBackend{}
	}
	return newTrace(backend, m.logger, name, opts...)
}

// Shutdown drains pending events (bounded by ctx, or the configured
// shutdown timeout when ctx carries no deadline), stops the background
// worker, and releases backend connections. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("hibiki shutting down")

	drainCtx, cancel := contextWithOptionalTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	err := m.backend.Shutdown(drainCtx)
	if err != nil {
		m.logger.Error("hibiki: backend shutdown error", "error", err)
	}
	otelErr := m.otelShutdown(context.Background())

	m.logger.Info("hibiki stopped")
	return errors.Join(err, otelErr)
}

// contextWithOptionalTimeout bounds ctx by timeout unless the caller
// already set an earlier deadline, or the timeout is unset.
func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
