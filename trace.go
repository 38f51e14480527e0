package hibiki

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Trace is the root container for one logical execution (a request, an
// agent run). It owns the top-level span tree and aggregate metadata.
// All methods are safe for concurrent use by parallel spans.
type Trace struct {
	id        uuid.UUID
	name      string
	userID    string
	sessionID string
	startedAt time.Time

	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	metadata map[string]any
	tags     []string
	status   Status
	spans    []*Span
	endedAt  *time.Time
	finished bool
}

func newTrace(backend Backend, logger *slog.Logger, name string, opts ...TraceOption) *Trace {
	var to traceOptions
	for _, fn := range opts {
		fn(&to)
	}

	t := &Trace{
		id:        uuid.New(),
		name:      name,
		userID:    to.userID,
		sessionID: to.sessionID,
		startedAt: time.Now().UTC(),
		backend:   backend,
		logger:    logger,
		metadata:  map[string]any{},
		status:    StatusRunning,
	}
	for k, v := range to.metadata {
		t.metadata[k] = v
	}
	for _, tag := range to.tags {
		t.tags = appendTag(t.tags, tag)
	}

	t.emit(Event{
		ID:        uuid.New(),
		TraceID:   t.id,
		Type:      EventTraceStart,
		Name:      t.name,
		Timestamp: t.startedAt,
		Metadata:  t.snapshotMetadata(),
	})
	return t
}

// ID returns the trace identifier.
func (t *Trace) ID() uuid.UUID { return t.id }

// Name returns the trace name.
func (t *Trace) Name() string { return t.name }

// Status returns the current trace status.
func (t *Trace) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Spans returns the top-level spans opened on this trace so far.
func (t *Trace) Spans() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.spans)
}

// Span opens a span, runs fn with the span active in the derived context,
// and closes the span on every exit path — normal return, error, or panic.
// fn's error is recorded on the span and returned unchanged; a panic is
// recorded and re-raised. If ctx already carries an open span of this
// trace (e.g. inside a goroutine spawned from another span body), the new
// span becomes its child rather than a new top-level span.
func (t *Trace) Span(ctx context.Context, name string, fn func(context.Context, *Span) error) error {
	ctx, span := t.StartSpan(ctx, name)
	return span.run(ctx, fn)
}

// StartSpan opens a span without the scoped-execution wrapper. The caller
// must call End on the returned span. Prefer Span; StartSpan exists for
// call sites that cannot express their lifetime as a closure.
func (t *Trace) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if parent, ok := SpanFromContext(ctx); ok && parent.traceID == t.id && !parent.Ended() {
		return parent.StartSpan(ctx, name)
	}
	span := t.newSpan(nil, name)
	return ContextWithSpan(ctx, span), span
}

// newSpan creates a span under parent (nil for top-level), registers it in
// the tree, and emits span-start. After Finish the span is created silent:
// the body still runs, but nothing is recorded or emitted.
func (t *Trace) newSpan(parent *Span, name string) *Span {
	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.id
	}

	span := &Span{
		id:        uuid.New(),
		traceID:   t.id,
		parentID:  parentID,
		name:      name,
		startedAt: time.Now().UTC(),
		trace:     t,
		metadata:  map[string]any{},
		status:    StatusRunning,
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		t.logger.Warn("hibiki: span opened on finished trace, not recorded",
			"trace", t.name, "span", name)
		span.silent = true
		return span
	}
	if parent == nil {
		t.spans = append(t.spans, span)
	}
	t.mu.Unlock()

	if parent != nil {
		parent.addChild(span)
	}

	span.emit(Event{
		Type:      EventSpanStart,
		Name:      name,
		Timestamp: span.startedAt,
	})
	return span
}

// AddMetadata sets a metadata key on the trace, overwriting any previous value.
func (t *Trace) AddMetadata(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata[key] = value
}

// AddTag adds a tag to the trace. Duplicates are ignored.
func (t *Trace) AddTag(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags = appendTag(t.tags, tag)
}

// SetInput records the trace-level input as metadata.
func (t *Trace) SetInput(v any) { t.AddMetadata("input", v) }

// SetOutput records the trace-level output as metadata.
func (t *Trace) SetOutput(v any) { t.AddMetadata("output", v) }

// RecordError marks the trace as failed and appends an error event.
// It never panics; a nil err is ignored.
func (t *Trace) RecordError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.status = StatusError
	t.mu.Unlock()

	t.emit(Event{
		ID:        uuid.New(),
		TraceID:   t.id,
		Type:      EventError,
		Name:      "error",
		Timestamp: time.Now().UTC(),
		Error:     &ErrorPayload{Message: err.Error()},
	})
}

// Finish marks the trace as ended, emits the trace-end event, and requests
// an immediate flush of buffered events. It does not wait for network
// delivery. Idempotent — only the first call has any effect.
func (t *Trace) Finish() {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	now := time.Now().UTC()
	t.endedAt = &now
	if t.status == StatusRunning {
		t.status = StatusOk
	}
	t.mu.Unlock()

	t.emit(Event{
		ID:        uuid.New(),
		TraceID:   t.id,
		Type:      EventTraceEnd,
		Name:      t.name,
		Timestamp: now,
		Metadata:  t.snapshotMetadata(),
	})

	if err := t.backend.Flush(context.Background()); err != nil {
		t.logger.Warn("hibiki: flush on finish failed", "error", err, "trace", t.name)
	}
}

// Finished reports whether Finish has been called.
func (t *Trace) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

func (t *Trace) emit(ev Event) {
	t.backend.Record(ev)
}

// snapshotMetadata copies the trace metadata plus identity fields for
// attachment to lifecycle events.
func (t *Trace) snapshotMetadata() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	md := make(map[string]any, len(t.metadata)+4)
	for k, v := range t.metadata {
		md[k] = v
	}
	if t.userID != "" {
		md["userId"] = t.userID
	}
	if t.sessionID != "" {
		md["sessionId"] = t.sessionID
	}
	if len(t.tags) > 0 {
		md["tags"] = slices.Clone(t.tags)
	}
	md["status"] = string(t.status)
	return md
}

func appendTag(tags []string, tag string) []string {
	if slices.Contains(tags, tag) {
		return tags
	}
	return append(tags, tag)
}
