package hibiki

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Span is a single timed operation inside a trace, possibly nested.
// Spans are created through Trace.Span / Span.Span (scoped) or StartSpan
// (manual); they are never constructed directly. All methods are safe for
// concurrent use by child spans running in parallel.
type Span struct {
	id        uuid.UUID
	traceID   uuid.UUID
	parentID  *uuid.UUID
	name      string
	startedAt time.Time
	trace     *Trace
	silent    bool // span opened after Finish; body runs but nothing is recorded

	mu       sync.Mutex
	endedAt  *time.Time
	metadata map[string]any
	tags     []string
	status   Status
	children []*Span
	events   []Event
	errMsg   string
}

// ID returns the span identifier.
func (s *Span) ID() uuid.UUID { return s.id }

// TraceID returns the owning trace identifier.
func (s *Span) TraceID() uuid.UUID { return s.traceID }

// ParentID returns the parent span identifier, or nil for top-level spans.
func (s *Span) ParentID() *uuid.UUID { return s.parentID }

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// StartedAt returns the span start timestamp.
func (s *Span) StartedAt() time.Time { return s.startedAt }

// EndedAt returns the span end timestamp, or the zero time while running.
func (s *Span) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt == nil {
		return time.Time{}
	}
	return *s.endedAt
}

// Ended reports whether the span has been closed.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt != nil
}

// Status returns the current span status.
func (s *Span) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ErrorMessage returns the recorded error message, if any.
func (s *Span) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Children returns the child spans opened so far.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.children)
}

// Events returns the domain events recorded on this span so far, in
// recording order.
func (s *Span) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Span opens a child span, runs fn with it active in the derived context,
// and closes it on every exit path. Same contract as Trace.Span with the
// parent fixed to the receiver.
func (s *Span) Span(ctx context.Context, name string, fn func(context.Context, *Span) error) error {
	ctx, child := s.StartSpan(ctx, name)
	return child.run(ctx, fn)
}

// StartSpan opens a child span without the scoped-execution wrapper.
// The caller must call End on the returned span.
func (s *Span) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := s.trace.newSpan(s, name)
	return ContextWithSpan(ctx, child), child
}

// run executes fn and guarantees the span is closed regardless of how fn
// exits. fn's error is recorded and returned unchanged; a panic is
// recorded and re-raised so the caller sees the original failure.
func (s *Span) run(ctx context.Context, fn func(context.Context, *Span) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.RecordError(fmt.Errorf("panic: %v", r))
			s.End()
			panic(r)
		}
		if err != nil {
			s.RecordError(err)
		}
		s.End()
	}()
	return fn(ctx, s)
}

// End closes the span: the end timestamp is set exactly once and the
// span-end event is emitted. Subsequent calls are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	if s.endedAt != nil {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	s.endedAt = &now
	if s.status == StatusRunning {
		s.status = StatusOk
	}
	md := map[string]any{
		"status":     string(s.status),
		"durationMs": now.Sub(s.startedAt).Milliseconds(),
	}
	for k, v := range s.metadata {
		md[k] = v
	}
	if len(s.tags) > 0 {
		md["tags"] = slices.Clone(s.tags)
	}
	if s.errMsg != "" {
		md["error"] = s.errMsg
	}
	s.mu.Unlock()

	s.emit(Event{
		Type:      EventSpanEnd,
		Name:      s.name,
		Timestamp: now,
		Metadata:  md,
	})
}

// AddMetadata sets a metadata key on the span, overwriting any previous value.
func (s *Span) AddMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// AddTag adds a tag to the span. Duplicates are ignored.
func (s *Span) AddTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = appendTag(s.tags, tag)
}

// SetStatus overrides the span status.
func (s *Span) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetInput records the span input as metadata.
func (s *Span) SetInput(v any) { s.AddMetadata("input", v) }

// SetOutput records the span output as metadata.
func (s *Span) SetOutput(v any) { s.AddMetadata("output", v) }

// RecordError marks the span as failed and appends an error event.
// A nil err is ignored. The span stays open; End still closes it.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.status = StatusError
	s.errMsg = err.Error()
	s.mu.Unlock()

	s.record(Event{
		Type:      EventError,
		Name:      "error",
		Timestamp: time.Now().UTC(),
		Error:     &ErrorPayload{Message: err.Error()},
	})
}

// RecordEvent appends a custom event with an arbitrary payload.
func (s *Span) RecordEvent(name string, payload map[string]any) {
	s.record(Event{
		Type:      EventCustom,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Metadata:  payload,
	})
}

// RecordGeneration appends a generation event describing one model call.
// Zero fields take defaults: Name "generation", StartTime/EndTime the
// current time, Usage absent.
func (s *Span) RecordGeneration(g Generation) {
	now := time.Now().UTC()
	if g.Name == "" {
		g.Name = "generation"
	}
	if g.StartTime.IsZero() {
		g.StartTime = now
	}
	if g.EndTime.IsZero() {
		g.EndTime = now
	}

	s.record(Event{
		Type:      EventGeneration,
		Name:      g.Name,
		Timestamp: g.EndTime,
		Metadata:  g.Metadata,
		Generation: &GenerationPayload{
			Model:      g.Model,
			Parameters: g.Parameters,
			Input:      g.Input,
			Output:     g.Output,
			Usage:      g.Usage,
			StartedAt:  g.StartTime,
			EndedAt:    g.EndTime,
		},
	})
}

// RecordToolCall appends a toolCall event describing one tool invocation.
func (s *Span) RecordToolCall(tc ToolCall) {
	s.record(Event{
		Type:      EventToolCall,
		Name:      tc.Name,
		Timestamp: time.Now().UTC(),
		Metadata:  tc.Metadata,
		ToolCall: &ToolCallPayload{
			ToolName:   tc.Name,
			Input:      tc.Input,
			Output:     tc.Output,
			DurationMs: tc.Duration.Milliseconds(),
			Success:    tc.Success,
		},
	})
}

func (s *Span) addChild(child *Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, child)
}

// record stamps identity fields, stores the event on the span, and emits it.
func (s *Span) record(ev Event) {
	ev = s.stamp(ev)
	if !s.silent {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	}
	s.send(ev)
}

// emit stamps and ships a lifecycle event without storing it on the span.
func (s *Span) emit(ev Event) {
	s.send(s.stamp(ev))
}

func (s *Span) stamp(ev Event) Event {
	ev.ID = uuid.New()
	ev.TraceID = s.traceID
	spanID := s.id
	ev.SpanID = &spanID
	return ev
}

func (s *Span) send(ev Event) {
	if s.silent {
		return
	}
	s.trace.emit(ev)
}
