package hibiki

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the category of a trace event.
type EventType string

const (
	// Lifecycle events.
	EventTraceStart EventType = "trace-start"
	EventTraceEnd   EventType = "trace-end"
	EventSpanStart  EventType = "span-start"
	EventSpanEnd    EventType = "span-end"

	// Domain events.
	EventGeneration EventType = "generation"
	EventToolCall   EventType = "toolCall"
	EventCustom     EventType = "event"
	EventError      EventType = "error"
)

// Event is an append-only record in the trace event stream.
// Never mutated after creation.
type Event struct {
	ID        uuid.UUID
	TraceID   uuid.UUID
	SpanID    *uuid.UUID // nil for trace-level events
	Type      EventType
	Name      string
	Timestamp time.Time
	Metadata  map[string]any

	// Exactly one of the following is set, matching Type.
	Generation *GenerationPayload
	ToolCall   *ToolCallPayload
	Error      *ErrorPayload
}

// GenerationPayload is the payload for generation events.
type GenerationPayload struct {
	Model      string
	Parameters map[string]any
	Input      any
	Output     any
	Usage      *Usage
	StartedAt  time.Time
	EndedAt    time.Time
}

// ToolCallPayload is the payload for toolCall events.
type ToolCallPayload struct {
	ToolName   string
	Input      any
	Output     any
	DurationMs int64
	Success    bool
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Message string
}
