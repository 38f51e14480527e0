// Package wire defines the JSON representation of trace events as the
// ingestion backend expects them: a flat array of typed event objects,
// with parent/child linkage carried by spanId rather than nesting.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types accepted by the ingestion endpoint.
const (
	TypeTraceStart = "trace-start"
	TypeTraceEnd   = "trace-end"
	TypeSpanStart  = "span-start"
	TypeSpanEnd    = "span-end"
	TypeGeneration = "generation"
	TypeToolCall   = "toolCall"
	TypeCustom     = "event"
	TypeError      = "error"
)

// Usage is the token accounting attached to generation events.
type Usage struct {
	PromptTokens     int      `json:"promptTokens"`
	CompletionTokens int      `json:"completionTokens"`
	TotalTokens      int      `json:"totalTokens"`
	Cost             *float64 `json:"cost,omitempty"`
}

// Event is one element of the ingestion batch. Type-specific fields are
// omitted when empty so every variant shares a single wire struct.
type Event struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"traceId"`
	SpanID    string         `json:"spanId,omitempty"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Generation fields.
	Model           string         `json:"model,omitempty"`
	ModelParameters map[string]any `json:"modelParameters,omitempty"`
	Input           any            `json:"input,omitempty"`
	Output          any            `json:"output,omitempty"`
	Usage           *Usage         `json:"usage,omitempty"`

	// Tool call fields.
	ToolName   string `json:"toolName,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Success    *bool  `json:"success,omitempty"`

	// Error fields.
	Message string `json:"message,omitempty"`
}

// EncodeBatch marshals events into a JSON array, skipping events whose
// payloads cannot be serialized. One malformed event must not abort the
// batch, so each element is marshalled independently. The returned count
// is the number of events dropped.
func EncodeBatch(events []Event) ([]byte, int, error) {
	encoded := make([]json.RawMessage, 0, len(events))
	dropped := 0
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			dropped++
			continue
		}
		encoded = append(encoded, raw)
	}
	if len(encoded) == 0 && dropped > 0 {
		return nil, dropped, fmt.Errorf("wire: all %d events in batch failed to serialize", dropped)
	}
	body, err := json.Marshal(encoded)
	if err != nil {
		return nil, dropped, fmt.Errorf("wire: encode batch: %w", err)
	}
	return body, dropped, nil
}
