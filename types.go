package hibiki

import "time"

// Status is the lifecycle state of a trace or span.
type Status string

const (
	StatusRunning Status = "running"
	StatusOk      Status = "ok"
	StatusError   Status = "error"
)

// Usage is the token accounting for one model completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             *float64 // USD; nil when the provider reports no cost
}

// Generation describes one model-completion call for RecordGeneration.
// Zero values take documented defaults: Name defaults to "generation",
// StartTime and EndTime default to the time of the call, Usage defaults
// to absent.
type Generation struct {
	Name       string
	Model      string
	Parameters map[string]any
	Input      any
	Output     any
	Usage      *Usage
	StartTime  time.Time
	EndTime    time.Time
	Metadata   map[string]any
}

// ToolCall describes one tool invocation for RecordToolCall.
type ToolCall struct {
	Name     string
	Input    any
	Output   any
	Duration time.Duration
	Success  bool
	Metadata map[string]any
}
