package hibiki

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ConsoleBackend writes one human-readable line per event, synchronously.
// Meant for local debugging; it batches nothing and buffers nothing.
type ConsoleBackend struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleBackend creates a console backend writing to w.
// A nil w defaults to os.Stdout.
func NewConsoleBackend(w io.Writer) *ConsoleBackend {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleBackend{w: w}
}

func (c *ConsoleBackend) Record(ev Event) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-11s trace=%s", ev.Timestamp.Format("15:04:05.000"), ev.Type, short(ev.TraceID.String()))
	if ev.SpanID != nil {
		fmt.Fprintf(&b, " span=%s", short(ev.SpanID.String()))
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, " name=%q", ev.Name)
	}
	switch {
	case ev.Generation != nil:
		fmt.Fprintf(&b, " model=%s", ev.Generation.Model)
		if u := ev.Generation.Usage; u != nil {
			fmt.Fprintf(&b, " tokens=%d/%d/%d", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
		}
	case ev.ToolCall != nil:
		fmt.Fprintf(&b, " tool=%s duration=%dms success=%t", ev.ToolCall.ToolName, ev.ToolCall.DurationMs, ev.ToolCall.Success)
	case ev.Error != nil:
		fmt.Fprintf(&b, " error=%q", ev.Error.Message)
	}
	b.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, b.String())
}

func (c *ConsoleBackend) Flush(context.Context) error    { return nil }
func (c *ConsoleBackend) Shutdown(context.Context) error { return nil }

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
