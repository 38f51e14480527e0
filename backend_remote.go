package hibiki

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/hibiki/internal/processor"
	"github.com/ashita-ai/hibiki/internal/transport"
	"github.com/ashita-ai/hibiki/internal/wire"
)

// remoteBackend feeds events through the batch processor to the HTTP
// transport. Public events are converted to their wire representation here,
// at the root boundary — internal packages never import this package.
type remoteBackend struct {
	proc   *processor.Processor
	client *transport.Client
	logger *slog.Logger
}

func newRemoteBackend(client *transport.Client, logger *slog.Logger, cfg processor.Config) *remoteBackend {
	rb := &remoteBackend{
		proc:   processor.New(client, logger, cfg),
		client: client,
		logger: logger,
	}
	rb.proc.Start(context.Background())
	return rb
}

func (rb *remoteBackend) Record(ev Event) {
	rb.proc.Enqueue(toWireEvent(ev))
}

// Flush asks the worker to deliver promptly; it does not wait for the
// network round trip.
func (rb *remoteBackend) Flush(context.Context) error {
	rb.proc.RequestFlush()
	return nil
}

func (rb *remoteBackend) Shutdown(ctx context.Context) error {
	rb.proc.Drain(ctx)
	return nil
}

func toWireEvent(ev Event) wire.Event {
	w := wire.Event{
		ID:        ev.ID.String(),
		TraceID:   ev.TraceID.String(),
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Name:      ev.Name,
		Metadata:  ev.Metadata,
	}
	if ev.SpanID != nil {
		w.SpanID = ev.SpanID.String()
	}

	switch {
	case ev.Generation != nil:
		g := ev.Generation
		w.Model = g.Model
		w.ModelParameters = g.Parameters
		w.Input = g.Input
		w.Output = g.Output
		if g.Usage != nil {
			w.Usage = &wire.Usage{
				PromptTokens:     g.Usage.PromptTokens,
				CompletionTokens: g.Usage.CompletionTokens,
				TotalTokens:      g.Usage.TotalTokens,
				Cost:             g.Usage.Cost,
			}
		}
	case ev.ToolCall != nil:
		tc := ev.ToolCall
		w.ToolName = tc.ToolName
		w.Input = tc.Input
		w.Output = tc.Output
		w.DurationMs = tc.DurationMs
		success := tc.Success
		w.Success = &success
	case ev.Error != nil:
		w.Message = ev.Error.Message
	}
	return w
}
