package hibiki

import "context"

// spanContextKey is the context key for the active span.
type spanContextKey struct{}

// ContextWithSpan returns a context carrying span as the active span.
// Goroutines spawned with the returned context attach their nested spans
// to span; the reference is read-only after capture, so any number of
// sub-tasks may share it.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext returns the active span carried by ctx, if any.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	span, ok := ctx.Value(spanContextKey{}).(*Span)
	return span, ok
}
