package hibiki

import "context"

// Backend is the capability surface shared by every trace sink: the real
// ingestion pipeline, the console printer, the no-op, and the fan-out.
// When provided via WithBackend, a custom implementation receives the same
// event stream as the built-ins.
//
// Implementations must isolate their own failures from the instrumented
// application: Record never blocks on network I/O and never panics into
// the caller, and errors from Flush/Shutdown are logged, not raised.
type Backend interface {
	// Record accepts one event. Called from any goroutine, possibly many
	// concurrently; must return quickly.
	Record(ev Event)

	// Flush requests prompt delivery of buffered events. It must not wait
	// for network delivery to complete, only for local dispatch.
	Flush(ctx context.Context) error

	// Shutdown performs a bounded best-effort final flush and releases
	// resources. Events recorded after Shutdown returns are discarded.
	Shutdown(ctx context.Context) error
}
