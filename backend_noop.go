package hibiki

import "context"

// NoopBackend discards every event. Used when tracing is disabled so the
// whole instrumentation API stays callable at zero cost.
type NoopBackend struct{}

func (NoopBackend) Record(Event)                   {}
func (NoopBackend) Flush(context.Context) error    { return nil }
func (NoopBackend) Shutdown(context.Context) error { return nil }
