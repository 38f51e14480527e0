package hibiki

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// MultiBackend fans every call out to an ordered list of backends.
// One backend's failure or panic never prevents the others from receiving
// the call; Flush and Shutdown aggregate all sub-backend errors.
type MultiBackend struct {
	backends []Backend
	logger   *slog.Logger
}

// NewMultiBackend creates a fan-out over the given backends. The manager
// replaces the default logger with its own when it builds the fan-out.
func NewMultiBackend(backends ...Backend) *MultiBackend {
	return &MultiBackend{backends: backends, logger: slog.Default()}
}

func (m *MultiBackend) Record(ev Event) {
	for _, b := range m.backends {
		m.recordSafe(b, ev)
	}
}

// recordSafe isolates a panicking backend from the rest of the fan-out.
func (m *MultiBackend) recordSafe(b Backend, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("hibiki: backend panicked in Record", "panic", r)
		}
	}()
	b.Record(ev)
}

func (m *MultiBackend) Flush(ctx context.Context) error {
	return m.fanOut(func(b Backend) error { return b.Flush(ctx) })
}

func (m *MultiBackend) Shutdown(ctx context.Context) error {
	return m.fanOut(func(b Backend) error { return b.Shutdown(ctx) })
}

// fanOut runs fn against every backend concurrently and joins all errors,
// so a hung or failing backend cannot starve the others of the call.
func (m *MultiBackend) fanOut(fn func(Backend) error) error {
	errs := make([]error, len(m.backends))
	var g errgroup.Group
	for i, b := range m.backends {
		i, b := i, b
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = errors.New("hibiki: backend panicked")
				}
			}()
			errs[i] = fn(b)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
