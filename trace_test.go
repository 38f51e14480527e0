package hibiki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCapturedTrace(t *testing.T, name string, opts ...TraceOption) (*Trace, *captureBackend) {
	t.Helper()
	backend := &captureBackend{}
	return newTrace(backend, discardLogger(), name, opts...), backend
}

func TestTraceEmitsStartEvent(t *testing.T) {
	tr, backend := newCapturedTrace(t, "agent-run",
		WithUserID("u-1"),
		WithSessionID("s-1"),
		WithTraceTags("prod", "prod", "batch"),
	)

	starts := backend.byType(EventTraceStart)
	if len(starts) != 1 {
		t.Fatalf("expected 1 trace-start, got %d", len(starts))
	}
	ev := starts[0]
	if ev.TraceID != tr.ID() || ev.Name != "agent-run" {
		t.Fatalf("unexpected trace-start event: %+v", ev)
	}
	if ev.Metadata["userId"] != "u-1" || ev.Metadata["sessionId"] != "s-1" {
		t.Fatalf("identity fields missing from metadata: %v", ev.Metadata)
	}
	tags, _ := ev.Metadata["tags"].([]string)
	if len(tags) != 2 {
		t.Fatalf("duplicate tags must be collapsed, got %v", tags)
	}
	if tr.Status() != StatusRunning {
		t.Fatalf("new trace should be running, got %s", tr.Status())
	}
}

func TestSpanClosesOnNormalReturn(t *testing.T) {
	tr, backend := newCapturedTrace(t, "run")

	var got *Span
	err := tr.Span(context.Background(), "step", func(_ context.Context, sp *Span) error {
		got = sp
		if sp.Ended() {
			t.Error("span must be open inside the body")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !got.Ended() {
		t.Fatal("span must be closed after the body returns")
	}
	if got.Status() != StatusOk {
		t.Fatalf("expected StatusOk, got %s", got.Status())
	}
	if got.EndedAt().Before(got.StartedAt()) {
		t.Fatal("end timestamp precedes start")
	}
	if n := len(backend.byType(EventSpanEnd)); n != 1 {
		t.Fatalf("expected 1 span-end, got %d", n)
	}
}

func TestSpanRecordsReturnedError(t *testing.T) {
	tr, backend := newCapturedTrace(t, "run")
	boom := errors.New("step failed")

	var parent, child *Span
	err := tr.Span(context.Background(), "parent", func(ctx context.Context, p *Span) error {
		parent = p
		inner := p.Span(ctx, "child", func(_ context.Context, c *Span) error {
			child = c
			return boom
		})
		if !errors.Is(inner, boom) {
			t.Errorf("child error must propagate unchanged, got %v", inner)
		}
		return nil // parent recovers
	})
	if err != nil {
		t.Fatalf("parent should succeed: %v", err)
	}

	if child.Status() != StatusError || child.ErrorMessage() != "step failed" {
		t.Fatalf("child must carry the failure, got %s %q", child.Status(), child.ErrorMessage())
	}
	if !child.Ended() {
		t.Fatal("failed child span must still be closed")
	}
	if parent.Status() != StatusOk {
		t.Fatalf("a handled child failure must not fail the parent, got %s", parent.Status())
	}
	if n := len(backend.byType(EventError)); n != 1 {
		t.Fatalf("expected 1 error event, got %d", n)
	}
}

func TestSpanClosesOnPanicAndRethrows(t *testing.T) {
	tr, _ := newCapturedTrace(t, "run")

	var got *Span
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("panic must be re-raised to the caller")
			}
		}()
		_ = tr.Span(context.Background(), "explode", func(_ context.Context, sp *Span) error {
			got = sp
			panic("kaboom")
		})
	}()

	if !got.Ended() {
		t.Fatal("span must be closed even on panic")
	}
	if got.Status() != StatusError {
		t.Fatalf("panicking span must be marked failed, got %s", got.Status())
	}
	if got.ErrorMessage() != "panic: kaboom" {
		t.Fatalf("unexpected error message %q", got.ErrorMessage())
	}
}

func TestSpanNestingFollowsContext(t *testing.T) {
	tr, _ := newCapturedTrace(t, "run")

	err := tr.Span(context.Background(), "outer", func(ctx context.Context, outer *Span) error {
		// Opening through the trace with the outer span's ctx still nests.
		return tr.Span(ctx, "inner", func(_ context.Context, inner *Span) error {
			if inner.ParentID() == nil || *inner.ParentID() != outer.ID() {
				t.Error("span opened under an active context must become a child")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tops := tr.Spans()
	if len(tops) != 1 {
		t.Fatalf("expected 1 top-level span, got %d", len(tops))
	}
	if kids := tops[0].Children(); len(kids) != 1 || kids[0].Name() != "inner" {
		t.Fatalf("expected inner to be nested under outer, got %v", kids)
	}
}

func TestSpanNestingAcrossGoroutines(t *testing.T) {
	tr, _ := newCapturedTrace(t, "run")

	err := tr.Span(context.Background(), "parent", func(ctx context.Context, parent *Span) error {
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// ctx captured from the parent body carries the parent span.
				_ = tr.Span(ctx, fmt.Sprintf("worker-%d", i), func(_ context.Context, sp *Span) error {
					if sp.ParentID() == nil || *sp.ParentID() != parent.ID() {
						t.Errorf("worker %d not parented to the spawning span", i)
					}
					return nil
				})
			}(i)
		}
		wg.Wait()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if kids := tr.Spans()[0].Children(); len(kids) != 3 {
		t.Fatalf("expected 3 children, got %d", len(kids))
	}
}

func TestConcurrentTopLevelSpans(t *testing.T) {
	tr, _ := newCapturedTrace(t, "run")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Fresh contexts: these are siblings, not nested.
			_ = tr.Span(context.Background(), fmt.Sprintf("s-%d", i), func(_ context.Context, sp *Span) error {
				sp.AddMetadata("i", i)
				return nil
			})
		}(i)
	}
	wg.Wait()

	if got := len(tr.Spans()); got != 10 {
		t.Fatalf("expected 10 top-level spans, got %d", got)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	tr, backend := newCapturedTrace(t, "run")

	tr.Finish()
	tr.Finish()
	tr.Finish()

	if n := len(backend.byType(EventTraceEnd)); n != 1 {
		t.Fatalf("expected exactly 1 trace-end, got %d", n)
	}
	if backend.flushes != 1 {
		t.Fatalf("expected exactly 1 flush, got %d", backend.flushes)
	}
	if !tr.Finished() {
		t.Fatal("Finished must report true after Finish")
	}
	if tr.Status() != StatusOk {
		t.Fatalf("a clean trace finishes Ok, got %s", tr.Status())
	}
}

func TestRecordErrorFailsTrace(t *testing.T) {
	tr, backend := newCapturedTrace(t, "run")

	tr.RecordError(nil) // ignored
	tr.RecordError(errors.New("agent crashed"))
	tr.Finish()

	if tr.Status() != StatusError {
		t.Fatalf("expected StatusError, got %s", tr.Status())
	}
	errs := backend.byType(EventError)
	if len(errs) != 1 || errs[0].Error.Message != "agent crashed" {
		t.Fatalf("unexpected error events: %+v", errs)
	}
}

func TestSpanAfterFinishIsSilent(t *testing.T) {
	tr, backend := newCapturedTrace(t, "run")
	tr.Finish()
	before := len(backend.all())

	ran := false
	err := tr.Span(context.Background(), "late", func(_ context.Context, sp *Span) error {
		ran = true
		sp.RecordEvent("ignored", nil)
		sp.RecordGeneration(Generation{Model: "m"})
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("the body must still run on a finished trace")
	}

	if got := len(backend.all()); got != before {
		t.Fatalf("silent span must emit nothing, got %d new events", got-before)
	}
	if got := len(tr.Spans()); got != 0 {
		t.Fatalf("silent span must not join the tree, got %d", got)
	}
}

func TestTraceMetadataOnFinish(t *testing.T) {
	tr, backend := newCapturedTrace(t, "run", WithTraceMetadata(map[string]any{"env": "test"}))

	tr.SetInput("question")
	tr.SetOutput("answer")
	tr.AddMetadata("model", "m-large")
	tr.Finish()

	ends := backend.byType(EventTraceEnd)
	if len(ends) != 1 {
		t.Fatalf("expected 1 trace-end, got %d", len(ends))
	}
	md := ends[0].Metadata
	if md["env"] != "test" || md["input"] != "question" || md["output"] != "answer" || md["model"] != "m-large" {
		t.Fatalf("trace-end metadata incomplete: %v", md)
	}
	if md["status"] != string(StatusOk) {
		t.Fatalf("expected status ok in metadata, got %v", md["status"])
	}
}

func TestSpanEndTimestampsOrdered(t *testing.T) {
	tr, _ := newCapturedTrace(t, "run")

	start := time.Now().UTC()
	_, sp := tr.StartSpan(context.Background(), "manual")
	time.Sleep(5 * time.Millisecond)
	sp.End()

	if sp.EndedAt().Before(start) || sp.EndedAt().Before(sp.StartedAt()) {
		t.Fatal("span end timestamp out of order")
	}
}
