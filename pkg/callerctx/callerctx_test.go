package callerctx

import (
	"context"
	"sync"
	"testing"
)

func TestWithCallerRoundTrips(t *testing.T) {
	ctx := WithCaller(context.Background(), "sql-abc123", map[string]any{"protocol": "http"})
	if got := CallerID(ctx); got != "sql-abc123" {
		t.Fatalf("CallerID = %q", got)
	}
	if got := Metadata(ctx); got["protocol"] != "http" {
		t.Fatalf("Metadata = %v", got)
	}
}

func TestCallerIDWithoutContextCallerDoesNotPanic(t *testing.T) {
	// A fresh process-fallback state can't be guaranteed across test order,
	// so this only checks that a bare context with no caller set falls
	// through without panicking and returns a string (possibly from an
	// earlier test's fallback, possibly empty).
	_ = CallerID(context.Background())
}

func TestCaptureRestoreSurvivesGoroutineBoundary(t *testing.T) {
	ctx := WithCaller(context.Background(), "sql-worker-test", nil)
	snap := Capture(ctx)

	var got string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// A detached goroutine does not inherit ctx's value automatically;
		// restoring the snapshot onto a fresh context must still recover it.
		workerCtx := snap.Restore(context.Background())
		got = CallerID(workerCtx)
	}()
	wg.Wait()

	if got != "sql-worker-test" {
		t.Fatalf("got %q", got)
	}
}

func TestFallbackUsedWhenContextCarriesNone(t *testing.T) {
	WithCaller(context.Background(), "sql-fallback-test", nil)
	if got := CallerID(context.Background()); got != "sql-fallback-test" {
		t.Fatalf("expected fallback caller id, got %q", got)
	}
}
