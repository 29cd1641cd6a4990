package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/cache"
	"github.com/user/semsql/pkg/registry"
)

type fakeCascade struct {
	mu       sync.Mutex
	calls    int
	result   map[string]any
	err      error
	lastArgs map[string]any
}

func (f *fakeCascade) Run(ctx context.Context, cascadePath, sessionID string, args map[string]any, callerID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastArgs = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCascade) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTracker struct {
	mu         sync.Mutex
	hits       int
	misses     int
	callerID   string
	registered int
}

func (t *fakeTracker) CallerID(ctx context.Context) string { return t.callerID }
func (t *fakeTracker) RegisterCascadeExecution(callerID, cascadeID, cascadePath, sessionID string, args map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered++
}
func (t *fakeTracker) IncrementCacheHit(callerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits++
}
func (t *fakeTracker) IncrementCacheMiss(callerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.misses++
}

func buildRegistry() *registry.Registry {
	r := registry.New()
	r.Register(registry.FunctionEntry{
		Name:         "semantic_matches",
		CascadeID:    "semantic_matches",
		CascadePath:  "cascades/semantic_matches.yaml",
		Shape:        semsql.ShapeScalar,
		Returns:      semsql.ReturnBoolean,
		CacheEnabled: true,
	})
	return r
}

func TestDispatchUnknownFunctionReturnsErrorJSON(t *testing.T) {
	d := New(Options{Registry: registry.New()})
	got := d.Dispatch(context.Background(), "nope", map[string]any{})
	if got != `{"error":"SQL function not found: nope"}` {
		t.Fatalf("got %q", got)
	}
}

func TestDispatchCascadeErrorReturnsErrorJSON(t *testing.T) {
	cascade := &fakeCascade{err: errors.New("boom")}
	d := New(Options{Registry: buildRegistry(), Cascade: cascade})
	got := d.Dispatch(context.Background(), "semantic_matches", map[string]any{"text": "hi", "criterion": "x"})
	if got != `{"error":"boom"}` {
		t.Fatalf("got %q", got)
	}
}

func TestDispatchCoercesBooleanOutput(t *testing.T) {
	cascade := &fakeCascade{result: map[string]any{"result": "true"}}
	d := New(Options{Registry: buildRegistry(), Cascade: cascade})
	got := d.Dispatch(context.Background(), "semantic_matches", map[string]any{"text": "hi", "criterion": "x"})
	if got != "true" {
		t.Fatalf("got %q", got)
	}
}

func TestDispatchCachesSecondCallAvoidsCascade(t *testing.T) {
	cascade := &fakeCascade{result: map[string]any{"result": "true"}}
	c := cache.New(cache.Options{L1MaxSize: 100})
	tracker := &fakeTracker{callerID: "caller-1"}
	d := New(Options{Registry: buildRegistry(), Cascade: cascade, Cache: c, Tracker: tracker})

	args := map[string]any{"text": "hi", "criterion": "greeting"}
	first := d.Dispatch(context.Background(), "semantic_matches", args)
	second := d.Dispatch(context.Background(), "semantic_matches", args)

	if first != "true" || second != "true" {
		t.Fatalf("expected both calls to resolve true, got %q %q", first, second)
	}
	if cascade.callCount() != 1 {
		t.Fatalf("expected cascade invoked exactly once, got %d", cascade.callCount())
	}
	if tracker.misses != 1 || tracker.hits != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got misses=%d hits=%d", tracker.misses, tracker.hits)
	}
}

func TestDispatchExtractsFromLineageAndStripsFences(t *testing.T) {
	cascade := &fakeCascade{result: map[string]any{
		"lineage": []any{
			map[string]any{"output": "```json\n{\"score\": 0.9}\n```"},
		},
	}}
	d := New(Options{Registry: buildRegistry(), Cascade: cascade})
	got := d.Dispatch(context.Background(), "semantic_matches", map[string]any{"text": "hi", "criterion": "x"})
	// Fenced JSON object parses to a map, which is unwrapped to its "score"
	// value 0.9; a non-zero number coerces to BOOLEAN true.
	if got != "true" {
		t.Fatalf("got %q", got)
	}
}
