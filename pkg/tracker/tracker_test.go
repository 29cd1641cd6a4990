package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/semsql/pkg/callerctx"
)

type fakeStore struct {
	mu         sync.Mutex
	started    []QueryLog
	completed  map[string]Completion
	errored    map[string]string
	cacheHits  map[string]int
	cacheMiss  map[string]int
	llmCalls   map[string]int
	aggregates map[string]CostSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed:  map[string]Completion{},
		errored:    map[string]string{},
		cacheHits:  map[string]int{},
		cacheMiss:  map[string]int{},
		llmCalls:   map[string]int{},
		aggregates: map[string]CostSummary{},
	}
}

func (f *fakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeStore) LogStart(ctx context.Context, row QueryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, row)
	return nil
}

func (f *fakeStore) LogComplete(ctx context.Context, queryID string, c Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[queryID] = c
	return nil
}

func (f *fakeStore) LogError(ctx context.Context, queryID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored[queryID] = errorMessage
	return nil
}

func (f *fakeStore) IncrementCacheHit(ctx context.Context, callerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheHits[callerID]++
	return nil
}

func (f *fakeStore) IncrementCacheMiss(ctx context.Context, callerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheMiss[callerID]++
	return nil
}

func (f *fakeStore) IncrementLLMCall(ctx context.Context, callerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.llmCalls[callerID]++
	return nil
}

func (f *fakeStore) AggregateCosts(ctx context.Context, callerID string) (CostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aggregates[callerID], nil
}

func (f *fakeStore) Close() error { return nil }

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestTrackerStartQueryLogsFingerprintedRow(t *testing.T) {
	store := newFakeStore()
	tr := New(store, nil)

	queryID := tr.StartQuery(context.Background(), "sql-caller-1", "SELECT rvbbit_udf(x, 'p') FROM t", "http")
	if queryID == "" {
		t.Fatalf("expected non-empty query id")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.started) != 1 {
		t.Fatalf("expected 1 started row, got %d", len(store.started))
	}
	row := store.started[0]
	if row.QueryType != "rvbbit_udf" {
		t.Fatalf("query type = %q", row.QueryType)
	}
	if row.Status != StatusRunning {
		t.Fatalf("status = %q", row.Status)
	}
}

func TestTrackerCallerIDReadsFromContext(t *testing.T) {
	tr := New(newFakeStore(), nil)
	ctx := callerctx.WithCaller(context.Background(), "sql-caller-2", nil)
	if got := tr.CallerID(ctx); got != "sql-caller-2" {
		t.Fatalf("got %q", got)
	}
}

func TestTrackerIncrementCacheHitIsAsyncButEventuallyVisible(t *testing.T) {
	store := newFakeStore()
	tr := New(store, nil)

	tr.IncrementCacheHit("sql-caller-3")

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.cacheHits["sql-caller-3"] == 1
	})
}

func TestTrackerIncrementCacheHitNoopForEmptyCaller(t *testing.T) {
	store := newFakeStore()
	tr := New(store, nil)
	tr.IncrementCacheHit("")
	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.cacheHits) != 0 {
		t.Fatalf("expected no increments for empty caller id")
	}
}

func TestTrackerRegisterCascadeExecutionIncrementsLLMCalls(t *testing.T) {
	store := newFakeStore()
	tr := New(store, nil)

	tr.RegisterCascadeExecution("sql-caller-4", "cascade-1", "cascades/x.yaml", "session-1", map[string]any{"text": "hi"})

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.llmCalls["sql-caller-4"] == 1
	})
}

func TestTrackerCompleteAndErrorQuery(t *testing.T) {
	store := newFakeStore()
	tr := New(store, nil)

	queryID := tr.StartQuery(context.Background(), "sql-caller-5", "SELECT 1", "notebook")
	duration := 12.5
	tr.CompleteQuery(context.Background(), queryID, Completion{Status: StatusCompleted, DurationMS: &duration})

	store.mu.Lock()
	c, ok := store.completed[queryID]
	store.mu.Unlock()
	if !ok || c.Status != StatusCompleted || *c.DurationMS != 12.5 {
		t.Fatalf("completion not recorded correctly: %+v", c)
	}

	tr.ErrorQuery(context.Background(), queryID, "boom")
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.errored[queryID] != "boom" {
		t.Fatalf("error not recorded: %q", store.errored[queryID])
	}
}
