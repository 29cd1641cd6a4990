package prewarm

import (
	"context"
	"sync"
	"testing"
)

type fakeQuerier struct {
	mu      sync.Mutex
	queries []string
	values  map[string][]string
}

func (f *fakeQuerier) QueryDistinctColumn(ctx context.Context, query string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.values[query], nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, functionName string, args map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	return "ok"
}

func TestParallelAnnotationPresent(t *testing.T) {
	n, ok := ParallelAnnotation("-- @ parallel: 5\nSELECT semantic_clean_year(y) FROM t")
	if !ok || n != 5 {
		t.Fatalf("got (%d, %v)", n, ok)
	}
}

func TestParallelAnnotationAbsent(t *testing.T) {
	if _, ok := ParallelAnnotation("SELECT 1"); ok {
		t.Fatalf("expected no annotation")
	}
}

func TestSidecarMaybeLaunchNoAnnotationReturnsFalse(t *testing.T) {
	s := NewSidecar(&fakeQuerier{}, &fakeDispatcher{}, nil)
	specs := []Spec{{Function: "semantic_clean_year", DistinctQuery: "SELECT DISTINCT y FROM t", InputKey: "text"}}
	if s.MaybeLaunch(context.Background(), "SELECT semantic_clean_year(y) FROM t", specs, "caller-1") {
		t.Fatalf("expected no launch without annotation")
	}
}

func TestSidecarMaybeLaunchNoSpecsReturnsFalse(t *testing.T) {
	s := NewSidecar(&fakeQuerier{}, &fakeDispatcher{}, nil)
	if s.MaybeLaunch(context.Background(), "-- @ parallel: 3\nSELECT 1", nil, "caller-1") {
		t.Fatalf("expected no launch without specs")
	}
}

func TestSidecarWarmsEachDistinctValue(t *testing.T) {
	q := &fakeQuerier{values: map[string][]string{
		"SELECT DISTINCT y FROM t": {"2023", "2024"},
	}}
	d := &fakeDispatcher{}
	s := NewSidecar(q, d, nil)

	spec := Spec{
		Function:       "semantic_clean_year",
		InputKey:       "text",
		ArgNames:       []string{"text"},
		AllArgs:        []ArgValue{{SQL: "y", IsColumn: true}},
		ColumnArgIndex: 0,
		DistinctQuery:  "SELECT DISTINCT y FROM t",
	}

	s.warmValues(context.Background(), spec, []string{"2023", "2024"}, 2)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) != 2 {
		t.Fatalf("expected 2 dispatch calls, got %d", len(d.calls))
	}
	seen := map[string]bool{}
	for _, c := range d.calls {
		seen[c["text"].(string)] = true
	}
	if !seen["2023"] || !seen["2024"] {
		t.Fatalf("expected both distinct values dispatched, got %v", d.calls)
	}
}

func TestBuildArgsIncludesConstants(t *testing.T) {
	spec := Spec{
		InputKey:       "text",
		ArgNames:       []string{"text", "pattern"},
		AllArgs:        []ArgValue{{SQL: "description", IsColumn: true}, {SQL: "'refund'", IsColumn: false}},
		ColumnArgIndex: 0,
	}
	args := buildArgs(spec, "order #123 refund request")
	if args["text"] != "order #123 refund request" {
		t.Fatalf("text arg = %v", args["text"])
	}
	if args["pattern"] != "refund" {
		t.Fatalf("pattern arg = %v, want unquoted literal", args["pattern"])
	}
}
