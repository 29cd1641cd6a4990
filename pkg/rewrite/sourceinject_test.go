package rewrite

import (
	"strings"
	"testing"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/registry"
)

func scalarEntries() []registry.FunctionEntry {
	return []registry.FunctionEntry{
		{Name: "semantic_matches", Shape: semsql.ShapeScalar, Returns: "BOOLEAN"},
		{Name: "semantic_extract", Shape: semsql.ShapeScalar, Returns: "VARCHAR"},
	}
}

func TestRewriteFunctionSourceInjectionDirectCallWithStringArg(t *testing.T) {
	got, changed := RewriteFunctionSourceInjection(
		`SELECT * FROM t WHERE semantic_matches(col, 'eco')`, scalarEntries())
	if !changed {
		t.Fatalf("expected a change")
	}
	want := `SELECT * FROM t WHERE semantic_matches(col, '__RVBBIT_SOURCE:{"column": "col", "row": ` +
		rowIndexExpr + `}__ eco')`
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestRewriteFunctionSourceInjectionAppendsSyntheticArg(t *testing.T) {
	got, changed := RewriteFunctionSourceInjection(
		`SELECT semantic_extract(col) FROM t`, scalarEntries())
	if !changed {
		t.Fatalf("expected a change")
	}
	if !strings.Contains(got, "semantic_extract(col, '__RVBBIT_SOURCE:") {
		t.Fatalf("expected synthetic source arg appended, got %q", got)
	}
}

func TestRewriteFunctionSourceInjectionSkipsExistingMarker(t *testing.T) {
	sql := `SELECT * FROM t WHERE semantic_matches(col, '__RVBBIT_SOURCE:{"column": "col", "row": 0}__ eco')`
	got, changed := RewriteFunctionSourceInjection(sql, scalarEntries())
	if changed || got != sql {
		t.Fatalf("expected noop, got changed=%v sql=%q", changed, got)
	}
}

func TestRewriteFunctionSourceInjectionNoScalarEntries(t *testing.T) {
	sql := `SELECT * FROM t WHERE semantic_matches(col, 'eco')`
	got, changed := RewriteFunctionSourceInjection(sql, nil)
	if changed || got != sql {
		t.Fatalf("expected noop with no registered scalar functions, got changed=%v sql=%q", changed, got)
	}
}

func TestRewriteFunctionSourceInjectionIdempotent(t *testing.T) {
	sql := `SELECT * FROM t WHERE semantic_matches(col, 'eco')`
	once, _ := RewriteFunctionSourceInjection(sql, scalarEntries())
	twice, changed := RewriteFunctionSourceInjection(once, scalarEntries())
	if changed || once != twice {
		t.Fatalf("not idempotent:\n  once:  %q\n  twice: %q", once, twice)
	}
}

func TestRewriteAllAppliesPassBOnDirectScalarCall(t *testing.T) {
	r := registry.New()
	r.Register(registry.FunctionEntry{Name: "semantic_matches", Shape: semsql.ShapeScalar, Returns: "BOOLEAN",
		Operators: []string{"{{ text }} MEANS {{ criterion }}"}})

	sql := `SELECT * FROM t WHERE semantic_matches(col, 'eco')`
	result := RewriteAll(sql, r)
	if !result.Changed {
		t.Fatalf("expected a change")
	}
	if !strings.Contains(result.SQL, `semantic_matches(col, '__RVBBIT_SOURCE:{"column": "col", "row": `) {
		t.Fatalf("expected Pass B source injection, got %q", result.SQL)
	}
}
