package prewarm

import (
	"strings"
	"testing"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/registry"
)

func scalarEntry(name, cascadePath string, args ...string) registry.FunctionEntry {
	argDefs := make([]registry.ArgDef, len(args))
	for i, a := range args {
		argDefs[i] = registry.ArgDef{Name: a, Type: "VARCHAR"}
	}
	return registry.FunctionEntry{
		Name:        name,
		CascadePath: cascadePath,
		Shape:       semsql.ShapeScalar,
		Returns:     semsql.ReturnVarchar,
		Args:        argDefs,
	}
}

func TestAnalyzeFindsSingleArgCall(t *testing.T) {
	entries := []registry.FunctionEntry{
		scalarEntry("semantic_clean_year", "cascades/semantic_sql/clean_year.cascade.yaml", "text"),
	}
	sql := "SELECT semantic_clean_year(year_field), name FROM products WHERE status = 'active'"

	specs := Analyze(sql, entries)
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	s := specs[0]
	if s.Function != "semantic_clean_year" {
		t.Fatalf("function = %q", s.Function)
	}
	if s.InputKey != "text" {
		t.Fatalf("input key = %q", s.InputKey)
	}
	want := "SELECT DISTINCT year_field FROM products WHERE status = 'active' LIMIT 500"
	if s.DistinctQuery != want {
		t.Fatalf("distinct query = %q, want %q", s.DistinctQuery, want)
	}
}

func TestAnalyzeDedupesRepeatedCalls(t *testing.T) {
	entries := []registry.FunctionEntry{
		scalarEntry("semantic_is_valid", "cascades/semantic_sql/is_valid.cascade.yaml", "text"),
	}
	sql := `SELECT semantic_is_valid(a.field), semantic_is_valid(a.field) FROM widgets a`

	specs := Analyze(sql, entries)
	if len(specs) != 1 {
		t.Fatalf("expected dedupe to 1 spec, got %d", len(specs))
	}
}

func TestAnalyzeSkipsNonScalarFunctions(t *testing.T) {
	entries := []registry.FunctionEntry{
		{Name: "semantic_group_theme", Shape: semsql.ShapeAggregate},
	}
	sql := "SELECT semantic_group_theme(notes) FROM feedback"

	specs := Analyze(sql, entries)
	if len(specs) != 0 {
		t.Fatalf("expected 0 specs for non-scalar function, got %d", len(specs))
	}
}

func TestAnalyzeHandlesConstantArgument(t *testing.T) {
	entries := []registry.FunctionEntry{
		scalarEntry("semantic_matches", "cascades/semantic_sql/matches.cascade.yaml", "text", "pattern"),
	}
	sql := "SELECT semantic_matches(description, 'refund') FROM orders"

	specs := Analyze(sql, entries)
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	s := specs[0]
	if s.ColumnArgIndex != 0 {
		t.Fatalf("column arg index = %d, want 0", s.ColumnArgIndex)
	}
	if s.AllArgs[1].IsColumn {
		t.Fatalf("second arg should not be treated as a column")
	}
	if !strings.Contains(s.DistinctQuery, "SELECT DISTINCT description FROM orders") {
		t.Fatalf("distinct query = %q", s.DistinctQuery)
	}
}

func TestAnalyzeReattachesCTE(t *testing.T) {
	entries := []registry.FunctionEntry{
		scalarEntry("semantic_sentiment", "cascades/semantic_sql/sentiment.cascade.yaml", "text"),
	}
	sql := "WITH recent AS (SELECT * FROM reviews WHERE created_at > '2026-01-01') " +
		"SELECT semantic_sentiment(body) FROM recent"

	specs := Analyze(sql, entries)
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	if !strings.HasPrefix(specs[0].DistinctQuery, "WITH recent AS") {
		t.Fatalf("expected CTE reattachment, got %q", specs[0].DistinctQuery)
	}
}

func TestAnalyzeNoEligibleFunctionsReturnsEmpty(t *testing.T) {
	entries := []registry.FunctionEntry{
		scalarEntry("semantic_clean_year", "x", "text"),
	}
	specs := Analyze("SELECT name FROM products", entries)
	if len(specs) != 0 {
		t.Fatalf("expected 0 specs, got %d", len(specs))
	}
}
