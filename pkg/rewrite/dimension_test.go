package rewrite

import (
	"strings"
	"testing"

	"github.com/user/semsql/pkg/registry"
)

func sentimentEntry() registry.FunctionEntry {
	return registry.FunctionEntry{
		Name:      "sentiment",
		Dimension: &registry.DimensionFunction{Mode: "mapping"},
	}
}

func moodEntry() registry.FunctionEntry {
	classifier := &registry.DimensionStage{Function: "mood_classify_fn"}
	extractor := &registry.DimensionStage{Function: "mood_extract_fn"}
	return registry.FunctionEntry{
		Name: "mood",
		Dimension: &registry.DimensionFunction{
			Mode:       "extractor_classifier",
			Extractor:  extractor,
			Classifier: classifier,
		},
	}
}

func TestRewriteDimensionsMappingMode(t *testing.T) {
	sql := `SELECT state, sentiment(observed, 'fear') as mood, COUNT(*)
FROM bigfoot_vw
GROUP BY state, sentiment(observed, 'fear')`

	got, changed := RewriteDimensions(sql, []registry.FunctionEntry{sentimentEntry()})
	if !changed {
		t.Fatalf("expected rewrite, got unchanged: %q", got)
	}
	if !strings.HasPrefix(got, "WITH\n") {
		t.Fatalf("expected WITH prefix, got %q", got)
	}
	if !strings.Contains(got, "_mapping AS (") {
		t.Fatalf("missing mapping CTE: %q", got)
	}
	if !strings.Contains(got, "sentiment_compute_2(") {
		t.Fatalf("expected arity-2 compute func, got %q", got)
	}
	if !strings.Contains(got, "_dim_classified AS (") {
		t.Fatalf("missing classification CTE: %q", got)
	}
	if !strings.Contains(got, "FROM _dim_classified") {
		t.Fatalf("expected FROM rewritten to _dim_classified, got %q", got)
	}
	if strings.Contains(got, "sentiment(observed") {
		t.Fatalf("expected dimension call replaced, got %q", got)
	}
	if !strings.Contains(got, "AS mood") {
		t.Fatalf("expected alias preserved on first occurrence, got %q", got)
	}
}

func TestRewriteDimensionsNoDimensionFuncsIsNoop(t *testing.T) {
	sql := `SELECT * FROM t`
	got, changed := RewriteDimensions(sql, nil)
	if changed || got != sql {
		t.Fatalf("expected noop, got %q changed=%v", got, changed)
	}
}

func TestRewriteDimensionsNoCallPresentIsNoop(t *testing.T) {
	sql := `SELECT state FROM t`
	got, changed := RewriteDimensions(sql, []registry.FunctionEntry{sentimentEntry()})
	if changed || got != sql {
		t.Fatalf("expected noop, got %q changed=%v", got, changed)
	}
}

func TestRewriteDimensionsExtractorClassifierMode(t *testing.T) {
	sql := `SELECT mood(review) as bucket, COUNT(*) FROM reviews GROUP BY mood(review)`
	got, changed := RewriteDimensions(sql, []registry.FunctionEntry{moodEntry()})
	if !changed {
		t.Fatalf("expected rewrite, got unchanged: %q", got)
	}
	if !strings.Contains(got, "_buckets AS (") {
		t.Fatalf("missing buckets CTE: %q", got)
	}
	if !strings.Contains(got, "mood_extract_fn(") {
		t.Fatalf("expected configured extractor func, got %q", got)
	}
	if !strings.Contains(got, "mood_classify_fn(") {
		t.Fatalf("expected configured classifier func, got %q", got)
	}
	if !strings.Contains(got, "FROM _dim_classified") {
		t.Fatalf("expected FROM rewritten, got %q", got)
	}
}

func TestRewriteDimensionsWithWhereClausePropagates(t *testing.T) {
	sql := `SELECT sentiment(observed) FROM bigfoot_vw WHERE state = 'CA' GROUP BY sentiment(observed)`
	got, changed := RewriteDimensions(sql, []registry.FunctionEntry{sentimentEntry()})
	if !changed {
		t.Fatalf("expected rewrite")
	}
	if strings.Count(got, "WHERE state = 'CA'") < 2 {
		t.Fatalf("expected WHERE propagated into both extraction and classification CTEs, got %q", got)
	}
}

func TestRewriteDimensionsDedupesRepeatedCall(t *testing.T) {
	sql := `SELECT sentiment(observed), sentiment(observed) FROM bigfoot_vw`
	got, _ := RewriteDimensions(sql, []registry.FunctionEntry{sentimentEntry()})
	if strings.Count(got, "_mapping AS (") != 1 {
		t.Fatalf("expected single shared mapping CTE for repeated identical call, got %q", got)
	}
}
