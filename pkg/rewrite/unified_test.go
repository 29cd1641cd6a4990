package rewrite

import (
	"strings"
	"testing"

	"github.com/user/semsql/pkg/registry"
)

func buildTestRegistry() *registry.Registry {
	r := registry.New()
	r.Register(registry.FunctionEntry{
		Name:      "semantic_matches",
		Returns:   "BOOLEAN",
		Operators: []string{"{{ text }} MEANS {{ criterion }}"},
	})
	r.Register(sentimentEntry())
	r.Register(semanticCaseEntry())
	return r
}

func TestRewriteAllAppliesEveryPhase(t *testing.T) {
	sql := `SELECT
		SEMANTIC_CASE review
			WHEN SEMANTIC 'angry' THEN 'negative'
			ELSE 'neutral'
		END AS tone,
		sentiment(observed, 'fear') AS mood
	FROM bigfoot_vw
	WHERE observed MEANS 'scared'
	GROUP BY sentiment(observed, 'fear')`

	result := RewriteAll(sql, buildTestRegistry())
	if !result.Changed {
		t.Fatalf("expected a change")
	}
	if strings.Contains(result.SQL, "SEMANTIC_CASE") {
		t.Fatalf("block construct not rewritten: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "semantic_case(review") {
		t.Fatalf("expected block rewrite, got %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "_dim_classified AS (") {
		t.Fatalf("expected dimension CTE, got %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "semantic_matches(observed,") {
		t.Fatalf("expected infix rewrite, got %q", result.SQL)
	}
}

func TestRewriteAllPreservesBackgroundDirective(t *testing.T) {
	sql := `BACKGROUND SELECT * FROM t WHERE a MEANS 'x'`
	result := RewriteAll(sql, buildTestRegistry())
	if !result.HasDirective {
		t.Fatalf("expected directive detected")
	}
	if strings.Contains(result.SQL, "BACKGROUND") {
		t.Fatalf("directive prefix should not appear in rewritten SQL: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "semantic_matches(a,") {
		t.Fatalf("expected inner SQL rewritten, got %q", result.SQL)
	}
}

func TestRewriteAllNoopOnPlainSQL(t *testing.T) {
	sql := `SELECT * FROM t WHERE a = 1`
	result := RewriteAll(sql, buildTestRegistry())
	if result.Changed {
		t.Fatalf("expected no change, got %q", result.SQL)
	}
	if result.SQL != sql {
		t.Fatalf("expected SQL unchanged, got %q", result.SQL)
	}
}

func TestRewriteAllVectorSearchRunsBeforeInfix(t *testing.T) {
	sql := `SELECT * FROM VECTOR_SEARCH('q', t.col, 5) WHERE a MEANS 'x'`
	result := RewriteAll(sql, buildTestRegistry())
	if !strings.Contains(result.SQL, "read_json_auto(vector_search_json_3(") {
		t.Fatalf("expected vector search rewritten, got %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "semantic_matches(a,") {
		t.Fatalf("expected infix rewrite to still apply, got %q", result.SQL)
	}
}
