package rewrite

import (
	"strings"
	"testing"
)

func TestRewriteSemanticJoin(t *testing.T) {
	got, changed := RewriteSemanticJoin(`SELECT * FROM reviews r SEMANTIC JOIN topics t`)
	if !changed {
		t.Fatalf("expected rewrite")
	}
	if !strings.Contains(got, "semantic_join(r, topics)") {
		t.Fatalf("got %q", got)
	}
}

func TestRewriteSemanticJoinNoMatchIsNoop(t *testing.T) {
	sql := `SELECT * FROM t JOIN u ON t.id = u.id`
	got, changed := RewriteSemanticJoin(sql)
	if changed || got != sql {
		t.Fatalf("expected noop, got %q", got)
	}
}

func TestRewriteSemanticJoinNeverMatchesInsideString(t *testing.T) {
	sql := `SELECT 'a SEMANTIC JOIN b' FROM t`
	got, changed := RewriteSemanticJoin(sql)
	if changed || got != sql {
		t.Fatalf("expected noop, got %q", got)
	}
}

func TestRewriteGroupByMeaning(t *testing.T) {
	sql := `SELECT review MEANING 'complaint', COUNT(*) FROM reviews GROUP BY review MEANING 'complaint'`
	got, changed := RewriteGroupByMeaning(sql)
	if !changed {
		t.Fatalf("expected rewrite")
	}
	if !strings.Contains(got, "GROUP BY semantic_group_meaning(review, 'complaint')") {
		t.Fatalf("got %q", got)
	}
	// Outside the GROUP BY clause, the phrase is left untouched.
	if !strings.HasPrefix(got, "SELECT review MEANING 'complaint', COUNT(*) FROM reviews GROUP BY") {
		t.Fatalf("expected SELECT-list occurrence untouched, got %q", got)
	}
}

func TestRewriteGroupByMeaningNoGroupByIsNoop(t *testing.T) {
	sql := `SELECT review MEANING 'complaint' FROM reviews`
	got, changed := RewriteGroupByMeaning(sql)
	if changed || got != sql {
		t.Fatalf("expected noop, got %q", got)
	}
}

func TestLegacyClausePassesCombinesBoth(t *testing.T) {
	sql := `SELECT * FROM reviews r SEMANTIC JOIN topics t GROUP BY r.review MEANING 'complaint'`
	got, changed := LegacyClausePasses(sql)
	if !changed {
		t.Fatalf("expected rewrite")
	}
	if !strings.Contains(got, "semantic_join(r, topics)") || !strings.Contains(got, "semantic_group_meaning(r.review, 'complaint')") {
		t.Fatalf("got %q", got)
	}
}
