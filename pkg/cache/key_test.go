package cache

import "testing"

func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("semantic_matches", map[string]any{"text": "hi", "criterion": "greeting"})
	b := CacheKey("semantic_matches", map[string]any{"criterion": "greeting", "text": "hi"})
	if a != b {
		t.Fatalf("expected key independent of arg insertion order, got %q vs %q", a, b)
	}
}

func TestCacheKeyVariesByFunction(t *testing.T) {
	args := map[string]any{"text": "hi"}
	a := CacheKey("fn_a", args)
	b := CacheKey("fn_b", args)
	if a == b {
		t.Fatalf("expected different functions to produce different keys")
	}
}

func TestCacheKeyVariesByArgs(t *testing.T) {
	a := CacheKey("fn", map[string]any{"text": "hi"})
	b := CacheKey("fn", map[string]any{"text": "bye"})
	if a == b {
		t.Fatalf("expected different args to produce different keys")
	}
}

func TestCacheKeyStableAcrossScalarTypes(t *testing.T) {
	a := CacheKey("fn", map[string]any{"n": 5})
	b := CacheKey("fn", map[string]any{"n": float64(5)})
	if a != b {
		t.Fatalf("expected int 5 and float64 5 to hash the same")
	}
}
