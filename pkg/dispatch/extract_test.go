package dispatch

import "testing"

func TestStripMarkdownFencesWithLanguage(t *testing.T) {
	got := stripMarkdownFences("```json\n{\"a\":1}\n```")
	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestStripMarkdownFencesNoFence(t *testing.T) {
	got := stripMarkdownFences("plain text")
	if got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractCascadeOutputPrefersLineage(t *testing.T) {
	result := map[string]any{
		"lineage": []any{
			map[string]any{"output": "first"},
			map[string]any{"output": "last"},
		},
		"result": "fallback",
	}
	got := extractCascadeOutput(result)
	if got != "last" {
		t.Fatalf("expected last lineage output, got %v", got)
	}
}

func TestExtractCascadeOutputUnwrapsNestedResult(t *testing.T) {
	result := map[string]any{
		"lineage": []any{
			map[string]any{"output": map[string]any{"result": "nested"}},
		},
	}
	got := extractCascadeOutput(result)
	if got != "nested" {
		t.Fatalf("expected unwrapped nested result, got %v", got)
	}
}

func TestExtractCascadeOutputFallsBackToHistory(t *testing.T) {
	result := map[string]any{
		"history": []any{
			map[string]any{"role": "system", "content": "Cell: setup"},
			map[string]any{"role": "assistant", "content": "the answer"},
		},
	}
	got := extractCascadeOutput(result)
	if got != "the answer" {
		t.Fatalf("expected last assistant message, got %v", got)
	}
}

func TestExtractCascadeOutputDirectResultKey(t *testing.T) {
	got := extractCascadeOutput(map[string]any{"result": "direct"})
	if got != "direct" {
		t.Fatalf("got %v", got)
	}
}

func TestExtractCascadeOutputNilResultIsNil(t *testing.T) {
	if got := extractCascadeOutput(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
