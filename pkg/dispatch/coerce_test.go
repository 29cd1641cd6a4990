package dispatch

import (
	"testing"

	"github.com/user/semsql"
)

func TestCoerceReturnTypeBoolean(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{"true", true}, {"yes", true}, {"1", true},
		{"false", false}, {"no", false}, {"0", false},
		{true, true}, {false, false},
	}
	for _, c := range cases {
		got := coerceReturnType(c.in, semsql.ReturnBoolean)
		if got != c.want {
			t.Fatalf("coerceReturnType(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCoerceReturnTypeDouble(t *testing.T) {
	got := coerceReturnType("3.5", semsql.ReturnDouble)
	if got != 3.5 {
		t.Fatalf("got %v", got)
	}
	got = coerceReturnType("not-a-number", semsql.ReturnDouble)
	if got != 0.0 {
		t.Fatalf("expected 0.0 fallback, got %v", got)
	}
}

func TestCoerceReturnTypeInteger(t *testing.T) {
	got := coerceReturnType("42.0", semsql.ReturnInteger)
	if got != int64(42) {
		t.Fatalf("got %v", got)
	}
}

func TestCoerceReturnTypeUnwrapsSingleValueWrapper(t *testing.T) {
	if got := coerceReturnType(map[string]any{"value": true}, semsql.ReturnBoolean); got != true {
		t.Fatalf("got %v", got)
	}
	if got := coerceReturnType(map[string]any{"answer": 0.82}, semsql.ReturnDouble); got != 0.82 {
		t.Fatalf("got %v", got)
	}
	if got := coerceReturnType(map[string]any{"year": 2024.0}, semsql.ReturnInteger); got != int64(2024) {
		t.Fatalf("got %v", got)
	}
}

func TestCoerceReturnTypeUnwrapsSingleKeyFallback(t *testing.T) {
	got := coerceReturnType(map[string]any{"is_eco_friendly": true}, semsql.ReturnBoolean)
	if got != true {
		t.Fatalf("got %v", got)
	}
}

func TestCoerceReturnTypePrefersPriorityKeyOverOtherKeys(t *testing.T) {
	got := coerceReturnType(map[string]any{"reasoning": "because", "value": false}, semsql.ReturnBoolean)
	if got != false {
		t.Fatalf("got %v", got)
	}
}

func TestRenderResultMarshalsComplexTypes(t *testing.T) {
	got := renderResult(map[string]any{"a": float64(1)})
	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestRenderResultScalars(t *testing.T) {
	if renderResult(true) != "true" {
		t.Fatalf("bool render failed")
	}
	if renderResult(int64(7)) != "7" {
		t.Fatalf("int render failed")
	}
}
