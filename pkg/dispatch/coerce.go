package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/user/semsql"
)

// coerceReturnType converts a cascade's extracted output into the Go value
// matching the registry entry's declared SQL return type, mirroring the
// permissive string-or-native handling executor.py applies post-extraction.
func coerceReturnType(output any, rt semsql.ReturnType) any {
	switch rt {
	case semsql.ReturnBoolean:
		return coerceBool(unwrapSingleValue(output))
	case semsql.ReturnDouble:
		return coerceFloat(unwrapSingleValue(output))
	case semsql.ReturnInteger:
		return coerceInt(unwrapSingleValue(output))
	default:
		return output
	}
}

// singleValueWrapperKeys is the priority order the original extraction used
// to unwrap a JSON-mode LLM output like {"value": true} or {"answer": 0.82}
// before coercing it to a scalar. "type" is included because LLMs sometimes
// misread output_schema's "type: X" field as an instruction to return an
// object shaped {"type": X}.
var singleValueWrapperKeys = []string{"value", "result", "type", "year", "score", "output", "answer"}

// unwrapSingleValue extracts the scalar out of a single-value wrapper object
// ({"value": X}, {"answer": X}, ...) so BOOLEAN/DOUBLE/INTEGER coercion sees
// X directly rather than the zero value every map falls through to. Anything
// that isn't a map[string]any passes through unchanged.
func unwrapSingleValue(output any) any {
	m, ok := output.(map[string]any)
	if !ok {
		return output
	}
	for _, key := range singleValueWrapperKeys {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if len(m) == 1 {
		for _, v := range m {
			return v
		}
	}
	return output
}

func coerceBool(output any) bool {
	switch v := output.(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "yes" || s == "1"
	case float64:
		return v != 0
	default:
		return output != nil
	}
}

func coerceFloat(output any) float64 {
	switch v := output.(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

func coerceInt(output any) int64 {
	switch v := output.(type) {
	case float64:
		return int64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return int64(f)
	default:
		return 0
	}
}

// renderResult stringifies a coerced output for the UDF's scalar return
// channel: maps/slices become JSON text, everything else renders as its
// plain Go string form (matching the original's str(output) fallback).
func renderResult(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
