package dispatch

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencePattern = regexp.MustCompile("(?s)^```(?:[A-Za-z0-9_]+)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownFences removes a leading/trailing ``` or ```lang code fence
// from an LLM output string, returning the inner text unchanged if no fence
// is present.
func stripMarkdownFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// extractCascadeOutput pulls the final cell output out of a cascade run
// result in priority order: the last lineage entry's output (unwrapping a
// nested "result" key), then the last non-system assistant history message,
// then a direct "result"/"output" key, then the result map itself.
func extractCascadeOutput(result map[string]any) any {
	if result == nil {
		return nil
	}

	var output any

	if lineage, ok := result["lineage"].([]any); ok && len(lineage) > 0 {
		if last, ok := lineage[len(lineage)-1].(map[string]any); ok {
			if v, ok := last["output"]; ok {
				output = v
				if nested, ok := v.(map[string]any); ok {
					if r, ok := nested["result"]; ok {
						output = r
					}
				}
			}
		}
	}

	if output == nil {
		if history, ok := result["history"].([]any); ok {
			for i := len(history) - 1; i >= 0; i-- {
				msg, ok := history[i].(map[string]any)
				if !ok {
					continue
				}
				role, _ := msg["role"].(string)
				if role == "system" || role == "cell_complete" || role == "structure" {
					continue
				}
				if cj, ok := msg["content_json"]; ok && cj != nil {
					output = cj
					break
				}
				if content, ok := msg["content"].(string); ok && content != "" &&
					!strings.HasPrefix(content, "Cell:") && !strings.HasPrefix(content, "Cascade:") {
					output = content
					break
				}
			}
		}
	}

	if output == nil {
		if v, ok := result["result"]; ok {
			output = v
		} else if v, ok := result["output"]; ok {
			output = v
		} else {
			output = result
		}
	}

	if s, ok := output.(string); ok {
		stripped := stripMarkdownFences(s)
		trimmed := strings.TrimSpace(stripped)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if gjson.Valid(trimmed) {
				return gjson.Parse(trimmed).Value()
			}
		}
		return stripped
	}

	return output
}
