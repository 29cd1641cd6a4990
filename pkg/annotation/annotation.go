// Package annotation parses `-- @ ...` hint comments that precede a
// semantic operator and accumulates them until the rewriter consumes them
// against the next rewrite site.
package annotation

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Annotation is the parsed form of a single `-- @ ...` comment line.
type Annotation struct {
	PromptPrefix string
	Threshold    *float64
	Takes        map[string]any // cascade-level "takes." config, or "models" shorthand
}

// Pending accumulates annotations seen since the last consumption point.
// Multiple `-- @ ...` lines merge: prompt prefixes concatenate, threshold
// and takes keys overwrite/merge, matching the original source's behavior
// of letting later hints refine earlier ones.
type Pending struct {
	PromptPrefix string
	Threshold    *float64
	Takes        map[string]any
}

// Merge folds ann into p.
func (p *Pending) Merge(ann Annotation) {
	if ann.PromptPrefix != "" {
		p.PromptPrefix += ann.PromptPrefix
	}
	if ann.Threshold != nil {
		p.Threshold = ann.Threshold
	}
	if ann.Takes != nil {
		if p.Takes == nil {
			p.Takes = map[string]any{}
		}
		for k, v := range ann.Takes {
			p.Takes[k] = v
		}
	}
}

// ConsumePrompt clears the prompt prefix, returning its prior value.
func (p *Pending) ConsumePrompt() string {
	v := p.PromptPrefix
	p.PromptPrefix = ""
	return v
}

// ConsumeThreshold clears the threshold, returning its prior value.
func (p *Pending) ConsumeThreshold() *float64 {
	v := p.Threshold
	p.Threshold = nil
	return v
}

// ConsumeTakes clears the takes config, returning its prior value.
func (p *Pending) ConsumeTakes() map[string]any {
	v := p.Takes
	p.Takes = nil
	return v
}

// Empty reports whether nothing is pending.
func (p *Pending) Empty() bool {
	return p.PromptPrefix == "" && p.Threshold == nil && p.Takes == nil
}

var takesIntKeys = map[string]bool{"factor": true, "max_parallel": true, "reforge": true}

// Parse parses a single comment line's text (including the leading `--`).
// It returns (Annotation{}, false) when the comment is not a `-- @` hint.
func Parse(commentText string) (Annotation, bool) {
	stripped := strings.TrimSpace(commentText)
	if !strings.HasPrefix(stripped, "-- @") {
		return Annotation{}, false
	}

	content := strings.TrimSpace(stripped[4:])
	if content == "" {
		return Annotation{PromptPrefix: ""}, true
	}

	if strings.Contains(content, ":") && !strings.HasPrefix(content, "http") {
		key, value, _ := strings.Cut(content, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch {
		case key == "parallel" || key == "batch_size" || key == "parallel_scope":
			// Not carried in Annotation: the prewarm sidecar reads `parallel`
			// from the raw SQL itself; batch_size and parallel_scope are ignored.
			return Annotation{PromptPrefix: ""}, true

		case key == "threshold":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				return Annotation{PromptPrefix: "", Threshold: &f}, true
			}
			return Annotation{PromptPrefix: ""}, true

		case key == "model" && value != "":
			return Annotation{PromptPrefix: "Use " + value + " - "}, true

		case key == "prompt" && value != "":
			return Annotation{PromptPrefix: value + " - "}, true

		case strings.HasPrefix(key, "takes."):
			subkey := key[len("takes."):]
			takes := map[string]any{}
			switch {
			case takesIntKeys[subkey]:
				if n, err := strconv.Atoi(value); err == nil {
					takes[subkey] = n
				} else {
					takes[subkey] = value
				}
			case subkey == "mutate":
				lv := strings.ToLower(value)
				takes[subkey] = lv == "true" || lv == "yes" || lv == "1"
			default:
				takes[subkey] = value
			}
			return Annotation{PromptPrefix: "", Takes: takes}, true

		case key == "models":
			models := parseModelsList(value)
			return Annotation{
				PromptPrefix: "",
				Takes: map[string]any{
					"multi_model": models,
					"factor":      len(models),
				},
			}, true
		}

		if value != "" {
			return Annotation{PromptPrefix: content + " - "}, true
		}
		return Annotation{PromptPrefix: ""}, true
	}

	return Annotation{PromptPrefix: content + " - "}, true
}

// parseModelsList accepts either a JSON array (`["a","b"]`) or a
// bracket-stripped comma-separated list (`a, b, c`).
func parseModelsList(value string) []string {
	var fromJSON []string
	if err := json.Unmarshal([]byte(value), &fromJSON); err == nil {
		return fromJSON
	}
	trimmed := strings.Trim(value, "[]")
	var models []string
	for _, p := range strings.Split(trimmed, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			models = append(models, p)
		}
	}
	return models
}
