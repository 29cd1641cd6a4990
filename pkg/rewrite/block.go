package rewrite

import (
	"encoding/json"
	"strings"

	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/token"
)

// RewriteBlocks rewrites every block-shaped construct (SEMANTIC_CASE ... END
// and similar) into a function call, looping until no further block spec
// matches the remaining SQL.
func RewriteBlocks(sql string, entries []registry.FunctionEntry) string {
	var specs []registry.FunctionEntry
	for _, e := range entries {
		if e.BlockOperator != nil {
			specs = append(specs, e)
		}
	}
	if len(specs) == 0 {
		return sql
	}

	changed := true
	for changed {
		changed = false
		for _, spec := range specs {
			if rewritten, ok := rewriteOneBlock(sql, spec); ok {
				sql = rewritten
				changed = true
			}
		}
	}
	return sql
}

func rewriteOneBlock(sql string, entry registry.FunctionEntry) (string, bool) {
	toks := token.Tokenize(sql)
	spec := entry.BlockOperator

	startIdx := -1
	for i, tok := range toks {
		if tok.Kind == token.KindString || tok.Kind == token.KindCommentLine || tok.Kind == token.KindCommentBlock {
			continue
		}
		if tok.Kind == token.KindIdent && strings.ToUpper(tok.Lexeme) == spec.Start && tok.Lexeme == strings.ToUpper(tok.Lexeme) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return sql, false
	}

	endIdx := -1
	depth := 1
	for i := startIdx + 1; i < len(toks); i++ {
		tok := toks[i]
		if tok.Kind == token.KindString || tok.Kind == token.KindCommentLine || tok.Kind == token.KindCommentBlock {
			continue
		}
		if tok.Kind != token.KindIdent {
			continue
		}
		upper := strings.ToUpper(tok.Lexeme)
		switch upper {
		case spec.Start:
			depth++
		case spec.End:
			depth--
			if depth == 0 {
				endIdx = i
			}
		}
		if endIdx >= 0 {
			break
		}
	}
	if endIdx < 0 {
		return sql, false
	}

	blockToks := toks[startIdx : endIdx+1]
	captures, ok := parseBlockStructure(blockToks, spec.Structure, spec.End)
	if !ok {
		return sql, false
	}

	call := generateFunctionCall(entry.Name, spec.Structure, captures)

	var out []token.Token
	out = append(out, toks[:startIdx]...)
	out = append(out, token.Other(call))
	out = append(out, toks[endIdx+1:]...)
	return token.Concat(out), true
}

// blockCapture holds either a single scalar value or, for a repeat node, the
// per-iteration scalar arrays keyed by capture name.
type blockCapture struct {
	scalar string
	array  []string
	isSet  bool
}

func parseBlockStructure(toks []token.Token, structure []registry.StructureNode, endKeyword string) (map[string]blockCapture, bool) {
	captures := map[string]blockCapture{}
	i := 1 // skip start keyword
	i = token.SkipWS(toks, i)

	for _, el := range structure {
		if i >= len(toks) {
			break
		}
		switch {
		case el.Keyword != "":
			words := strings.Fields(strings.ToUpper(el.Keyword))
			var ok bool
			i, ok = matchKeywords(toks, i, words)
			if !ok {
				return nil, false
			}

		case el.Capture != "":
			val, newI, ok := captureValue(toks, i, el.As)
			if ok {
				captures[el.Capture] = blockCapture{scalar: val, isSet: true}
				i = newI
			}

		case el.Repeat != nil:
			pattern := el.Repeat.Pattern
			arrays := map[string][]string{}
			for _, p := range pattern {
				if p.Capture != "" {
					arrays[p.Capture] = nil
				}
			}
			count := 0
			for i < len(toks) {
				i = token.SkipWS(toks, i)
				result, newI, ok := matchPattern(toks, i, pattern, endKeyword)
				if !ok {
					break
				}
				for k, v := range result {
					arrays[k] = append(arrays[k], v)
				}
				i = newI
				count++
			}
			if count < el.Repeat.Min {
				return nil, false
			}
			for k, v := range arrays {
				captures[pluralKey(k)] = blockCapture{array: v, isSet: true}
			}

		case el.Optional != nil:
			i = token.SkipWS(toks, i)
			result, newI, ok := matchPattern(toks, i, el.Optional.Pattern, endKeyword)
			if ok {
				for k, v := range result {
					captures[k] = blockCapture{scalar: v, isSet: true}
				}
				i = newI
			}
		}
	}
	return captures, true
}

func pluralKey(name string) string {
	if strings.HasSuffix(name, "s") {
		return name + "_list"
	}
	return name + "s"
}

func matchKeywords(toks []token.Token, start int, words []string) (int, bool) {
	i := start
	for _, w := range words {
		i = token.SkipWS(toks, i)
		if i >= len(toks) || toks[i].Kind != token.KindIdent || strings.ToUpper(toks[i].Lexeme) != w {
			return start, false
		}
		i++
	}
	return i, true
}

func captureValue(toks []token.Token, start int, as string) (string, int, bool) {
	i := token.SkipWS(toks, start)
	if i >= len(toks) {
		return "", start, false
	}
	tok := toks[i]
	switch as {
	case "string":
		if tok.Kind == token.KindString {
			return token.Unquote(tok.Lexeme), i + 1, true
		}
		return "", start, false
	default: // "expression"
		if tok.Kind == token.KindIdent {
			return tok.Lexeme, i + 1, true
		}
		return "", start, false
	}
}

func matchPattern(toks []token.Token, start int, pattern []registry.StructureNode, endKeyword string) (map[string]string, int, bool) {
	i := start
	result := map[string]string{}

	for _, el := range pattern {
		i = token.SkipWS(toks, i)
		if i >= len(toks) {
			return nil, start, false
		}
		if toks[i].Kind == token.KindIdent && strings.ToUpper(toks[i].Lexeme) == endKeyword {
			return nil, start, false
		}

		switch {
		case el.Keyword != "":
			words := strings.Fields(strings.ToUpper(el.Keyword))
			newI, ok := matchKeywords(toks, i, words)
			if !ok {
				return nil, start, false
			}
			i = newI
		case el.Capture != "":
			val, newI, ok := captureValue(toks, i, el.As)
			if !ok {
				return nil, start, false
			}
			result[el.Capture] = val
			i = newI
		}
	}
	return result, i, true
}

// generateFunctionCall synthesises `name(arg1, arg2, ...)` from captures in
// structure order: scalar captures as literal/bare expression, repeat
// captures as a JSON-encoded array string literal, absent optionals as NULL.
func generateFunctionCall(name string, structure []registry.StructureNode, captures map[string]blockCapture) string {
	var args []string

	for _, el := range structure {
		switch {
		case el.Capture != "":
			c, ok := captures[el.Capture]
			if !ok || !c.isSet {
				continue
			}
			if el.As == "string" {
				args = append(args, "'"+strings.ReplaceAll(c.scalar, "'", "''")+"'")
			} else {
				args = append(args, c.scalar)
			}

		case el.Repeat != nil:
			for _, p := range el.Repeat.Pattern {
				if p.Capture == "" {
					continue
				}
				key := pluralKey(p.Capture)
				c, ok := captures[key]
				if !ok {
					continue
				}
				encoded, _ := json.Marshal(c.array)
				args = append(args, "'"+string(encoded)+"'")
			}

		case el.Optional != nil:
			for _, p := range el.Optional.Pattern {
				if p.Capture == "" {
					continue
				}
				c, ok := captures[p.Capture]
				if ok && c.isSet {
					args = append(args, "'"+strings.ReplaceAll(c.scalar, "'", "''")+"'")
				} else {
					args = append(args, "NULL")
				}
			}
		}
	}

	return name + "(" + strings.Join(args, ", ") + ")"
}
