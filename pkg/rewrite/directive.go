package rewrite

import (
	"strings"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/token"
)

// StripDirective detects a leading BACKGROUND or ANALYZE prefix and returns
// the inner SQL plus the parsed directive. ok is false when sql carries no
// directive; detection never errors, it only fails closed.
func StripDirective(sql string) (innerSQL string, directive semsql.Directive, ok bool) {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	if !strings.HasPrefix(upper, "BACKGROUND") && !strings.HasPrefix(upper, "ANALYZE") {
		return sql, semsql.Directive{}, false
	}

	toks := token.Tokenize(trimmed)

	i := token.SkipWS(toks, 0)
	if i >= len(toks) || toks[i].Kind != token.KindIdent {
		return sql, semsql.Directive{}, false
	}

	switch strings.ToUpper(toks[i].Lexeme) {
	case "BACKGROUND":
		return stripBackground(toks, i, trimmed)
	case "ANALYZE":
		return stripAnalyze(toks, i, trimmed)
	default:
		return sql, semsql.Directive{}, false
	}
}

func stripBackground(toks []token.Token, directiveIdx int, original string) (string, semsql.Directive, bool) {
	i := token.SkipWS(toks, directiveIdx+1)
	if i >= len(toks) {
		return original, semsql.Directive{}, false
	}
	inner := strings.TrimSpace(original[charOffset(toks, i):])
	return inner, semsql.Directive{
		Type:     semsql.DirectiveBackground,
		InnerSQL: inner,
	}, true
}

func stripAnalyze(toks []token.Token, directiveIdx int, original string) (string, semsql.Directive, bool) {
	promptIdx := token.SkipWS(toks, directiveIdx+1)
	if promptIdx >= len(toks) || toks[promptIdx].Kind != token.KindString {
		return original, semsql.Directive{}, false
	}
	prompt := token.Unquote(toks[promptIdx].Lexeme)

	innerIdx := token.SkipWS(toks, promptIdx+1)
	if innerIdx >= len(toks) {
		return original, semsql.Directive{}, false
	}
	inner := strings.TrimSpace(original[charOffset(toks, innerIdx):])

	return inner, semsql.Directive{
		Type:     semsql.DirectiveAnalyze,
		InnerSQL: inner,
		Prompt:   prompt,
	}, true
}

// charOffset returns the byte offset in the source text where toks[idx]
// begins, given that toks were produced by tokenizing that same text from
// offset 0.
func charOffset(toks []token.Token, idx int) int {
	off := 0
	for i := 0; i < idx; i++ {
		off += len(toks[i].Lexeme)
	}
	return off
}
