package rewrite

import (
	"strings"

	"github.com/user/semsql/pkg/token"
)

// aggregateSugarImpls maps each aggregate-sugar surface identifier to the
// scalar implementation function it collapses into.
var aggregateSugarImpls = map[string]string{
	"LLM_AGG":   "semantic_aggregate_impl",
	"SUMMARIZE": "semantic_summarize_impl",
}

// RewriteAggregateSugar rewrites LLM_AGG(<col>)/SUMMARIZE(<col>) into
// <impl>(LIST(<col>)::VARCHAR): collect the group's values with LIST(),
// cast to VARCHAR (JSON), and call the scalar implementation function —
// aggregate semantics with no real DuckDB aggregate UDF needed.
func RewriteAggregateSugar(sql string) (string, bool) {
	toks := token.Tokenize(sql)
	var edits []dimensionEdit

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Kind != token.KindIdent {
			continue
		}
		impl, ok := aggregateSugarImpls[strings.ToUpper(tok.Lexeme)]
		if !ok {
			continue
		}
		j := token.SkipWS(toks, i+1)
		if j >= len(toks) || toks[j].Kind != token.KindPunct || toks[j].Lexeme != "(" {
			continue
		}
		closeIdx := matchParen(toks, j)
		if closeIdx < 0 {
			continue
		}
		argsText := strings.TrimSpace(token.Concat(toks[j+1 : closeIdx]))
		replacement := impl + "(LIST(" + argsText + ")::VARCHAR)"
		edits = append(edits, dimensionEdit{start: i, end: closeIdx, replacement: replacement})
		i = closeIdx
	}

	if len(edits) == 0 {
		return sql, false
	}

	out := toks
	for k := len(edits) - 1; k >= 0; k-- {
		ed := edits[k]
		var spliced []token.Token
		spliced = append(spliced, out[:ed.start]...)
		spliced = append(spliced, token.Other(ed.replacement))
		spliced = append(spliced, out[ed.end+1:]...)
		out = spliced
	}
	return token.Concat(out), true
}
