package rewrite

import (
	"strings"

	"github.com/user/semsql/pkg/token"
)

// LegacyClausePasses applies the two clause-level operator forms that
// predate the generic infix-phrase system and are therefore excluded from
// Pass A's phrase matching (they'd otherwise be mis-parsed as ordinary
// infix operators): SEMANTIC JOIN and GROUP BY MEANING. Both are
// deliberately shallow, textual substitutions rather than the CTE-based
// rewriting the dimension rewriter does for registered DIMENSION
// functions — they are compatibility shims for the legacy phrasing, not a
// second bucketing engine.
//
// SEMANTIC DISTINCT is recognised only as a Pass A exclusion (so it is
// never mis-matched as a generic infix phrase); no further clause-level
// rewrite is defined for it anywhere in the source this was distilled
// from, so it is intentionally left as a pass-through here.
func LegacyClausePasses(sql string) (string, bool) {
	out, changed1 := RewriteSemanticJoin(sql)
	out, changed2 := RewriteGroupByMeaning(out)
	return out, changed1 || changed2
}

// RewriteSemanticJoin rewrites "<a> SEMANTIC JOIN <b>" into
// "semantic_join(<a>, <b>)" wherever it appears outside a string or
// comment token.
func RewriteSemanticJoin(sql string) (string, bool) {
	toks := token.Tokenize(sql)
	var out []token.Token
	changed := false

	for i := 0; i < len(toks); {
		tok := toks[i]
		if tok.Kind == token.KindString || tok.Kind == token.KindCommentLine || tok.Kind == token.KindCommentBlock {
			out = append(out, tok)
			i++
			continue
		}

		if lhsStart, lhsEnd, ok := parseDottedIdentSpan(toks, i); ok {
			j := skipWS(toks, lhsEnd)
			if _, mEnd, mok := matchPhrase(toks, j, []string{"SEMANTIC", "JOIN"}); mok {
				k := skipWS(toks, mEnd)
				if rStart, rEnd, rok := parseDottedIdentSpan(toks, k); rok {
					lhs := joinTokens(toks[lhsStart:lhsEnd])
					rhs := joinTokens(toks[rStart:rEnd])
					out = append(out, token.Other("semantic_join("+lhs+", "+rhs+")"))
					i = rEnd
					changed = true
					continue
				}
			}
		}

		out = append(out, tok)
		i++
	}

	if !changed {
		return sql, false
	}
	return token.Concat(out), true
}

// RewriteGroupByMeaning rewrites "<expr> MEANING '<criteria>'" into
// "semantic_group_meaning(<expr>, '<criteria>')", scoped to tokens inside
// a GROUP BY clause so a column named "meaning" elsewhere in the query is
// never touched.
func RewriteGroupByMeaning(sql string) (string, bool) {
	toks := token.Tokenize(sql)

	groupIdx := -1
	depth := 0
	for i, t := range toks {
		if t.Kind == token.KindPunct {
			switch t.Lexeme {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if depth == 0 && t.Kind == token.KindIdent && strings.EqualFold(t.Lexeme, "GROUP") {
			j := skipWS(toks, i+1)
			if j < len(toks) && toks[j].Kind == token.KindIdent && strings.EqualFold(toks[j].Lexeme, "BY") {
				groupIdx = j + 1
				break
			}
		}
	}
	if groupIdx < 0 {
		return sql, false
	}

	depth = 0
	clauseEnd := len(toks)
	for i := groupIdx; i < len(toks); i++ {
		t := toks[i]
		if t.Kind == token.KindPunct {
			switch t.Lexeme {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if depth == 0 && t.Kind == token.KindIdent {
			upper := strings.ToUpper(t.Lexeme)
			if upper == "ORDER" || upper == "HAVING" || upper == "LIMIT" {
				clauseEnd = i
				break
			}
		}
	}

	var rewritten []token.Token
	changed := false
	for i := groupIdx; i < clauseEnd; {
		tok := toks[i]
		if lhsStart, lhsEnd, ok := parseDottedIdentSpan(toks, i); ok {
			j := skipWS(toks, lhsEnd)
			if j < clauseEnd && toks[j].Kind == token.KindIdent && strings.EqualFold(toks[j].Lexeme, "MEANING") {
				k := skipWS(toks, j+1)
				if rStart, rEnd, rok := parseRHSSpan(toks, k); rok && rEnd <= clauseEnd {
					lhs := joinTokens(toks[lhsStart:lhsEnd])
					rhs := joinTokens(toks[rStart:rEnd])
					rewritten = append(rewritten, token.Other("semantic_group_meaning("+lhs+", "+rhs+")"))
					i = rEnd
					changed = true
					continue
				}
			}
		}
		rewritten = append(rewritten, tok)
		i++
	}

	if !changed {
		return sql, false
	}

	var out []token.Token
	out = append(out, toks[:groupIdx]...)
	out = append(out, rewritten...)
	out = append(out, toks[clauseEnd:]...)
	return token.Concat(out), true
}
