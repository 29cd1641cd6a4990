package rewrite

import (
	"sort"
	"strconv"
	"strings"

	"github.com/user/semsql/pkg/token"
)

// vectorSearchFuncs maps the SQL-facing sugar keyword to the internal
// JSON-producing table function base name it expands into.
var vectorSearchFuncs = map[string]string{
	"VECTOR_SEARCH": "vector_search_json",
	"HYBRID_SEARCH": "hybrid_search_json",
}

// HasVectorSearchCalls reports whether sql contains any VECTOR_SEARCH or
// HYBRID_SEARCH call outside a string or comment, letting the unified
// pipeline skip this pass cheaply on the common case.
func HasVectorSearchCalls(sql string) bool {
	toks := token.Tokenize(sql)
	for _, t := range toks {
		if t.Kind == token.KindIdent {
			if _, ok := vectorSearchFuncs[strings.ToUpper(t.Lexeme)]; ok {
				return true
			}
		}
	}
	return false
}

// RewriteVectorSearch rewrites VECTOR_SEARCH('q', t.col, k[, opts...]) and
// HYBRID_SEARCH(...) sugar into a call to an internal JSON-producing table
// function, wrapped in read_json_auto for row expansion, plus a predicate
// on the query's WHERE clause selecting the specific column_name the
// search targeted. Must run before the infix/function passes so t.col
// arguments are never mis-parsed as an infix operand.
func RewriteVectorSearch(sql string) (string, bool) {
	if !HasVectorSearchCalls(sql) {
		return sql, false
	}

	toks := token.Tokenize(sql)
	var edits []dimensionEdit
	var columnPredicates []string

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Kind != token.KindIdent {
			continue
		}
		baseFunc, ok := vectorSearchFuncs[strings.ToUpper(tok.Lexeme)]
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
		argToks := toks[j+1 : closeIdx]
		args := splitTopLevelCommas(argToks)
		if len(args) < 2 {
			continue
		}

		columnArg := strings.TrimSpace(token.Concat(args[1]))
		columnName := columnArg
		if idx := strings.LastIndex(columnName, "."); idx >= 0 {
			columnName = columnName[idx+1:]
		}
		columnName = strings.Trim(columnName, "`\"")

		funcName := baseFunc + "_" + strconv.Itoa(len(args))
		argsText := strings.TrimSpace(token.Concat(argToks))
		replacement := "read_json_auto(" + funcName + "(" + argsText + "))"

		edits = append(edits, dimensionEdit{start: i, end: closeIdx, replacement: replacement})
		columnPredicates = append(columnPredicates, "metadata.column_name = '"+strings.ReplaceAll(columnName, "'", "''")+"'")
		i = closeIdx
	}

	if len(edits) == 0 {
		return sql, false
	}

	out := append([]token.Token(nil), toks...)
	sort.Slice(edits, func(a, b int) bool { return edits[a].start > edits[b].start })
	for _, ed := range edits {
		var spliced []token.Token
		spliced = append(spliced, out[:ed.start]...)
		spliced = append(spliced, token.Other(ed.replacement))
		spliced = append(spliced, out[ed.end+1:]...)
		out = spliced
	}
	result := token.Concat(out)

	for _, pred := range columnPredicates {
		result = injectWherePredicate(result, pred)
	}

	return result, true
}

// injectWherePredicate ANDs predicate into sql's outermost WHERE clause, or
// introduces a new WHERE clause before GROUP/ORDER/HAVING/LIMIT (or at the
// end of the query) if none exists.
func injectWherePredicate(sql string, predicate string) string {
	toks := token.Tokenize(sql)

	depth := 0
	whereIdx := -1
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
		if depth == 0 && t.Kind == token.KindIdent && strings.EqualFold(t.Lexeme, "WHERE") {
			whereIdx = i
			break
		}
	}

	clauseEnd := func(from int) int {
		depth := 0
		for i := from; i < len(toks); i++ {
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
				if upper == "GROUP" || upper == "ORDER" || upper == "HAVING" || upper == "LIMIT" {
					return i
				}
			}
		}
		return len(toks)
	}

	if whereIdx >= 0 {
		end := clauseEnd(whereIdx + 1)
		var out []token.Token
		out = append(out, toks[:end]...)
		out = append(out, token.Other(" AND ("+predicate+")"))
		out = append(out, toks[end:]...)
		return token.Concat(out)
	}

	end := clauseEnd(0)
	var out []token.Token
	out = append(out, toks[:end]...)
	out = append(out, token.Other(" WHERE "+predicate+" "))
	out = append(out, toks[end:]...)
	return token.Concat(out)
}
