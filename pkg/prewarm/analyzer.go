// Package prewarm finds scalar semantic function calls in a query, derives a
// cheap "distinct values" query for each one, and races to populate the
// cascade cache for those values while the main query still executes
// serially. It never changes the meaning of the query it inspects; a failed
// or slow prewarm pass just means the main query gets fewer cache hits.
package prewarm

import (
	"fmt"
	"strings"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/rewrite"
	"github.com/user/semsql/pkg/token"
)

// ArgValue is one call argument to a scalar semantic function: either a
// column reference (varies per row) or a literal constant.
type ArgValue struct {
	SQL      string
	IsColumn bool
}

// Spec is one prewarm opportunity: a single scalar function call whose
// variable argument can be enumerated ahead of time with a DISTINCT query.
type Spec struct {
	Function       string
	CascadePath    string
	InputKey       string
	ArgNames       []string
	AllArgs        []ArgValue
	ColumnArgIndex int
	DistinctQuery  string
}

// Analyze scans sql for calls to scalar functions named in entries and
// returns one Spec per distinct (function, variable-argument) pair found.
// Only the outermost FROM/WHERE of a single statement is considered; calls
// inside a subquery are not recursed into, matching the rest of this
// package's token-scan idiom.
func Analyze(sql string, entries []registry.FunctionEntry) []Spec {
	scalars := make(map[string]registry.FunctionEntry)
	for _, e := range entries {
		if e.Shape == semsql.ShapeScalar {
			scalars[strings.ToLower(e.Name)] = e
		}
	}
	if len(scalars) == 0 {
		return nil
	}

	toks := token.Tokenize(sql)
	source, whereClause, ok := rewrite.OutermostFromAndWhere(sql)
	if !ok {
		return nil
	}
	withClause := leadingWithClause(toks)

	seen := make(map[string]bool)
	var specs []Spec

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Kind != token.KindIdent {
			continue
		}
		entry, found := scalars[strings.ToLower(t.Lexeme)]
		if !found {
			continue
		}
		j := token.SkipWS(toks, i+1)
		if j >= len(toks) || toks[j].Lexeme != "(" {
			continue
		}
		closeIdx := token.MatchParen(toks, j)
		if closeIdx < 0 {
			continue
		}
		argGroups := token.SplitTopLevelCommas(toks[j+1 : closeIdx])
		if len(argGroups) == 0 {
			continue
		}

		args := make([]ArgValue, len(argGroups))
		colIdx := -1
		for k, g := range argGroups {
			sqlText := strings.TrimSpace(token.Concat(g))
			isCol := isColumnRef(g)
			args[k] = ArgValue{SQL: sqlText, IsColumn: isCol}
			if isCol && colIdx == -1 {
				colIdx = k
			}
		}
		if colIdx == -1 {
			colIdx = 0
		}

		dedupeKey := strings.ToLower(entry.Name) + "|" + args[colIdx].SQL
		if seen[dedupeKey] {
			continue
		}
		seen[dedupeKey] = true

		argNames := make([]string, len(args))
		for k := range args {
			if k < len(entry.Args) {
				argNames[k] = entry.Args[k].Name
			} else {
				argNames[k] = fmt.Sprintf("arg%d", k)
			}
		}
		inputKey := "text"
		if colIdx < len(argNames) && argNames[colIdx] != "" {
			inputKey = argNames[colIdx]
		}

		distinctQuery := buildDistinctQuery(args[colIdx].SQL, source, whereClause, withClause)

		specs = append(specs, Spec{
			Function:       entry.Name,
			CascadePath:    entry.CascadePath,
			InputKey:       inputKey,
			ArgNames:       argNames,
			AllArgs:        args,
			ColumnArgIndex: colIdx,
			DistinctQuery:  distinctQuery,
		})

		i = closeIdx
	}

	return specs
}

func buildDistinctQuery(argSQL, source, whereClause, withClause string) string {
	var b strings.Builder
	if withClause != "" && referencesCTE(source, withClause) {
		b.WriteString(withClause)
		b.WriteString(" ")
	}
	b.WriteString("SELECT DISTINCT ")
	b.WriteString(argSQL)
	b.WriteString(" FROM ")
	b.WriteString(source)
	if whereClause != "" {
		b.WriteString(" ")
		b.WriteString(whereClause)
	}
	b.WriteString(" LIMIT 500")
	return b.String()
}

// isColumnRef reports whether an argument's token run is a bare (possibly
// qualified) column reference rather than a string/number/expression
// literal: a run of one or more identifiers joined by ".".
func isColumnRef(toks []token.Token) bool {
	expectIdent := true
	count := 0
	for _, t := range toks {
		switch t.Kind {
		case token.KindIdent:
			if !expectIdent {
				return false
			}
			if isNumericLiteral(t.Lexeme) {
				return false
			}
			expectIdent = false
			count++
		case token.KindPunct:
			if t.Lexeme != "." || expectIdent {
				return false
			}
			expectIdent = true
		default:
			return false
		}
	}
	return count > 0 && !expectIdent
}

func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// leadingWithClause returns the verbatim "WITH ... " prefix of a query if it
// starts with one, or "" otherwise. It does not attempt to parse individual
// CTE bodies; it only needs the clause's full text and the set of names it
// defines, found separately via cteNames.
func leadingWithClause(toks []token.Token) string {
	i := token.SkipWS(toks, 0)
	if i >= len(toks) || !token.IdentEquals(toks[i], "WITH") {
		return ""
	}
	// Walk forward tracking paren depth; the WITH clause ends at the first
	// top-level SELECT keyword.
	depth := 0
	for j := i + 1; j < len(toks); j++ {
		t := toks[j]
		if t.Kind == token.KindPunct {
			switch t.Lexeme {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if depth == 0 && t.Kind == token.KindIdent && token.IdentEquals(t, "SELECT") {
			return strings.TrimSpace(token.Concat(toks[i:j]))
		}
	}
	return ""
}

// referencesCTE reports whether source's token text mentions a name defined
// by withClause, a cheap substring check sufficient for the common case of a
// prewarm query reusing one of the outer statement's CTEs directly.
func referencesCTE(source, withClause string) bool {
	for _, name := range cteNames(withClause) {
		if containsIdent(source, name) {
			return true
		}
	}
	return false
}

func cteNames(withClause string) []string {
	toks := token.Tokenize(withClause)
	var names []string
	depth := 0
	expectName := false
	i := token.SkipWS(toks, 0)
	if i < len(toks) && token.IdentEquals(toks[i], "WITH") {
		expectName = true
		i = token.SkipWS(toks, i+1)
	}
	for ; i < len(toks); i++ {
		t := toks[i]
		if t.Kind == token.KindPunct {
			switch t.Lexeme {
			case "(":
				depth++
			case ")":
				depth--
			case ",":
				if depth == 0 {
					expectName = true
				}
			}
			continue
		}
		if depth == 0 && expectName && t.Kind == token.KindIdent {
			names = append(names, t.Lexeme)
			expectName = false
		}
	}
	return names
}

func containsIdent(sql, name string) bool {
	for _, t := range token.Tokenize(sql) {
		if token.IdentEquals(t, name) {
			return true
		}
	}
	return false
}
