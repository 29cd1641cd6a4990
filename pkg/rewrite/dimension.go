package rewrite

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/token"
)

// dimensionExpr is one parsed occurrence of a DIMENSION-shaped function call
// in the query, e.g. sentiment(observed, 'fear') AS mood.
type dimensionExpr struct {
	entry      registry.FunctionEntry
	sourceCol  string
	scalarArgs []string
	alias      string
	id         string
	startTok   int
	endTok     int // inclusive
}

// clauseBoundaryWords terminate a FROM source span or a WHERE span.
var clauseBoundaryWords = map[string]bool{
	"GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true, "WHERE": true,
}

// joinOrAliasWords must never be mistaken for an implicit table alias.
var joinOrAliasWords = map[string]bool{
	"GROUP": true, "ORDER": true, "WHERE": true, "HAVING": true, "LIMIT": true,
	"JOIN": true, "LEFT": true, "RIGHT": true, "INNER": true, "OUTER": true,
	"CROSS": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
}

// RewriteDimensions rewrites every DIMENSION-shaped function call (a
// semantic bucketing function that must see all values before assigning a
// bucket to each row, e.g. sentiment(observed, 'fear')) into a pair of CTEs
// that compute the bucket set once and classify every row against it, then
// rewrites the outer query to reference the resulting bucket column.
//
// Unlike the rest of the rewriters, this one targets a single outermost
// FROM/WHERE pair: it does not recurse into subqueries. On any structural
// surprise it fails closed and returns the query unchanged.
func RewriteDimensions(sql string, entries []registry.FunctionEntry) (string, bool) {
	dimFuncs := map[string]registry.FunctionEntry{}
	for _, e := range entries {
		if e.Dimension != nil {
			dimFuncs[strings.ToUpper(e.Name)] = e
		}
	}
	if len(dimFuncs) == 0 {
		return sql, false
	}

	toks := token.Tokenize(sql)
	exprs := findDimensionExpressions(toks, dimFuncs)
	if len(exprs) == 0 {
		return sql, false
	}

	fromIdx, sourceText, fromEnd, ok := extractDimensionSource(toks)
	if !ok {
		return sql, false
	}
	whereClause := extractDimensionWhere(toks)

	ctes := generateDimensionCTEs(exprs, sourceText, whereClause)
	rewritten := rewriteDimensionMainQuery(toks, exprs, fromIdx, fromEnd)

	return "WITH\n" + ctes + "\n" + rewritten, true
}

func findDimensionExpressions(toks []token.Token, dimFuncs map[string]registry.FunctionEntry) []dimensionExpr {
	var out []dimensionExpr
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Kind != token.KindIdent {
			continue
		}
		entry, ok := dimFuncs[strings.ToUpper(tok.Lexeme)]
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
		if len(args) == 0 {
			continue
		}

		sourceCol := buildDimensionSourceCol(args[0])
		var scalarArgs []string
		for _, a := range args[1:] {
			scalarArgs = append(scalarArgs, strings.TrimSpace(token.Concat(a)))
		}

		endIdx := closeIdx
		alias := ""
		k := token.SkipWS(toks, closeIdx+1)
		if k < len(toks) && toks[k].Kind == token.KindIdent && strings.EqualFold(toks[k].Lexeme, "AS") {
			m := token.SkipWS(toks, k+1)
			if m < len(toks) && toks[m].Kind == token.KindIdent {
				alias = toks[m].Lexeme
				endIdx = m
			}
		}

		idBase := strings.ToLower(entry.Name) + ":" + sourceCol + ":" + strings.Join(scalarArgs, ":")
		sum := md5.Sum([]byte(idBase))
		idHash := hex.EncodeToString(sum[:])[:8]
		id := "__dim_" + strings.ToLower(entry.Name) + "_" + sanitizeDimensionColName(sourceCol) + "_" + idHash

		out = append(out, dimensionExpr{
			entry:      entry,
			sourceCol:  sourceCol,
			scalarArgs: scalarArgs,
			alias:      alias,
			id:         id,
			startTok:   i,
			endTok:     endIdx,
		})
		i = endIdx
	}
	return out
}

// matchParen returns the index of the paren matching toks[open] (which must
// be "("), or -1 if unterminated.
func matchParen(toks []token.Token, open int) int {
	return token.MatchParen(toks, open)
}

// splitTopLevelCommas splits toks on commas at paren depth 0.
func splitTopLevelCommas(toks []token.Token) [][]token.Token {
	return token.SplitTopLevelCommas(toks)
}

// buildDimensionSourceCol renders a dimension function's first argument: a
// bare string literal is kept quoted, anything else (a column reference,
// possibly dotted) is concatenated with surrounding backticks/quotes
// stripped.
func buildDimensionSourceCol(toks []token.Token) string {
	if len(toks) == 1 && toks[0].Kind == token.KindString {
		return toks[0].Lexeme
	}
	col := strings.TrimSpace(token.Concat(toks))
	col = strings.ReplaceAll(col, "`", "")
	col = strings.ReplaceAll(col, "\"", "")
	return col
}

func sanitizeDimensionColName(col string) string {
	if idx := strings.LastIndex(col, "."); idx >= 0 {
		col = col[idx+1:]
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, col)
}

// extractDimensionSource finds the query's outermost FROM clause, returning
// the source text to use in the generated CTEs (alias dropped for a simple
// table, kept for a subquery) and the token span [fromIdx, end] to replace
// with "FROM _dim_classified".
func extractDimensionSource(toks []token.Token) (fromIdx int, source string, end int, ok bool) {
	fromIdx = -1
	for i, t := range toks {
		if t.Kind == token.KindIdent && strings.EqualFold(t.Lexeme, "FROM") {
			fromIdx = i
			break
		}
	}
	if fromIdx < 0 {
		return 0, "", 0, false
	}

	i := token.SkipWS(toks, fromIdx+1)
	if i >= len(toks) {
		return 0, "", 0, false
	}

	if toks[i].Kind == token.KindPunct && toks[i].Lexeme == "(" {
		closeIdx := matchParen(toks, i)
		if closeIdx < 0 {
			return 0, "", 0, false
		}
		subquery := token.Concat(toks[i : closeIdx+1])
		end = closeIdx
		alias := ""
		k := token.SkipWS(toks, closeIdx+1)
		if k < len(toks) && toks[k].Kind == token.KindIdent && strings.EqualFold(toks[k].Lexeme, "AS") {
			m := token.SkipWS(toks, k+1)
			if m < len(toks) && toks[m].Kind == token.KindIdent {
				alias = toks[m].Lexeme
				end = m
			}
		} else if k < len(toks) && toks[k].Kind == token.KindIdent && !joinOrAliasWords[strings.ToUpper(toks[k].Lexeme)] {
			alias = toks[k].Lexeme
			end = k
		}
		if alias != "" {
			return fromIdx, subquery + " AS " + alias, end, true
		}
		return fromIdx, subquery, end, true
	}

	start, tableEnd, ok2 := parseDottedIdentSpan(toks, i)
	if !ok2 {
		return 0, "", 0, false
	}
	tableName := token.Concat(toks[start:tableEnd])
	end = tableEnd - 1

	k := token.SkipWS(toks, tableEnd)
	if k < len(toks) && toks[k].Kind == token.KindIdent && strings.EqualFold(toks[k].Lexeme, "AS") {
		m := token.SkipWS(toks, k+1)
		if m < len(toks) && toks[m].Kind == token.KindIdent {
			end = m
		}
	} else if k < len(toks) && toks[k].Kind == token.KindIdent && !joinOrAliasWords[strings.ToUpper(toks[k].Lexeme)] {
		end = k
	}
	return fromIdx, tableName, end, true
}

// extractDimensionWhere returns the query's outermost "WHERE ..." clause
// text (through GROUP/ORDER/HAVING/LIMIT or end of query), or "" if absent.
func extractDimensionWhere(toks []token.Token) string {
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
	if whereIdx < 0 {
		return ""
	}

	depth = 0
	end := len(toks)
	for i := whereIdx + 1; i < len(toks); i++ {
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
				end = i
				break
			}
		}
	}
	clause := strings.TrimSpace(token.Concat(toks[whereIdx+1 : end]))
	if clause == "" {
		return ""
	}
	return "WHERE " + clause
}

func dimensionComputeFuncName(funcName string, arity int) string {
	if arity <= 1 {
		return funcName + "_compute"
	}
	return funcName + "_compute_" + strconv.Itoa(arity)
}

// generateDimensionCTEs builds the extraction CTE(s) (one per unique
// dimension expression id) followed by the single shared _dim_classified
// CTE that adds one bucket column per expression.
func generateDimensionCTEs(exprs []dimensionExpr, source, whereClause string) string {
	unique := map[string]dimensionExpr{}
	var order []string
	for _, e := range exprs {
		if _, ok := unique[e.id]; !ok {
			order = append(order, e.id)
		}
		unique[e.id] = e
	}

	var ctes []string
	for _, id := range order {
		e := unique[id]
		mode := "mapping"
		if e.entry.Dimension != nil && e.entry.Dimension.Mode != "" {
			mode = e.entry.Dimension.Mode
		}
		funcName := strings.ToLower(e.entry.Name)

		scalarArgsStr := ""
		if len(e.scalarArgs) > 0 {
			scalarArgsStr = ", " + strings.Join(e.scalarArgs, ", ")
		}
		totalArity := 1 + len(e.scalarArgs)

		switch mode {
		case "extractor_classifier":
			extractorFunc := funcName + "_extract"
			if e.entry.Dimension.Extractor != nil && e.entry.Dimension.Extractor.Function != "" {
				extractorFunc = e.entry.Dimension.Extractor.Function
			}
			ctes = append(ctes, "_"+id+"_buckets AS (\n"+
				"    SELECT "+extractorFunc+"(\n"+
				"        to_json(LIST("+e.sourceCol+"))"+scalarArgsStr+"\n"+
				"    ) as _buckets\n"+
				"    FROM "+source+"\n"+
				"    "+whereClause+"\n"+
				")")
		default:
			computeFunc := dimensionComputeFuncName(funcName, totalArity)
			ctes = append(ctes, "_"+id+"_mapping AS (\n"+
				"    SELECT "+computeFunc+"(\n"+
				"        to_json(LIST("+e.sourceCol+"))"+scalarArgsStr+"\n"+
				"    ) as _result\n"+
				"    FROM "+source+"\n"+
				"    "+whereClause+"\n"+
				")")
		}
	}

	var classifyCols []string
	var crossJoins []string
	for _, id := range order {
		e := unique[id]
		mode := "mapping"
		if e.entry.Dimension != nil && e.entry.Dimension.Mode != "" {
			mode = e.entry.Dimension.Mode
		}
		funcName := strings.ToLower(e.entry.Name)

		switch mode {
		case "extractor_classifier":
			classifierFunc := funcName + "_classify"
			if e.entry.Dimension.Classifier != nil && e.entry.Dimension.Classifier.Function != "" {
				classifierFunc = e.entry.Dimension.Classifier.Function
			}
			classifyCols = append(classifyCols, classifierFunc+"(\n"+
				"            _source."+e.sourceCol+",\n"+
				"            (SELECT _buckets FROM _"+id+"_buckets)\n"+
				"        ) as "+id)
		default:
			classifyCols = append(classifyCols, "COALESCE(\n"+
				"            (SELECT TRIM(BOTH '\"' FROM value::VARCHAR)\n"+
				"             FROM json_each(_"+id+"_mapping._result->'mapping')\n"+
				"             WHERE key = _source."+e.sourceCol+"\n"+
				"             LIMIT 1),\n"+
				"            'Unknown'\n"+
				"        ) as "+id)
			crossJoins = append(crossJoins, "_"+id+"_mapping")
		}
	}

	crossJoinStr := ""
	if len(crossJoins) > 0 {
		crossJoinStr = ", " + strings.Join(crossJoins, ", ")
	}

	ctes = append(ctes, "_dim_classified AS (\n"+
		"    SELECT _source.*,\n"+
		"        "+strings.Join(classifyCols, ",\n        ")+"\n"+
		"    FROM "+source+" AS _source"+crossJoinStr+"\n"+
		"    "+whereClause+"\n"+
		")")

	return strings.Join(ctes, ",\n")
}

type dimensionEdit struct {
	start, end  int // inclusive token range
	replacement string
}

// rewriteDimensionMainQuery replaces every dimension expression occurrence
// with its bucket column reference (aliased if the original call was) and
// replaces the FROM clause with "FROM _dim_classified".
func rewriteDimensionMainQuery(toks []token.Token, exprs []dimensionExpr, fromIdx, fromEnd int) string {
	// Longest-span-first (mirrors the original's longest-match-first text
	// replacement); since these are disjoint token spans, any order that
	// keeps edits non-overlapping is safe, but sorting descending by start
	// lets us splice sequentially without re-deriving indices.
	edits := []dimensionEdit{{start: fromIdx, end: fromEnd, replacement: "FROM _dim_classified"}}
	for _, e := range exprs {
		repl := e.id
		if e.alias != "" {
			repl = e.id + " AS " + e.alias
		}
		edits = append(edits, dimensionEdit{start: e.startTok, end: e.endTok, replacement: repl})
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })

	out := append([]token.Token(nil), toks...)
	for _, ed := range edits {
		var spliced []token.Token
		spliced = append(spliced, out[:ed.start]...)
		spliced = append(spliced, token.Other(ed.replacement))
		spliced = append(spliced, out[ed.end+1:]...)
		out = spliced
	}
	return token.Concat(out)
}
