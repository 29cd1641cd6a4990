package rewrite

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/user/semsql/pkg/annotation"
	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/token"
)

// encodeTakesJSON serializes a takes config map deterministically enough
// for embedding as a magic string-literal prefix.
func encodeTakesJSON(takes map[string]any) string {
	data, err := json.Marshal(takes)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// infixSpec is a registry operator pattern prepared for token matching:
// either a sequence of bare-word tokens ("ALIGNS", "WITH") or a sequence of
// punctuation characters ("!", "~").
type infixSpec struct {
	phraseUpper string
	words       []string
	symbols     []string
	fnName      string
	returnsBool bool
}

// prepareInfixSpecs converts registry.OperatorPattern entries into
// infixSpecs, sorted longest-phrase-first so "NOT RELEVANCE TO"-style
// multi-word phrases are preferred over shorter ones that happen to be a
// prefix of them.
func prepareInfixSpecs(patterns []registry.OperatorPattern) []infixSpec {
	specs := make([]infixSpec, 0, len(patterns))
	for _, p := range patterns {
		isWordPhrase := true
		for _, r := range p.PhraseUpper {
			if !(r >= 'A' && r <= 'Z') && r != '_' && r != ' ' {
				isWordPhrase = false
				break
			}
		}
		spec := infixSpec{phraseUpper: p.PhraseUpper, fnName: p.FunctionName, returnsBool: p.Returns == "BOOLEAN"}
		if isWordPhrase {
			spec.words = strings.Fields(p.PhraseUpper)
		} else {
			for _, r := range p.PhraseUpper {
				if r != ' ' {
					spec.symbols = append(spec.symbols, string(r))
				}
			}
		}
		specs = append(specs, spec)
	}

	// Stable sort: longer word/symbol count first.
	for i := 1; i < len(specs); i++ {
		for j := i; j > 0; j-- {
			li := specLen(specs[j])
			lj := specLen(specs[j-1])
			if li > lj {
				specs[j], specs[j-1] = specs[j-1], specs[j]
			} else {
				break
			}
		}
	}
	return specs
}

func specLen(s infixSpec) int {
	if len(s.words) > 0 {
		return len(s.words)
	}
	return len(s.symbols)
}

// RewriteInfix runs Pass A of the infix/function rewriter: ORDER BY
// RELEVANCE TO, ABOUT/NOT ABOUT, and registered infix operator phrases
// (MEANS, ~, etc). It never rewrites inside string/comment tokens.
func RewriteInfix(sql string, patterns []registry.OperatorPattern) string {
	specs := prepareInfixSpecs(patterns)
	toks := token.Tokenize(sql)

	var out []token.Token
	var pending annotation.Pending

	i := 0
	for i < len(toks) {
		tok := toks[i]

		if tok.Kind == token.KindString || tok.Kind == token.KindCommentLine || tok.Kind == token.KindCommentBlock {
			if tok.Kind == token.KindCommentLine {
				if ann, ok := annotation.Parse(tok.Lexeme); ok {
					pending.Merge(ann)
				}
			}
			out = append(out, tok)
			i++
			continue
		}

		if tok.Kind == token.KindWhitespace {
			out = append(out, tok)
			i++
			continue
		}

		if span, end, consumed := matchOrderByRelevance(toks, i, &pending); span != "" {
			out = append(out, token.Other(span))
			_ = consumed
			i = end
			continue
		}

		if span, end := matchAbout(toks, i, &pending); span != "" {
			out = append(out, token.Other(span))
			i = end
			continue
		}

		if span, end := matchInfix(toks, i, specs, &pending); span != "" {
			out = append(out, token.Other(span))
			i = end
			continue
		}

		out = append(out, tok)
		i++
	}

	return token.Concat(out)
}

func skipWS(toks []token.Token, i int) int { return token.SkipWS(toks, i) }

func parseDottedIdentSpan(toks []token.Token, start int) (int, int, bool) {
	if start >= len(toks) || toks[start].Kind != token.KindIdent {
		return 0, 0, false
	}
	i := start + 1
	for i+1 < len(toks) {
		if toks[i].Kind == token.KindPunct && toks[i].Lexeme == "." && toks[i+1].Kind == token.KindIdent {
			i += 2
			continue
		}
		break
	}
	return start, i, true
}

func parseRHSSpan(toks []token.Token, start int) (int, int, bool) {
	if start >= len(toks) {
		return 0, 0, false
	}
	if toks[start].Kind == token.KindString {
		return start, start + 1, true
	}
	return parseDottedIdentSpan(toks, start)
}

func matchPhrase(toks []token.Token, start int, words []string) (int, int, bool) {
	i := start
	for _, w := range words {
		i = skipWS(toks, i)
		if i >= len(toks) || !token.IdentEquals(toks[i], w) {
			return 0, 0, false
		}
		i++
	}
	return start, i, true
}

func matchSymbol(toks []token.Token, start int, symbols []string) (int, int, bool) {
	i := start
	for _, ch := range symbols {
		i = skipWS(toks, i)
		if i >= len(toks) || toks[i].Kind != token.KindPunct || toks[i].Lexeme != ch {
			return 0, 0, false
		}
		i++
	}
	return start, i, true
}

func joinTokens(toks []token.Token) string { return token.Concat(toks) }

func isStringLiteralSpan(toks []token.Token) bool {
	return len(toks) == 1 && toks[0].Kind == token.KindString
}

// injectPrefixIntoStringLiteral prepends prefix inside literal's quotes,
// re-escaping the quote character.
func injectPrefixIntoStringLiteral(literal, prefix string) string {
	lit := strings.TrimSpace(literal)
	if len(lit) < 2 {
		return literal
	}
	quote := lit[0]
	if (quote != '\'' && quote != '"') || lit[len(lit)-1] != quote {
		return literal
	}
	inner := lit[1 : len(lit)-1]
	injected := prefix + inner
	if quote == '\'' {
		injected = strings.ReplaceAll(injected, "'", "''")
	} else {
		injected = strings.ReplaceAll(injected, "\"", "\"\"")
	}
	return string(quote) + injected + string(quote)
}

func matchOrderByRelevance(toks []token.Token, start int, pending *annotation.Pending) (string, int, bool) {
	i := skipWS(toks, start)
	if i >= len(toks) || !token.IdentEquals(toks[i], "ORDER") {
		return "", 0, false
	}
	j := skipWS(toks, i+1)
	if j >= len(toks) || !token.IdentEquals(toks[j], "BY") {
		return "", 0, false
	}
	k := skipWS(toks, j+1)
	exprStart, exprEnd, ok := parseDottedIdentSpan(toks, k)
	if !ok {
		return "", 0, false
	}

	m := skipWS(toks, exprEnd)
	notPresent := false
	if m < len(toks) && token.IdentEquals(toks[m], "NOT") {
		notPresent = true
		m = skipWS(toks, m+1)
	}

	phraseStart, phraseEnd, ok := matchPhrase(toks, m, []string{"RELEVANCE", "TO"})
	if !ok {
		return "", 0, false
	}
	_ = phraseStart

	n := skipWS(toks, phraseEnd)
	rhsStart, rhsEnd, ok := parseRHSSpan(toks, n)
	if !ok || !isStringLiteralSpan(toks[rhsStart:rhsEnd]) {
		return "", 0, false
	}

	rhsText := strings.TrimSpace(joinTokens(toks[rhsStart:rhsEnd]))
	consumedPrefix := false
	if pending.PromptPrefix != "" {
		rhsText = injectPrefixIntoStringLiteral(rhsText, pending.PromptPrefix)
		consumedPrefix = true
	}

	scan := skipWS(toks, rhsEnd)
	end := rhsEnd
	direction := ""
	if scan < len(toks) && (token.IdentEquals(toks[scan], "ASC") || token.IdentEquals(toks[scan], "DESC")) {
		direction = strings.ToUpper(toks[scan].Lexeme)
		end = scan + 1
	}
	if direction == "" {
		if notPresent {
			direction = "ASC"
		} else {
			direction = "DESC"
		}
	}

	exprText := strings.TrimSpace(joinTokens(toks[exprStart:exprEnd]))
	rewritten := "ORDER BY semantic_score(" + exprText + ", " + rhsText + ") " + direction

	if consumedPrefix {
		pending.ConsumePrompt()
	}
	return rewritten, end, consumedPrefix
}

func matchAbout(toks []token.Token, start int, pending *annotation.Pending) (string, int) {
	i := skipWS(toks, start)
	lhsStart, lhsEnd, ok := parseDottedIdentSpan(toks, i)
	if !ok {
		return "", 0
	}

	j := skipWS(toks, lhsEnd)
	notPresent := false
	if j < len(toks) && token.IdentEquals(toks[j], "NOT") {
		notPresent = true
		j = skipWS(toks, j+1)
	}
	if j >= len(toks) || !token.IdentEquals(toks[j], "ABOUT") {
		return "", 0
	}
	j++

	j = skipWS(toks, j)
	rhsStart, rhsEnd, ok := parseRHSSpan(toks, j)
	if !ok || !isStringLiteralSpan(toks[rhsStart:rhsEnd]) {
		return "", 0
	}

	rhsText := joinTokens(toks[rhsStart:rhsEnd])
	consumedPrefix := false
	if pending.PromptPrefix != "" {
		rhsText = injectPrefixIntoStringLiteral(rhsText, pending.PromptPrefix)
		consumedPrefix = true
	}

	scan := skipWS(toks, rhsEnd)
	cmpStart, cmpEnd, hasCmp := parseComparator(toks, scan)
	end := rhsEnd
	var cmpText, thresholdText string
	consumedThreshold := false

	if hasCmp {
		t := skipWS(toks, cmpEnd)
		thStart, thEnd, hasNum := parseNumberishSpan(toks, t)
		if hasNum {
			cmpText = joinTokens(toks[cmpStart:cmpEnd])
			thresholdText = joinTokens(toks[thStart:thEnd])
			end = thEnd
		} else {
			hasCmp = false
		}
	}

	lhsText := strings.TrimSpace(joinTokens(toks[lhsStart:lhsEnd]))
	scoreExpr := "semantic_score(" + lhsText + ", " + strings.TrimSpace(rhsText) + ")"

	var rewritten string
	if hasCmp {
		if notPresent {
			switch cmpText {
			case ">":
				cmpText = "<="
			case "<":
				cmpText = ">="
			}
		}
		rewritten = scoreExpr + " " + cmpText + " " + thresholdText
	} else {
		threshold := "0.5"
		if pending.Threshold != nil {
			threshold = strconv.FormatFloat(*pending.Threshold, 'g', -1, 64)
			consumedThreshold = true
		}
		op := ">"
		if notPresent {
			op = "<="
		}
		rewritten = scoreExpr + " " + op + " " + threshold
	}

	if consumedPrefix {
		pending.ConsumePrompt()
	}
	if consumedThreshold {
		pending.ConsumeThreshold()
	}
	return rewritten, end
}

func parseComparator(toks []token.Token, start int) (int, int, bool) {
	if start >= len(toks) || toks[start].Kind != token.KindPunct {
		return 0, 0, false
	}
	ch := toks[start].Lexeme
	if ch != "<" && ch != ">" && ch != "=" && ch != "!" {
		return 0, 0, false
	}
	end := start + 1
	if end < len(toks) && toks[end].Kind == token.KindPunct && toks[end].Lexeme == "=" {
		end++
	}
	return start, end, true
}

func parseNumberishSpan(toks []token.Token, start int) (int, int, bool) {
	if start >= len(toks) {
		return 0, 0, false
	}
	i := start
	seenAny := false
	for i < len(toks) {
		t := toks[i]
		if t.Kind == token.KindIdent {
			seenAny = true
			i++
			continue
		}
		if t.Kind == token.KindPunct && (t.Lexeme == "." || t.Lexeme == "+" || t.Lexeme == "-") {
			seenAny = true
			i++
			continue
		}
		break
	}
	return start, i, seenAny
}

func matchInfix(toks []token.Token, start int, specs []infixSpec, pending *annotation.Pending) (string, int) {
	i := skipWS(toks, start)
	lhsStart, lhsEnd, ok := parseDottedIdentSpan(toks, i)
	if !ok {
		return "", 0
	}

	j := skipWS(toks, lhsEnd)
	notPresent := false
	if j < len(toks) && token.IdentEquals(toks[j], "NOT") {
		notPresent = true
		j = skipWS(toks, j+1)
	}

	for _, spec := range specs {
		var opEnd int
		var matched bool
		negatedBySymbol := notPresent

		if len(spec.words) > 0 {
			_, opEnd, matched = matchPhrase(toks, j, spec.words)
		} else if len(spec.symbols) > 0 {
			_, opEnd, matched = matchSymbol(toks, j, spec.symbols)
			if !matched && !notPresent {
				// Synthetic negation: "!<op>" when only "<op>" is registered.
				bangIdx := skipWS(toks, j)
				if bangIdx < len(toks) && toks[bangIdx].Kind == token.KindPunct && toks[bangIdx].Lexeme == "!" {
					_, restEnd, restOK := matchSymbol(toks, bangIdx+1, spec.symbols)
					if restOK {
						opEnd = restEnd
						matched = true
						negatedBySymbol = true
					}
				}
			}
		}
		if !matched {
			continue
		}
		if negatedBySymbol && !spec.returnsBool {
			continue
		}

		k := skipWS(toks, opEnd)
		rhsStart, rhsEnd, ok := parseRHSSpan(toks, k)
		if !ok {
			continue
		}

		lhsText := strings.TrimSpace(joinTokens(toks[lhsStart:lhsEnd]))
		rhsText := joinTokens(toks[rhsStart:rhsEnd])

		if isStringLiteralSpan(toks[rhsStart:rhsEnd]) {
			consumedTakes := false
			consumedPrompt := false
			if pending.Takes != nil {
				takesJSON := encodeTakesJSON(pending.Takes)
				rhsText = injectPrefixIntoStringLiteral(rhsText, "__RVBBIT_TAKES:"+takesJSON+"__ ")
				consumedTakes = true
			}
			if pending.PromptPrefix != "" {
				rhsText = injectPrefixIntoStringLiteral(rhsText, pending.PromptPrefix)
				consumedPrompt = true
			}
			columnName := lhsText
			if columnName != "" {
				sourceJSON := `{"column": "` + escapeJSONString(columnName) + `", "row": ` + rowIndexExpr + `}`
				rhsText = injectPrefixIntoStringLiteral(rhsText, "__RVBBIT_SOURCE:"+sourceJSON+"__ ")
			}
			if consumedTakes {
				pending.ConsumeTakes()
			}
			if consumedPrompt {
				pending.ConsumePrompt()
			}
		}

		callExpr := spec.fnName + "(" + lhsText + ", " + strings.TrimSpace(rhsText) + ")"
		rewritten := callExpr
		if negatedBySymbol || notPresent {
			rewritten = "NOT " + callExpr
		}
		return rewritten, rhsEnd
	}

	return "", 0
}

// rowIndexExpr is the host-engine SQL embedded as the source marker's "row"
// value: a 0-based row index. Stable within one execution, not across
// re-executions (window function result order is not otherwise guaranteed).
const rowIndexExpr = `CAST((ROW_NUMBER() OVER () - 1) AS VARCHAR)`

// escapeJSONString escapes a string for embedding in a hand-built JSON
// literal without importing encoding/json for this narrow use.
func escapeJSONString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
