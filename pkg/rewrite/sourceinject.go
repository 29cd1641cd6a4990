package rewrite

import (
	"strings"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/token"
)

// RewriteFunctionSourceInjection runs Pass B of the infix/function rewriter
// (spec.md §4.7): for each direct call to a registered SCALAR semantic
// function, inject source context into the call's string-literal argument
// (or, for a single column-only argument, append a synthetic one carrying
// it). Unlike pass A, which only ever sees calls it has just synthesized,
// this pass catches a registered function called directly in SQL.
func RewriteFunctionSourceInjection(sql string, entries []registry.FunctionEntry) (string, bool) {
	scalarFuncs := map[string]bool{}
	for _, e := range entries {
		if e.Shape == semsql.ShapeScalar {
			scalarFuncs[strings.ToUpper(e.Name)] = true
		}
	}
	if len(scalarFuncs) == 0 {
		return sql, false
	}

	toks := token.Tokenize(sql)
	var out []token.Token
	changed := false

	i := 0
	for i < len(toks) {
		tok := toks[i]

		if tok.Kind != token.KindIdent || !scalarFuncs[strings.ToUpper(tok.Lexeme)] {
			out = append(out, tok)
			i++
			continue
		}

		j := token.SkipWS(toks, i+1)
		if j >= len(toks) || toks[j].Kind != token.KindPunct || toks[j].Lexeme != "(" {
			out = append(out, tok)
			i++
			continue
		}
		closeIdx := token.MatchParen(toks, j)
		if closeIdx < 0 {
			out = append(out, tok)
			i++
			continue
		}

		args := token.SplitTopLevelCommas(toks[j+1 : closeIdx])
		rewrittenCall, ok := injectSourceIntoCall(tok.Lexeme, args)
		if !ok {
			out = append(out, toks[i:closeIdx+1]...)
			i = closeIdx + 1
			continue
		}

		out = append(out, token.Other(rewrittenCall))
		changed = true
		i = closeIdx + 1
	}

	if !changed {
		return sql, false
	}
	return token.Concat(out), true
}

// injectSourceIntoCall rewrites one call's argument list, returning ok=false
// when there's nothing to do (no column-like argument to name, or a source
// marker is already present).
func injectSourceIntoCall(fnName string, args [][]token.Token) (string, bool) {
	if len(args) == 0 {
		return "", false
	}

	stringArg := -1
	columnArg := -1
	for idx, a := range args {
		text := strings.TrimSpace(token.Concat(a))
		if strings.Contains(text, "__RVBBIT_SOURCE:") {
			return "", false
		}
		if isStringLiteralSpan(a) {
			if stringArg < 0 {
				stringArg = idx
			}
			continue
		}
		if columnArg < 0 {
			columnArg = idx
		}
	}

	rendered := make([]string, len(args))
	for idx, a := range args {
		rendered[idx] = strings.TrimSpace(token.Concat(a))
	}

	switch {
	case stringArg >= 0 && columnArg >= 0:
		sourceJSON := `{"column": "` + escapeJSONString(rendered[columnArg]) + `", "row": ` + rowIndexExpr + `}`
		rendered[stringArg] = injectPrefixIntoStringLiteral(rendered[stringArg], "__RVBBIT_SOURCE:"+sourceJSON+"__ ")
		return fnName + "(" + strings.Join(rendered, ", ") + ")", true

	case stringArg >= 0 && columnArg < 0:
		// No column-like argument at all (e.g. two string-literal args):
		// name the source by the function itself, per spec.md's
		// "<alias-or-fn>" fallback.
		sourceJSON := `{"column": "` + escapeJSONString(fnName) + `", "row": ` + rowIndexExpr + `}`
		rendered[stringArg] = injectPrefixIntoStringLiteral(rendered[stringArg], "__RVBBIT_SOURCE:"+sourceJSON+"__ ")
		return fnName + "(" + strings.Join(rendered, ", ") + ")", true

	case stringArg < 0 && len(args) == 1 && columnArg == 0:
		sourceJSON := `{"column": "` + escapeJSONString(rendered[0]) + `", "row": ` + rowIndexExpr + `}`
		synthetic := "'" + "__RVBBIT_SOURCE:" + sourceJSON + "__ " + "'"
		return fnName + "(" + rendered[0] + ", " + synthetic + ")", true

	default:
		return "", false
	}
}
