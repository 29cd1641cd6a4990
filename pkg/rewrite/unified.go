package rewrite

import (
	"strings"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/registry"
	"github.com/user/semsql/pkg/token"
)

// Result is the outcome of running the full rewrite pipeline over one SQL
// statement.
type Result struct {
	SQL          string
	Directive    semsql.Directive
	HasDirective bool
	Changed      bool
}

// RewriteAll runs the fixed pipeline described in spec.md §4.9:
//
//  1. Strip a leading BACKGROUND/ANALYZE directive (the directive travels
//     alongside, never rewritten itself).
//  2. Rewrite VECTOR_SEARCH/HYBRID_SEARCH sugar (must precede the inline
//     passes so t.col arguments are never mis-parsed as infix operands).
//  3. Block phase: loop SEMANTIC_CASE-style block operators to fixpoint.
//  4. Dimension phase: only entered if the query references a registered
//     DIMENSION function at all.
//  5. Inline phase: Pass A (infix phrases), Pass B (function source-context
//     injection), legacy clause-level passes (SEMANTIC JOIN, GROUP BY
//     MEANING), then the aggregate-sugar pass.
//
// On no applicable rewrite, SQL equals the original query and Changed is
// false; this pipeline never errors; it fails closed.
func RewriteAll(sql string, reg *registry.Registry) Result {
	inner, directive, hasDirective := StripDirective(sql)
	changed := hasDirective

	rewritten := inner

	if vsql, vchanged := RewriteVectorSearch(rewritten); vchanged {
		rewritten = vsql
		changed = true
	}

	entries := reg.AllEntries()

	if blocked := RewriteBlocks(rewritten, entries); blocked != rewritten {
		rewritten = blocked
		changed = true
	}

	if hasDimensionFunctions(rewritten, entries) {
		if dimmed, dchanged := RewriteDimensions(rewritten, entries); dchanged {
			rewritten = dimmed
			changed = true
		}
	}

	patterns := reg.OperatorPatterns()
	if infixed := RewriteInfix(rewritten, patterns); infixed != rewritten {
		rewritten = infixed
		changed = true
	}

	if sourced, schanged := RewriteFunctionSourceInjection(rewritten, entries); schanged {
		rewritten = sourced
		changed = true
	}

	if legacied, lchanged := LegacyClausePasses(rewritten); lchanged {
		rewritten = legacied
		changed = true
	}

	if aggregated, achanged := RewriteAggregateSugar(rewritten); achanged {
		rewritten = aggregated
		changed = true
	}

	return Result{
		SQL:          rewritten,
		Directive:    directive,
		HasDirective: hasDirective,
		Changed:      changed,
	}
}

// hasDimensionFunctions reports whether sql references any of entries'
// DIMENSION-shaped function names at all, letting RewriteAll skip the CTE
// synthesis pass on the common case where none are present.
func hasDimensionFunctions(sql string, entries []registry.FunctionEntry) bool {
	dimFuncs := map[string]bool{}
	for _, e := range entries {
		if e.Dimension != nil {
			dimFuncs[strings.ToUpper(e.Name)] = true
		}
	}
	if len(dimFuncs) == 0 {
		return false
	}
	for _, t := range token.Tokenize(sql) {
		if t.Kind == token.KindIdent && dimFuncs[strings.ToUpper(t.Lexeme)] {
			return true
		}
	}
	return false
}
