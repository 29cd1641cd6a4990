// Package tracker gives query-level observability to the engine: a stable
// fingerprint per query shape, a coarse query-type classification, lifecycle
// rows for the life of a query, and atomic counters for cache/LLM activity.
// The unit of work it observes is a SQL query (identified by caller_id), not
// an individual cascade session.
package tracker

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/user/semsql/pkg/token"
)

// knownUDFNames is the set of function names the tracker recognises when
// harvesting udf_types from a query's function calls. Lowercase, matched
// case-insensitively against identifier tokens immediately followed by "(".
var knownUDFNames = map[string]bool{
	"rvbbit_udf": true, "rvbbit": true, "rvbbit_cascade_udf": true, "rvbbit_run": true,
	"rvbbit_run_batch": true, "rvbbit_run_parallel_batch": true, "rvbbit_map_parallel_exec": true,
	"llm_summarize": true, "llm_classify": true, "llm_sentiment": true, "llm_themes": true, "llm_agg": true,
	"llm_matches": true, "llm_score": true, "llm_match_pair": true, "llm_match_template": true, "llm_semantic_case": true,
	"matches": true, "score": true, "match_pair": true, "match_template": true, "semantic_case": true,
}

// Fingerprint normalizes sql to a template (literals replaced with "?"),
// hashes the template to a 16-character fingerprint, and harvests the
// udf_types the query calls. Two queries differing only in literal values
// produce the same fingerprint and template.
//
// There is no SQL AST library anywhere in the retrieval pack (the original
// prefers one when available and falls back to a regex scan otherwise);
// this always takes the token-scan path, equivalent to that fallback.
func Fingerprint(sql string) (fingerprint string, template string, udfTypes []string) {
	toks := token.Tokenize(sql)

	var b strings.Builder
	seen := make(map[string]bool)
	for i, t := range toks {
		switch {
		case t.Kind == token.KindString:
			b.WriteString("?")
		case t.Kind == token.KindIdent && isNumericLiteral(t.Lexeme):
			b.WriteString("?")
		default:
			b.WriteString(t.Lexeme)
		}

		if t.Kind == token.KindIdent {
			lower := strings.ToLower(t.Lexeme)
			if knownUDFNames[lower] {
				j := token.SkipWS(toks, i+1)
				if j < len(toks) && toks[j].Lexeme == "(" {
					seen[lower] = true
				}
			}
		}
	}
	template = b.String()

	udfTypes = make([]string, 0, len(seen))
	for name := range seen {
		udfTypes = append(udfTypes, name)
	}
	sort.Strings(udfTypes)

	sum := md5.Sum([]byte(template))
	fingerprint = hex.EncodeToString(sum[:])[:16]
	return fingerprint, template, udfTypes
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
