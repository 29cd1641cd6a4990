package rewrite

import "github.com/user/semsql/pkg/token"

// OutermostFromAndWhere exposes the same outermost-FROM/WHERE extraction the
// dimension rewriter uses internally, for callers outside this package (the
// prewarm analyzer) that need to build a derived query against the same
// single-statement scope (no subquery recursion).
func OutermostFromAndWhere(sql string) (source string, whereClause string, ok bool) {
	toks := token.Tokenize(sql)
	_, source, _, ok = extractDimensionSource(toks)
	if !ok {
		return "", "", false
	}
	whereClause = extractDimensionWhere(toks)
	return source, whereClause, true
}
