package tracker

import "strings"

var cascadeUDF = map[string]bool{"rvbbit_cascade_udf": true, "rvbbit_run": true}
var mapUDF = map[string]bool{"rvbbit_run_parallel_batch": true, "rvbbit_map_parallel_exec": true}
var plainUDF = map[string]bool{"rvbbit_udf": true, "rvbbit": true}
var llmAggregateUDF = map[string]bool{
	"llm_summarize": true, "llm_classify": true, "llm_sentiment": true, "llm_themes": true, "llm_agg": true,
}
var semanticOpUDF = map[string]bool{"matches": true, "score": true, "match_pair": true, "semantic_case": true}

// ClassifyQueryType derives the query's coarse classification from its
// harvested udf_types and raw text, in precedence order:
// rvbbit_cascade_udf > rvbbit_map > rvbbit_udf > llm_aggregate > semantic_op
// > first(udf_types) > plain_sql. The structural phrases "RVBBIT MAP" and
// "RVBBIT RUN" catch queries using that syntax directly, without going
// through a recognised function-call name.
func ClassifyQueryType(udfTypes []string, sql string) string {
	has := func(set map[string]bool) bool {
		for _, u := range udfTypes {
			if set[u] {
				return true
			}
		}
		return false
	}

	switch {
	case has(cascadeUDF):
		return "rvbbit_cascade_udf"
	case has(mapUDF):
		return "rvbbit_map"
	case has(plainUDF):
		return "rvbbit_udf"
	case has(llmAggregateUDF):
		return "llm_aggregate"
	case has(semanticOpUDF):
		return "semantic_op"
	}

	upper := strings.ToUpper(sql)
	switch {
	case strings.Contains(upper, "RVBBIT MAP"):
		return "rvbbit_map"
	case strings.Contains(upper, "RVBBIT RUN"):
		return "rvbbit_run"
	}

	if len(udfTypes) > 0 {
		return udfTypes[0]
	}
	return "plain_sql"
}
