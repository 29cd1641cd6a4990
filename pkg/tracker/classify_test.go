package tracker

import "testing"

func TestClassifyQueryTypePrecedence(t *testing.T) {
	cases := []struct {
		udfTypes []string
		sql      string
		want     string
	}{
		{[]string{"rvbbit_cascade_udf", "matches"}, "SELECT 1", "rvbbit_cascade_udf"},
		{[]string{"rvbbit_run_parallel_batch"}, "SELECT 1", "rvbbit_map"},
		{[]string{"rvbbit_udf"}, "SELECT 1", "rvbbit_udf"},
		{[]string{"llm_summarize"}, "SELECT 1", "llm_aggregate"},
		{[]string{"matches"}, "SELECT 1", "semantic_op"},
		{[]string{"some_other_udf"}, "SELECT 1", "some_other_udf"},
		{nil, "SELECT 1", "plain_sql"},
		{nil, "RVBBIT MAP PARALLEL 5 'x' USING (SELECT 1)", "rvbbit_map"},
		{nil, "RVBBIT RUN 'x'", "rvbbit_run"},
	}
	for _, c := range cases {
		got := ClassifyQueryType(c.udfTypes, c.sql)
		if got != c.want {
			t.Errorf("ClassifyQueryType(%v, %q) = %q, want %q", c.udfTypes, c.sql, got, c.want)
		}
	}
}

func TestClassifyQueryTypeCascadeBeatsMap(t *testing.T) {
	got := ClassifyQueryType([]string{"rvbbit_map_parallel_exec", "rvbbit_run"}, "SELECT 1")
	if got != "rvbbit_cascade_udf" {
		t.Fatalf("got %q, want rvbbit_cascade_udf (cascade takes precedence over map)", got)
	}
}
