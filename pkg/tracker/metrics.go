package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These mirror the in-memory/Store counters Tracker already maintains per
// caller_id; they exist for external scraping (e.g. a sidecar exporter),
// not as the source of truth — AggregateCosts always answers from Store.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semsql_cache_hits_total",
		Help: "The total number of semantic cache hits, by caller",
	}, []string{"caller_id"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semsql_cache_misses_total",
		Help: "The total number of semantic cache misses, by caller",
	}, []string{"caller_id"})

	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semsql_llm_calls_total",
		Help: "The total number of cascade/LLM invocations, by caller",
	}, []string{"caller_id"})

	queriesStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semsql_queries_started_total",
		Help: "The total number of queries that entered the lifecycle tracker, by query type",
	}, []string{"query_type"})

	queryErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semsql_query_errors_total",
		Help: "The total number of queries that ended in an error",
	})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "semsql_query_duration_seconds",
		Help:    "Wall-clock time from StartQuery to CompleteQuery/ErrorQuery",
		Buckets: prometheus.DefBuckets,
	})
)
