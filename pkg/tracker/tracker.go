package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/callerctx"
)

// startedAt remembers each in-flight query_id's start time so
// CompleteQuery/ErrorQuery can observe its duration without the store
// round-tripping StartedAt back out.
var startedAt sync.Map // queryID string -> time.Time

func observeQueryDuration(queryID string) {
	v, ok := startedAt.LoadAndDelete(queryID)
	if !ok {
		return
	}
	queryDuration.Observe(nowFunc().Sub(v.(time.Time)).Seconds())
}

// Tracker is the query-lifecycle tracker (C14). It satisfies
// pkg/dispatch.Dispatcher's Tracker interface directly, and additionally
// exposes the lifecycle entry points (StartQuery/CompleteQuery/ErrorQuery)
// a host integration calls around the query it's executing.
type Tracker struct {
	store Store
	log   semsql.Logger
}

// New builds a Tracker backed by store. log may be nil.
func New(store Store, log semsql.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

func (t *Tracker) logf(msg string, kv ...interface{}) {
	if t.log != nil {
		t.log.Debug(msg, kv...)
	}
}

// CallerID satisfies dispatch.Tracker by reading the caller id propagated
// through ctx (or the process-wide fallback, if ctx carries none).
func (t *Tracker) CallerID(ctx context.Context) string {
	return callerctx.CallerID(ctx)
}

// RegisterCascadeExecution satisfies dispatch.Tracker. It bumps the
// caller's llm_calls_count counter; the cascade/session identifiers are
// accepted for parity with the dispatcher's call site and logged, but
// sql_query_log has no per-call lineage table to store them in (only the
// rolled-up counter spec.md names).
func (t *Tracker) RegisterCascadeExecution(callerID, cascadeID, cascadePath, sessionID string, args map[string]any) {
	t.logf("cascade execution registered", "caller_id", callerID, "cascade_id", cascadeID,
		"cascade_path", cascadePath, "session_id", sessionID)
	if callerID == "" {
		return
	}
	llmCallsTotal.WithLabelValues(callerID).Inc()
	go func() {
		if err := t.store.IncrementLLMCall(context.Background(), callerID); err != nil {
			t.logf("failed to increment llm call count", "caller_id", callerID, "error", err.Error())
		}
	}()
}

// IncrementCacheHit satisfies dispatch.Tracker. Fire-and-forget: a failure
// here never affects the query that triggered it.
func (t *Tracker) IncrementCacheHit(callerID string) {
	if callerID == "" {
		return
	}
	cacheHitsTotal.WithLabelValues(callerID).Inc()
	go func() {
		if err := t.store.IncrementCacheHit(context.Background(), callerID); err != nil {
			t.logf("failed to increment cache hit", "caller_id", callerID, "error", err.Error())
		}
	}()
}

// IncrementCacheMiss satisfies dispatch.Tracker.
func (t *Tracker) IncrementCacheMiss(callerID string) {
	if callerID == "" {
		return
	}
	cacheMissesTotal.WithLabelValues(callerID).Inc()
	go func() {
		if err := t.store.IncrementCacheMiss(context.Background(), callerID); err != nil {
			t.logf("failed to increment cache miss", "caller_id", callerID, "error", err.Error())
		}
	}()
}

// StartQuery fingerprints and classifies queryRaw, inserts a running
// lifecycle row, and returns the new query_id (or "" on a store failure,
// which is logged, not returned as an error: observability never blocks
// the query it observes).
func (t *Tracker) StartQuery(ctx context.Context, callerID, queryRaw, protocol string) string {
	fingerprint, template, udfTypes := Fingerprint(queryRaw)
	queryType := ClassifyQueryType(udfTypes, queryRaw)
	queryID := uuid.NewString()

	row := QueryLog{
		QueryID:          queryID,
		CallerID:         callerID,
		QueryRaw:         queryRaw,
		QueryFingerprint: fingerprint,
		QueryTemplate:    template,
		QueryType:        queryType,
		UDFTypes:         udfTypes,
		UDFCount:         len(udfTypes),
		StartedAt:        nowFunc(),
		Status:           StatusRunning,
		Protocol:         protocol,
		Timestamp:        nowFunc(),
	}
	if err := t.store.LogStart(ctx, row); err != nil {
		t.logf("failed to log query start", "query_id", queryID, "error", err.Error())
		return ""
	}
	queriesStartedTotal.WithLabelValues(queryType).Inc()
	startedAt.Store(queryID, row.StartedAt)
	return queryID
}

// CompleteQuery updates a previously started query's lifecycle row.
func (t *Tracker) CompleteQuery(ctx context.Context, queryID string, c Completion) {
	if queryID == "" {
		return
	}
	observeQueryDuration(queryID)
	if err := t.store.LogComplete(ctx, queryID, c); err != nil {
		t.logf("failed to log query complete", "query_id", queryID, "error", err.Error())
	}
}

// ErrorQuery records a terminal error status for a previously started query.
func (t *Tracker) ErrorQuery(ctx context.Context, queryID, errorMessage string) {
	if queryID == "" {
		return
	}
	queryErrorsTotal.Inc()
	observeQueryDuration(queryID)
	if err := t.store.LogError(ctx, queryID, errorMessage); err != nil {
		t.logf("failed to log query error", "query_id", queryID, "error", err.Error())
	}
}

// AggregateCosts rolls up a caller's recorded cost/token totals.
func (t *Tracker) AggregateCosts(ctx context.Context, callerID string) (CostSummary, error) {
	return t.store.AggregateCosts(ctx, callerID)
}
