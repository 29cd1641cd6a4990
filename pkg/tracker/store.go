package tracker

import (
	"context"
	"time"
)

// QueryLog is one row of the sql_query_log table: the lifecycle record for
// a single SQL query, keyed by query_id and rolled up by caller_id.
type QueryLog struct {
	QueryID          string
	CallerID         string
	QueryRaw         string
	QueryFingerprint string
	QueryTemplate    string
	QueryType        string
	UDFTypes         []string
	UDFCount         int
	StartedAt        time.Time
	CompletedAt      time.Time
	Status           string
	DurationMS       float64
	RowsOutput       int
	TotalCost        float64
	TotalTokensIn    int
	TotalTokensOut   int
	LLMCallsCount    int
	CacheHits        int
	CacheMisses      int
	ErrorMessage     string
	Protocol         string
	Timestamp        time.Time
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Completion carries the optional fields log_query_complete may update.
// A nil pointer leaves the corresponding column untouched.
type Completion struct {
	Status         string
	RowsOutput     *int
	DurationMS     *float64
	TotalCost      *float64
	TotalTokensIn  *int
	TotalTokensOut *int
	LLMCallsCount  *int
}

// CostSummary is a caller_id's rolled-up cost, token and LLM-call totals as
// recorded by this package's Store.
type CostSummary struct {
	TotalCost      float64
	TotalTokensIn  int
	TotalTokensOut int
	LLMCallsCount  int
}

// Store persists query lifecycle rows and their counters. Every method here
// is best-effort from the tracker's point of view: a Store error is logged
// by the caller and never propagated into the query path.
type Store interface {
	EnsureSchema(ctx context.Context) error
	LogStart(ctx context.Context, row QueryLog) error
	LogComplete(ctx context.Context, queryID string, c Completion) error
	LogError(ctx context.Context, queryID, errorMessage string) error
	IncrementCacheHit(ctx context.Context, callerID string) error
	IncrementCacheMiss(ctx context.Context, callerID string) error
	IncrementLLMCall(ctx context.Context, callerID string) error
	AggregateCosts(ctx context.Context, callerID string) (CostSummary, error)
	Close() error
}
