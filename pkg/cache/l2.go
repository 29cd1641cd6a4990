package cache

import (
	"context"
	"time"
)

// farFuture is the sentinel "never expires" timestamp written to L2, since
// the persistent stores below model expires_at as a non-nullable column.
var farFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

func isFarFuture(t time.Time) bool {
	return t.Year() >= 2099
}

// Row is one semantic_sql_cache row as persisted in L2.
type Row struct {
	CacheKey       string
	FunctionName   string
	ArgsJSON       string
	ArgsPreview    string
	Result         string
	ResultType     string
	CreatedAt      time.Time
	ExpiresAt      time.Time // farFuture (or any time with Year>=2099) means "never"
	TTLSeconds     int
	HitCount       int64
	LastHitAt      time.Time
	ResultBytes    int
	FirstSessionID string
	FirstCallerID  string
}

func (r Row) expired(now time.Time) bool {
	if isFarFuture(r.ExpiresAt) {
		return false
	}
	return now.After(r.ExpiresAt)
}

// ClearFilter narrows a Clear call. A zero value clears everything.
type ClearFilter struct {
	FunctionName  string
	OlderThanDays int
	CacheKey      string
}

func (f ClearFilter) empty() bool {
	return f.FunctionName == "" && f.OlderThanDays == 0 && f.CacheKey == ""
}

// FunctionStats is one row of the by-function stats breakdown.
type FunctionStats struct {
	FunctionName string
	Entries      int64
	TotalHits    int64
	TotalBytes   int64
}

// Stats aggregates L2 (and L1, filled in by Cache.Stats) cache occupancy.
type Stats struct {
	L1Entries    int
	L1MaxSize    int
	L2Entries    int64
	L2TotalHits  int64
	L2TotalBytes int64
	ByFunction   []FunctionStats
}

// validBrowseColumns is the allowlist ListOptions.OrderBy is checked
// against, the same guard the original adapter applies before interpolating
// a caller-supplied sort column into SQL.
var validBrowseColumns = map[string]bool{
	"created_at":    true,
	"last_hit_at":   true,
	"hit_count":     true,
	"result_bytes":  true,
	"function_name": true,
}

// ListOptions configures a paginated browse of L2 entries.
type ListOptions struct {
	FunctionName string
	OrderBy      string // must be in validBrowseColumns; defaults to "created_at"
	Descending   bool
	Limit        int
	Offset       int
}

// Resolved returns a copy with OrderBy normalized to a safe column and Limit
// bounded, never trusting the caller-supplied value directly.
func (o ListOptions) Resolved() ListOptions {
	resolved := o
	if !validBrowseColumns[resolved.OrderBy] {
		resolved.OrderBy = "created_at"
	}
	if resolved.Limit <= 0 || resolved.Limit > 1000 {
		resolved.Limit = 100
	}
	return resolved
}

// L2Store is the persistent backing store behind the in-process L1 cache.
// Implementations: ClickHouse (ReplacingMergeTree dedup by CacheKey) and
// SQLite (an upsert on the same key that keeps the row with the latest
// last_hit_at).
type L2Store interface {
	EnsureSchema(ctx context.Context) error
	Get(ctx context.Context, cacheKey string) (*Row, error)
	Insert(ctx context.Context, row Row) error
	// RecordHit bumps hit_count and last_hit_at for cacheKey. Implementations
	// read the current row and reinsert it with the counter incremented;
	// the storage engine is expected to dedup by CacheKey, keeping the copy
	// with the latest LastHitAt.
	RecordHit(ctx context.Context, cacheKey string) error
	Clear(ctx context.Context, filter ClearFilter) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	List(ctx context.Context, opts ListOptions) ([]Row, error)
	// Prune triggers storage-engine-level compaction of already-dead rows
	// (ClickHouse: OPTIMIZE ... FINAL; SQLite: a DELETE WHERE expires_at).
	Prune(ctx context.Context) error
	Close() error
}
