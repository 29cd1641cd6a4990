// Package cache implements the two-tier semantic result cache: an
// in-process L1 map in front of a persistent L2 store (ClickHouse or
// SQLite), keyed by md5(function_name + ":" + canonical_json(args)).
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/user/semsql"
)

// nowFunc is indirected so tests can freeze time without sleeping through
// real TTLs.
var nowFunc = time.Now

// Entry is a resolved cache lookup result, the shape the UDF dispatcher
// coerces into the declared SQL return type.
type Entry struct {
	Result     string
	ResultType string
}

// Cache is the two-tier cache: an in-process L1 in front of a pluggable L2
// persistent store. The zero value is not usable; build one with New.
type Cache struct {
	l1    *l1
	l2    L2Store
	log   semsql.Logger
	l2Sem chan struct{} // bounds concurrent fire-and-forget L2 writes
}

// Options configures a Cache.
type Options struct {
	L1MaxSize int
	L2        L2Store // may be nil to run L1-only (tests, ephemeral sessions)
	Logger    semsql.Logger
	// L2Concurrency bounds how many async L2 writes may be in flight at
	// once; 0 defaults to 8.
	L2Concurrency int
}

// New builds a Cache. If opts.L2 is non-nil its schema is ensured
// eagerly in the background; callers that need to observe that error
// synchronously should call opts.L2.EnsureSchema themselves first.
func New(opts Options) *Cache {
	conc := opts.L2Concurrency
	if conc <= 0 {
		conc = 8
	}
	c := &Cache{
		l1:    newL1(opts.L1MaxSize),
		l2:    opts.L2,
		log:   opts.Logger,
		l2Sem: make(chan struct{}, conc),
	}
	if c.l2 != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.l2.EnsureSchema(ctx); err != nil {
				c.logf("ensure schema failed", "error", err)
			}
		}()
	}
	return c
}

func (c *Cache) logf(msg string, kv ...interface{}) {
	if c.log != nil {
		c.log.Warn(msg, kv...)
	}
}

// Get performs the read-through lookup: L1, then L2 on miss (populating
// L1 on an L2 hit), then a flat miss. A non-blocking async hit-counter
// bump is enqueued on any hit.
func (c *Cache) Get(ctx context.Context, functionName string, args map[string]any) (Entry, bool) {
	key := CacheKey(functionName, args)

	if e, ok := c.l1.get(key); ok {
		c.recordHitAsync(key)
		return Entry{Result: e.result, ResultType: e.resultType}, true
	}

	if c.l2 == nil {
		return Entry{}, false
	}

	row, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logf("l2 get error", "function", functionName, "error", err)
		return Entry{}, false
	}
	if row == nil {
		return Entry{}, false
	}
	now := nowFunc()
	if row.expired(now) {
		return Entry{}, false
	}

	c.l1.set(key, l1Entry{
		result:       row.Result,
		resultType:   row.ResultType,
		createdAt:    row.CreatedAt,
		expiresAt:    row.ExpiresAt,
		neverExpires: isFarFuture(row.ExpiresAt),
	})
	c.recordHitAsync(key)
	return Entry{Result: row.Result, ResultType: row.ResultType}, true
}

// SetOptions carries the write-through metadata beyond the bare
// result/type pair.
type SetOptions struct {
	TTLSeconds int // 0 means "never expires"
	SessionID  string
	CallerID   string
}

// Set performs the write-through insert: L1 immediately, L2 asynchronously
// (fire-and-forget; L2's dedup-by-cache_key storage makes concurrent
// writers for the same key idempotent).
func (c *Cache) Set(functionName string, args map[string]any, result, resultType string, opts SetOptions) {
	key := CacheKey(functionName, args)
	now := nowFunc()

	var expiresAt time.Time
	neverExpires := opts.TTLSeconds <= 0
	if !neverExpires {
		expiresAt = now.Add(time.Duration(opts.TTLSeconds) * time.Second)
	}

	c.l1.set(key, l1Entry{
		result:       result,
		resultType:   resultType,
		createdAt:    now,
		expiresAt:    expiresAt,
		neverExpires: neverExpires,
	})

	if c.l2 == nil {
		return
	}

	row := Row{
		CacheKey:       key,
		FunctionName:   functionName,
		ArgsJSON:       marshalArgs(args),
		ArgsPreview:    preview(marshalArgs(args), 200),
		Result:         result,
		ResultType:     resultType,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		TTLSeconds:     opts.TTLSeconds,
		HitCount:       0,
		LastHitAt:      now,
		ResultBytes:    len(result),
		FirstSessionID: opts.SessionID,
		FirstCallerID:  opts.CallerID,
	}
	if neverExpires {
		row.ExpiresAt = farFuture
	}

	c.asyncL2(func(ctx context.Context) {
		if err := c.l2.Insert(ctx, row); err != nil {
			c.logf("l2 insert error", "function", functionName, "error", err)
		}
	})
}

func (c *Cache) recordHitAsync(key string) {
	if c.l2 == nil {
		return
	}
	c.asyncL2(func(ctx context.Context) {
		if err := c.l2.RecordHit(ctx, key); err != nil {
			c.logf("l2 record hit error", "key", key, "error", err)
		}
	})
}

// asyncL2 runs fn on its own goroutine, bounded by l2Sem so a burst of
// writes cannot spawn unbounded goroutines against a slow L2.
func (c *Cache) asyncL2(fn func(ctx context.Context)) {
	select {
	case c.l2Sem <- struct{}{}:
	default:
		// Saturated: drop rather than block the caller. L2 is best-effort;
		// the authoritative copy already lives in L1.
		return
	}
	go func() {
		defer func() { <-c.l2Sem }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

// Clear removes matching entries from L1 and L2, returning the number of
// L1 entries removed (L2's count, when available via the store, is not
// surfaced here — Stats is the source of truth for occupancy).
func (c *Cache) Clear(ctx context.Context, filter ClearFilter) (int, error) {
	// L1 only indexes by cache_key, so an exact-key filter clears just that
	// entry; any other filter (function_name, older_than_days, or no
	// filter at all) falls back to a full L1 clear — the same limitation
	// the cache adapter this is grounded on documents, since L1 entries
	// don't carry their function_name.
	var l1Removed int
	if filter.CacheKey != "" && filter.FunctionName == "" && filter.OlderThanDays == 0 {
		l1Removed = c.l1.clear(func(key string, _ l1Entry) bool { return key == filter.CacheKey })
	} else {
		l1Removed = c.l1.clear(nil)
	}

	if c.l2 == nil {
		return l1Removed, nil
	}
	if _, err := c.l2.Clear(ctx, filter); err != nil {
		return l1Removed, err
	}
	return l1Removed, nil
}

// Stats reports L1 occupancy plus L2's aggregate and by-function
// breakdown.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{L1Entries: c.l1.size(), L1MaxSize: c.l1.maxSize}
	if c.l2 == nil {
		return stats, nil
	}
	l2Stats, err := c.l2.Stats(ctx)
	if err != nil {
		return stats, err
	}
	l2Stats.L1Entries = stats.L1Entries
	l2Stats.L1MaxSize = stats.L1MaxSize
	return l2Stats, nil
}

// Browse paginates L2 entries for operator inspection.
func (c *Cache) Browse(ctx context.Context, opts ListOptions) ([]Row, error) {
	if c.l2 == nil {
		return nil, nil
	}
	return c.l2.List(ctx, opts.Resolved())
}

// PruneExpired drops expired L1 entries synchronously and asks L2 to
// compact already-dead rows (a no-op correctness-wise: L2's TTL-filtered
// reads already skip them; this just reclaims space).
func (c *Cache) PruneExpired(ctx context.Context) int {
	now := nowFunc()
	pruned := c.l1.clear(func(_ string, e l1Entry) bool { return e.expired(now) })
	if c.l2 != nil {
		if err := c.l2.Prune(ctx); err != nil {
			c.logf("l2 prune error", "error", err)
		}
	}
	return pruned
}

func marshalArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
