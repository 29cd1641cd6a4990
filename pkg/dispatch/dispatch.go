// Package dispatch resolves a rewritten semantic SQL call to a cascade
// invocation: it looks the function up in the registry, consults the
// cache, runs the cascade on a miss, coerces the result to the declared
// SQL type, and writes the outcome back through the cache.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/user/semsql"
	"github.com/user/semsql/pkg/cache"
	"github.com/user/semsql/pkg/registry"
)

// Tracker is the subset of the query-lifecycle tracker the dispatcher
// needs: caller-id lookup and the cost/cache counters it bumps per call.
// Left nil-able so the dispatcher is usable without tracking wired up.
type Tracker interface {
	CallerID(ctx context.Context) string
	RegisterCascadeExecution(callerID, cascadeID, cascadePath, sessionID string, args map[string]any)
	IncrementCacheHit(callerID string)
	IncrementCacheMiss(callerID string)
}

// Options configures a Dispatcher.
type Options struct {
	Registry *registry.Registry
	Cascade  semsql.CascadeClient
	Cache    *cache.Cache // may be nil to disable caching entirely
	Tracker  Tracker      // may be nil
	Logger   semsql.Logger
}

// Dispatcher is the UDF dispatch layer (C11).
type Dispatcher struct {
	reg     *registry.Registry
	cascade semsql.CascadeClient
	cache   *cache.Cache
	tracker Tracker
	log     semsql.Logger
}

// New builds a Dispatcher.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		reg:     opts.Registry,
		cascade: opts.Cascade,
		cache:   opts.Cache,
		tracker: opts.Tracker,
		log:     opts.Logger,
	}
}

// Dispatch resolves functionName in the registry and runs it end to end:
// cache lookup, cascade invocation on a miss, result coercion, and a
// cache write-through. It never returns a Go error — a missing function or
// a cascade-runtime failure is reported as an {"error": "..."} JSON string,
// matching the contract SQL callers expect from a UDF that cannot raise.
func (d *Dispatcher) Dispatch(ctx context.Context, functionName string, args map[string]any) string {
	entry, ok := d.reg.Lookup(functionName)
	if !ok {
		return errorJSON(fmt.Sprintf("SQL function not found: %s", functionName))
	}

	callerID := ""
	if d.tracker != nil {
		callerID = d.tracker.CallerID(ctx)
	}

	useCache := entry.CacheEnabled && d.cache != nil
	if useCache {
		if e, hit := d.cache.Get(ctx, functionName, args); hit {
			if d.tracker != nil && callerID != "" {
				d.tracker.IncrementCacheHit(callerID)
			}
			return e.Result
		}
	}
	if d.tracker != nil && callerID != "" {
		d.tracker.IncrementCacheMiss(callerID)
	}

	sessionID := fmt.Sprintf("sql_fn_%s_%s", functionName, uuid.NewString())

	if d.tracker != nil && callerID != "" {
		d.tracker.RegisterCascadeExecution(callerID, entry.CascadeID, entry.CascadePath, sessionID, args)
	}

	result, err := d.cascade.Run(ctx, entry.CascadePath, sessionID, args, callerID)
	if err != nil {
		d.logf("cascade execution failed", "function", functionName, "error", err)
		return errorJSON(err.Error())
	}

	output := extractCascadeOutput(result)
	coerced := coerceReturnType(output, entry.Returns)
	rendered := renderResult(coerced)

	if useCache {
		ttl := 0
		if entry.CacheTTLSecs != nil {
			ttl = *entry.CacheTTLSecs
		}
		d.cache.Set(functionName, args, rendered, string(entry.Returns), cache.SetOptions{
			TTLSeconds: ttl,
			SessionID:  sessionID,
			CallerID:   callerID,
		})
	}

	return rendered
}

func (d *Dispatcher) logf(msg string, kv ...interface{}) {
	if d.log != nil {
		d.log.Error(msg, kv...)
	}
}

func errorJSON(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"` + msg + `"}`
	}
	return string(b)
}
