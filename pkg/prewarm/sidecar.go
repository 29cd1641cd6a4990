package prewarm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/user/semsql"
	"golang.org/x/sync/errgroup"
)

// DistinctQuerier runs a read-only SQL query and returns the non-null values
// of its single selected column as strings. It is the one piece of the
// sidecar this package cannot provide itself: something has to actually talk
// to whatever engine the caller's statements run against.
type DistinctQuerier interface {
	QueryDistinctColumn(ctx context.Context, query string) ([]string, error)
}

// Dispatcher is the subset of dispatch.Dispatcher the sidecar needs: running
// a cascade-backed scalar function and letting its own cache check decide
// whether there is anything to do.
type Dispatcher interface {
	Dispatch(ctx context.Context, functionName string, args map[string]any) string
}

var parallelAnnotation = regexp.MustCompile(`(?i)--\s*@\s*parallel\s*:\s*(\d+)`)

// ParallelAnnotation extracts the worker count from a `-- @ parallel: N`
// hint comment anywhere in sql, if present.
func ParallelAnnotation(sql string) (int, bool) {
	m := parallelAnnotation.FindStringSubmatch(sql)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Sidecar races ahead of a main query's serial execution, warming the
// cascade cache for every distinct value a scalar function's column
// argument will take.
type Sidecar struct {
	querier    DistinctQuerier
	dispatcher Dispatcher
	log        semsql.Logger
}

// NewSidecar builds a Sidecar. log may be nil.
func NewSidecar(querier DistinctQuerier, dispatcher Dispatcher, log semsql.Logger) *Sidecar {
	return &Sidecar{querier: querier, dispatcher: dispatcher, log: log}
}

func (s *Sidecar) logf(msg string, kv ...interface{}) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

// MaybeLaunch checks sql for a `-- @ parallel: N` annotation and eligible
// scalar function calls; if both are present it launches prewarming in a
// detached goroutine and returns immediately, true. The caller never waits
// on it: a failed or slow prewarm pass only costs cache hits, never
// correctness.
func (s *Sidecar) MaybeLaunch(ctx context.Context, sql string, entries []Spec, callerID string) bool {
	parallel, ok := ParallelAnnotation(sql)
	if !ok {
		return false
	}
	if len(entries) == 0 {
		return false
	}
	go s.run(context.WithoutCancel(ctx), entries, parallel, callerID)
	return true
}

func (s *Sidecar) run(ctx context.Context, specs []Spec, parallel int, callerID string) {
	sidecarSession := "prewarm_" + uuid.NewString()[:8]
	s.logf("prewarm sidecar started", "session", sidecarSession, "caller_id", callerID, "functions", len(specs))

	for _, spec := range specs {
		values, err := s.querier.QueryDistinctColumn(ctx, spec.DistinctQuery)
		if err != nil {
			s.logf("prewarm distinct query failed", "function", spec.Function, "err", err.Error())
			continue
		}
		if len(values) == 0 {
			continue
		}
		s.warmValues(ctx, spec, values, parallel)
	}

	s.logf("prewarm sidecar finished", "session", sidecarSession)
}

func (s *Sidecar) warmValues(ctx context.Context, spec Spec, values []string, parallel int) {
	var completed, errs int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for _, value := range values {
		value := value
		g.Go(func() error {
			args := buildArgs(spec, value)
			_ = s.dispatcher.Dispatch(gctx, spec.Function, args)
			atomic.AddInt64(&completed, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		atomic.AddInt64(&errs, 1)
	}

	s.logf("prewarm function complete", "function", spec.Function,
		"completed", atomic.LoadInt64(&completed), "total", len(values), "errors", atomic.LoadInt64(&errs))
}

func buildArgs(spec Spec, value string) map[string]any {
	args := make(map[string]any, len(spec.AllArgs))
	for i, a := range spec.AllArgs {
		name := spec.InputKey
		if i < len(spec.ArgNames) && spec.ArgNames[i] != "" {
			name = spec.ArgNames[i]
		}
		if i == spec.ColumnArgIndex {
			args[name] = value
			continue
		}
		if a.IsColumn {
			continue
		}
		args[name] = unquoteLiteral(a.SQL)
	}
	if len(args) == 0 {
		args[spec.InputKey] = value
	}
	return args
}

func unquoteLiteral(sql string) string {
	if len(sql) >= 2 {
		if (sql[0] == '\'' && sql[len(sql)-1] == '\'') || (sql[0] == '"' && sql[len(sql)-1] == '"') {
			return strings.ReplaceAll(sql[1:len(sql)-1], string(sql[0])+string(sql[0]), string(sql[0]))
		}
	}
	return sql
}
