package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/user/semsql/pkg/sqlutil"
)

// clickHouseStore is the ClickHouse-backed Store. Lifecycle rows are
// appended once by LogStart and then mutated in place via ALTER TABLE
// UPDATE, matching sql_trail.py's approach of inserting a running row and
// patching it as the query progresses rather than replacing it.
type clickHouseStore struct {
	addr      string
	database  string // raw, passed to the driver's Auth
	table     string // raw
	qDatabase string // quoted form, used when building SQL text below
	qTable    string // quoted form

	mu       sync.Mutex
	conn     clickhouse.Conn
	schemaOK bool
}

// NewClickHouseStore opens (lazily) a ClickHouse-backed query-log store.
func NewClickHouseStore(addr, database, table string) *clickHouseStore {
	if table == "" {
		table = "sql_query_log"
	}
	return &clickHouseStore{
		addr: addr, database: database, table: table,
		qDatabase: quoteIdentOrRaw(database), qTable: quoteIdentOrRaw(table),
	}
}

// quoteIdentOrRaw quotes name as a ClickHouse identifier, falling back to
// the raw value (e.g. an empty database name) when it doesn't look like a
// quotable identifier.
func quoteIdentOrRaw(name string) string {
	if name == "" {
		return name
	}
	quoted, err := sqlutil.QuoteIdent("clickhouse", name)
	if err != nil {
		return name
	}
	return quoted
}

func (s *clickHouseStore) connect(ctx context.Context) (clickhouse.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{s.addr},
		Auth: clickhouse.Auth{Database: s.database},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse tracker: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *clickHouseStore) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	if s.schemaOK {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	if err := conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.qDatabase)); err != nil {
		// Permissions-limited users may not be able to create the database;
		// proceed and let table creation surface the real failure.
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		query_id String,
		caller_id String,
		query_raw String,
		query_fingerprint String,
		query_template String,
		query_type String,
		udf_types Array(String),
		udf_count UInt32,
		started_at DateTime64(6),
		completed_at Nullable(DateTime64(6)),
		status String,
		duration_ms Float64,
		rows_output UInt64,
		total_cost Float64,
		total_tokens_in UInt64,
		total_tokens_out UInt64,
		llm_calls_count UInt64,
		cache_hits UInt64,
		cache_misses UInt64,
		error_message String,
		protocol String,
		timestamp DateTime64(6)
	) ENGINE = MergeTree()
	ORDER BY (caller_id, query_id)`, s.qDatabase, s.qTable)

	if err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	s.mu.Lock()
	s.schemaOK = true
	s.mu.Unlock()
	return nil
}

func (s *clickHouseStore) LogStart(ctx context.Context, row QueryLog) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = row.StartedAt
	}
	insert := fmt.Sprintf(`INSERT INTO %s.%s (query_id, caller_id, query_raw,
		query_fingerprint, query_template, query_type, udf_types, udf_count,
		started_at, status, protocol, timestamp)`, s.qDatabase, s.qTable)
	batch, err := conn.PrepareBatch(ctx, insert)
	if err != nil {
		return err
	}
	if err := batch.Append(
		row.QueryID, row.CallerID, row.QueryRaw, row.QueryFingerprint,
		row.QueryTemplate, row.QueryType, row.UDFTypes, uint32(len(row.UDFTypes)),
		row.StartedAt, StatusRunning, row.Protocol, row.Timestamp,
	); err != nil {
		return err
	}
	return batch.Send()
}

// LogComplete updates the lifecycle row via ALTER TABLE UPDATE, the same
// mutation-based approach sql_trail.py's log_query_complete uses rather
// than a ReplacingMergeTree-style reinsert: the row is rare to rewrite and
// identified by its immutable query_id, so an in-place mutation is simpler.
func (s *clickHouseStore) LogComplete(ctx context.Context, queryID string, c Completion) error {
	if queryID == "" {
		return nil
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	status := c.Status
	if status == "" {
		status = StatusCompleted
	}

	sets := []string{"status = ?", "completed_at = ?"}
	args := []any{status, nowFunc()}
	if c.DurationMS != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *c.DurationMS)
	}
	if c.RowsOutput != nil {
		sets = append(sets, "rows_output = ?")
		args = append(args, *c.RowsOutput)
	}
	if c.TotalCost != nil {
		sets = append(sets, "total_cost = ?")
		args = append(args, *c.TotalCost)
	}
	if c.TotalTokensIn != nil {
		sets = append(sets, "total_tokens_in = ?")
		args = append(args, *c.TotalTokensIn)
	}
	if c.TotalTokensOut != nil {
		sets = append(sets, "total_tokens_out = ?")
		args = append(args, *c.TotalTokensOut)
	}
	if c.LLMCallsCount != nil {
		sets = append(sets, "llm_calls_count = ?")
		args = append(args, *c.LLMCallsCount)
	}

	query := fmt.Sprintf("ALTER TABLE %s.%s UPDATE %s WHERE query_id = ?",
		s.qDatabase, s.qTable, joinComma(sets))
	args = append(args, queryID)
	return conn.Exec(ctx, query, args...)
}

func (s *clickHouseStore) LogError(ctx context.Context, queryID, errorMessage string) error {
	if queryID == "" {
		return nil
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	msg := errorMessage
	if len(msg) > 500 {
		msg = msg[:500]
	}
	query := fmt.Sprintf(`ALTER TABLE %s.%s UPDATE status = ?, completed_at = ?,
		error_message = ? WHERE query_id = ?`, s.qDatabase, s.qTable)
	return conn.Exec(ctx, query, StatusError, nowFunc(), msg, queryID)
}

func (s *clickHouseStore) IncrementCacheHit(ctx context.Context, callerID string) error {
	return s.incrementColumn(ctx, "cache_hits", callerID)
}

func (s *clickHouseStore) IncrementCacheMiss(ctx context.Context, callerID string) error {
	return s.incrementColumn(ctx, "cache_misses", callerID)
}

func (s *clickHouseStore) IncrementLLMCall(ctx context.Context, callerID string) error {
	return s.incrementColumn(ctx, "llm_calls_count", callerID)
}

func (s *clickHouseStore) incrementColumn(ctx context.Context, column, callerID string) error {
	if callerID == "" {
		return nil
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("ALTER TABLE %s.%s UPDATE %s = %s + 1 WHERE caller_id = ?",
		s.qDatabase, s.qTable, column, column)
	return conn.Exec(ctx, query, callerID)
}

// AggregateCosts sums the query log's own per-query totals for callerID.
// The original aggregates a separate unified_logs table of individual LLM
// calls; that table is an external collaborator's log, not something this
// engine writes, so this reports from the columns it does own instead.
func (s *clickHouseStore) AggregateCosts(ctx context.Context, callerID string) (CostSummary, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return CostSummary{}, err
	}
	query := fmt.Sprintf(`SELECT sum(total_cost), sum(total_tokens_in),
		sum(total_tokens_out), sum(llm_calls_count)
		FROM %s.%s WHERE caller_id = ?`, s.qDatabase, s.qTable)
	var sum CostSummary
	if err := conn.QueryRow(ctx, query, callerID).Scan(
		&sum.TotalCost, &sum.TotalTokensIn, &sum.TotalTokensOut, &sum.LLMCallsCount,
	); err != nil {
		return CostSummary{}, err
	}
	return sum, nil
}

func (s *clickHouseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var nowFunc = time.Now

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
