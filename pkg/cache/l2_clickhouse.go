package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/user/semsql/pkg/sqlutil"
)

// clickHouseL2 is the ClickHouse-backed L2Store. The cache table is a
// ReplacingMergeTree ordered by cache_key so concurrent writers for the
// same key converge on the copy with the greatest last_hit_at (the version
// column) without any locking on the write path.
type clickHouseL2 struct {
	addr      string
	database  string // raw, passed to the driver's Auth
	table     string // raw
	qDatabase string // quoted form, used when building SQL text below
	qTable    string // quoted form

	mu       sync.Mutex
	conn     clickhouse.Conn
	schemaOK bool
}

// NewClickHouseL2 opens (lazily, on first use) a ClickHouse-backed L2 store
// against database.table, creating both if they do not already exist. The
// quoted forms are computed once here, rather than re-quoted at every query,
// so a statement never embeds an unquoted operator-supplied identifier.
func NewClickHouseL2(addr, database, table string) *clickHouseL2 {
	if table == "" {
		table = "semantic_sql_cache"
	}
	if database == "" {
		database = "default"
	}
	return &clickHouseL2{
		addr: addr, database: database, table: table,
		qDatabase: quoteOrRaw(database), qTable: quoteOrRaw(table),
	}
}

// quoteOrRaw quotes name as a ClickHouse identifier, falling back to the
// raw value (e.g. an empty database name, meaning "use the connection's
// default") when it doesn't look like a quotable identifier.
func quoteOrRaw(name string) string {
	if name == "" {
		return name
	}
	quoted, err := sqlutil.QuoteIdent("clickhouse", name)
	if err != nil {
		return name
	}
	return quoted
}

func (s *clickHouseL2) connect(ctx context.Context) (clickhouse.Conn, error) {
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
		return nil, fmt.Errorf("connect clickhouse l2: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *clickHouseL2) EnsureSchema(ctx context.Context) error {
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
		cache_key String,
		function_name String,
		args_json String,
		args_preview String,
		result String,
		result_type String,
		created_at DateTime,
		expires_at DateTime,
		ttl_seconds Int32,
		hit_count UInt64,
		last_hit_at DateTime,
		result_bytes UInt32,
		first_session_id String,
		first_caller_id String
	) ENGINE = ReplacingMergeTree(last_hit_at)
	ORDER BY cache_key`, s.qDatabase, s.qTable)

	if err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	s.mu.Lock()
	s.schemaOK = true
	s.mu.Unlock()
	return nil
}

func (s *clickHouseL2) Get(ctx context.Context, cacheKey string) (*Row, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT cache_key, function_name, args_json, args_preview, result,
		result_type, created_at, expires_at, ttl_seconds, hit_count, last_hit_at,
		result_bytes, first_session_id, first_caller_id
		FROM %s.%s FINAL WHERE cache_key = ? LIMIT 1`, s.qDatabase, s.qTable)

	var r Row
	err = conn.QueryRow(ctx, query, cacheKey).Scan(
		&r.CacheKey, &r.FunctionName, &r.ArgsJSON, &r.ArgsPreview, &r.Result,
		&r.ResultType, &r.CreatedAt, &r.ExpiresAt, &r.TTLSeconds, &r.HitCount,
		&r.LastHitAt, &r.ResultBytes, &r.FirstSessionID, &r.FirstCallerID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *clickHouseL2) Insert(ctx context.Context, row Row) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	expiresAt := row.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = farFuture
	}
	query := fmt.Sprintf(`INSERT INTO %s.%s (cache_key, function_name, args_json,
		args_preview, result, result_type, created_at, expires_at, ttl_seconds,
		hit_count, last_hit_at, result_bytes, first_session_id, first_caller_id)`,
		s.qDatabase, s.qTable)
	batch, err := conn.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	if err := batch.Append(
		row.CacheKey, row.FunctionName, row.ArgsJSON, row.ArgsPreview, row.Result,
		row.ResultType, row.CreatedAt, expiresAt, row.TTLSeconds, row.HitCount,
		row.LastHitAt, row.ResultBytes, row.FirstSessionID, row.FirstCallerID,
	); err != nil {
		return err
	}
	return batch.Send()
}

// RecordHit reads the current row and reinserts it with hit_count+1 and
// last_hit_at=now. ReplacingMergeTree dedups eventually by cache_key,
// keeping the row with the greatest last_hit_at; until the background
// merge runs, FINAL reads (used by Get) see the latest write.
func (s *clickHouseL2) RecordHit(ctx context.Context, cacheKey string) error {
	row, err := s.Get(ctx, cacheKey)
	if err != nil || row == nil {
		return err
	}
	row.HitCount++
	row.LastHitAt = nowFunc()
	return s.Insert(ctx, *row)
}

func (s *clickHouseL2) Clear(ctx context.Context, filter ClearFilter) (int64, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	if filter.empty() {
		if err := conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s.%s", s.qDatabase, s.qTable)); err != nil {
			return 0, err
		}
		return -1, nil // unfiltered truncate does not report a row count
	}

	var conds []string
	var args []any
	if filter.FunctionName != "" {
		conds = append(conds, "function_name = ?")
		args = append(args, filter.FunctionName)
	}
	if filter.CacheKey != "" {
		conds = append(conds, "cache_key = ?")
		args = append(args, filter.CacheKey)
	}
	if filter.OlderThanDays > 0 {
		conds = append(conds, fmt.Sprintf("created_at < now() - INTERVAL %d DAY", filter.OlderThanDays))
	}

	var count int64
	countQuery := fmt.Sprintf("SELECT count() FROM %s.%s WHERE %s", s.qDatabase, s.qTable, joinAnd(conds))
	_ = conn.QueryRow(ctx, countQuery, args...).Scan(&count)

	deleteQuery := fmt.Sprintf("ALTER TABLE %s.%s DELETE WHERE %s", s.qDatabase, s.qTable, joinAnd(conds))
	if err := conn.Exec(ctx, deleteQuery, args...); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *clickHouseL2) Stats(ctx context.Context) (Stats, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	totalQuery := fmt.Sprintf("SELECT count(), sum(hit_count), sum(result_bytes) FROM %s.%s FINAL", s.qDatabase, s.qTable)
	if err := conn.QueryRow(ctx, totalQuery).Scan(&stats.L2Entries, &stats.L2TotalHits, &stats.L2TotalBytes); err != nil {
		return Stats{}, err
	}

	byFnQuery := fmt.Sprintf(`SELECT function_name, count(), sum(hit_count), sum(result_bytes)
		FROM %s.%s FINAL GROUP BY function_name ORDER BY count() DESC`, s.qDatabase, s.qTable)
	rows, err := conn.Query(ctx, byFnQuery)
	if err != nil {
		return stats, nil // aggregate totals still useful even if breakdown fails
	}
	defer rows.Close()
	for rows.Next() {
		var fs FunctionStats
		if err := rows.Scan(&fs.FunctionName, &fs.Entries, &fs.TotalHits, &fs.TotalBytes); err != nil {
			return stats, nil
		}
		stats.ByFunction = append(stats.ByFunction, fs)
	}
	return stats, nil
}

func (s *clickHouseL2) List(ctx context.Context, opts ListOptions) ([]Row, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	opts = opts.Resolved()

	var where string
	var args []any
	if opts.FunctionName != "" {
		where = "WHERE function_name = ?"
		args = append(args, opts.FunctionName)
	}
	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT cache_key, function_name, args_preview, result_type,
		created_at, expires_at, hit_count, last_hit_at, result_bytes
		FROM %s.%s FINAL %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		s.qDatabase, s.qTable, where, opts.OrderBy, dir)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.CacheKey, &r.FunctionName, &r.ArgsPreview, &r.ResultType,
			&r.CreatedAt, &r.ExpiresAt, &r.HitCount, &r.LastHitAt, &r.ResultBytes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *clickHouseL2) Prune(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Exec(ctx, fmt.Sprintf("OPTIMIZE TABLE %s.%s FINAL", s.qDatabase, s.qTable))
}

func (s *clickHouseL2) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func joinAnd(conds []string) string {
	if len(conds) == 0 {
		return "1 = 1"
	}
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}
