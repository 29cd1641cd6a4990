package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/semsql/pkg/sqlutil"
)

// sqliteQueries mirrors the %s-table-name templated query map the
// idempotency store uses, scoped to the cache table's statements.
var sqliteQueries = map[string]string{
	"InitTable": `CREATE TABLE IF NOT EXISTS %s (
		cache_key TEXT PRIMARY KEY,
		function_name TEXT NOT NULL,
		args_json TEXT NOT NULL,
		args_preview TEXT NOT NULL,
		result TEXT NOT NULL,
		result_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		ttl_seconds INTEGER NOT NULL DEFAULT 0,
		hit_count INTEGER NOT NULL DEFAULT 0,
		last_hit_at TIMESTAMP NOT NULL,
		result_bytes INTEGER NOT NULL DEFAULT 0,
		first_session_id TEXT NOT NULL DEFAULT '',
		first_caller_id TEXT NOT NULL DEFAULT ''
	)`,
	"Upsert": `INSERT INTO %s (cache_key, function_name, args_json, args_preview, result,
		result_type, created_at, expires_at, ttl_seconds, hit_count, last_hit_at,
		result_bytes, first_session_id, first_caller_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			result = excluded.result,
			result_type = excluded.result_type,
			expires_at = excluded.expires_at,
			ttl_seconds = excluded.ttl_seconds,
			hit_count = excluded.hit_count,
			last_hit_at = excluded.last_hit_at,
			result_bytes = excluded.result_bytes
		WHERE excluded.last_hit_at >= %s.last_hit_at`,
	"Get": `SELECT cache_key, function_name, args_json, args_preview, result, result_type,
		created_at, expires_at, ttl_seconds, hit_count, last_hit_at, result_bytes,
		first_session_id, first_caller_id FROM %s WHERE cache_key = ?`,
}

const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

// sqliteL2 is the SQLite-backed L2Store, grounded on the idempotency
// store's claim/mark-sent table pattern: one %s-templated query map, a
// lazily-created table, and plain database/sql against modernc.org/sqlite.
type sqliteL2 struct {
	db    *sql.DB
	table string
}

// NewSQLiteL2 opens (or creates) a SQLite database at dsn. It does not
// create the cache table; EnsureSchema does that (cache.New calls it in the
// background). dsn may be a bare file path or a full SQLite DSN.
// table is quoted once here via sqlutil.QuoteIdent so every %s-templated
// query in sqliteQueries embeds a validated identifier.
func NewSQLiteL2(dsn, table string) (*sqliteL2, error) {
	if table == "" {
		table = "semantic_sql_cache"
	}
	quoted, err := sqlutil.QuoteIdent("sqlite", table)
	if err != nil {
		return nil, fmt.Errorf("invalid cache table name %q: %w", table, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteL2{db: db, table: quoted}, nil
}

func (s *sqliteL2) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteQueries["InitTable"], s.table))
	return err
}

func (s *sqliteL2) Get(ctx context.Context, cacheKey string) (*Row, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(sqliteQueries["Get"], s.table), cacheKey)
	var r Row
	var createdAt, expiresAt, lastHitAt string
	err := row.Scan(&r.CacheKey, &r.FunctionName, &r.ArgsJSON, &r.ArgsPreview, &r.Result,
		&r.ResultType, &createdAt, &expiresAt, &r.TTLSeconds, &r.HitCount, &lastHitAt,
		&r.ResultBytes, &r.FirstSessionID, &r.FirstCallerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.CreatedAt = parseSQLiteTime(createdAt)
	r.ExpiresAt = parseSQLiteTime(expiresAt)
	r.LastHitAt = parseSQLiteTime(lastHitAt)
	return &r, nil
}

func (s *sqliteL2) Insert(ctx context.Context, row Row) error {
	expiresAt := row.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = farFuture
	}
	query := fmt.Sprintf(sqliteQueries["Upsert"], s.table, s.table)
	_, err := s.db.ExecContext(ctx, query,
		row.CacheKey, row.FunctionName, row.ArgsJSON, row.ArgsPreview, row.Result,
		row.ResultType, formatSQLiteTime(row.CreatedAt), formatSQLiteTime(expiresAt),
		row.TTLSeconds, row.HitCount, formatSQLiteTime(row.LastHitAt), row.ResultBytes,
		row.FirstSessionID, row.FirstCallerID,
	)
	return err
}

func (s *sqliteL2) RecordHit(ctx context.Context, cacheKey string) error {
	row, err := s.Get(ctx, cacheKey)
	if err != nil || row == nil {
		return err
	}
	row.HitCount++
	row.LastHitAt = nowFunc()
	return s.Insert(ctx, *row)
}

func (s *sqliteL2) Clear(ctx context.Context, filter ClearFilter) (int64, error) {
	if filter.empty() {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		return n, nil
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
		cutoff := nowFunc().Add(-time.Duration(filter.OlderThanDays) * 24 * time.Hour)
		conds = append(conds, "created_at < ?")
		args = append(args, formatSQLiteTime(cutoff))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, strings.Join(conds, " AND "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqliteL2) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	totalQuery := fmt.Sprintf("SELECT count(*), COALESCE(sum(hit_count), 0), COALESCE(sum(result_bytes), 0) FROM %s", s.table)
	if err := s.db.QueryRowContext(ctx, totalQuery).Scan(&stats.L2Entries, &stats.L2TotalHits, &stats.L2TotalBytes); err != nil {
		return Stats{}, err
	}

	byFnQuery := fmt.Sprintf(`SELECT function_name, count(*), COALESCE(sum(hit_count), 0), COALESCE(sum(result_bytes), 0)
		FROM %s GROUP BY function_name ORDER BY count(*) DESC`, s.table)
	rows, err := s.db.QueryContext(ctx, byFnQuery)
	if err != nil {
		return stats, nil
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

func (s *sqliteL2) List(ctx context.Context, opts ListOptions) ([]Row, error) {
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
		FROM %s %s ORDER BY %s %s LIMIT ? OFFSET ?`, s.table, where, opts.OrderBy, dir)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var createdAt, expiresAt, lastHitAt string
		if err := rows.Scan(&r.CacheKey, &r.FunctionName, &r.ArgsPreview, &r.ResultType,
			&createdAt, &expiresAt, &r.HitCount, &lastHitAt, &r.ResultBytes); err != nil {
			return nil, err
		}
		r.CreatedAt = parseSQLiteTime(createdAt)
		r.ExpiresAt = parseSQLiteTime(expiresAt)
		r.LastHitAt = parseSQLiteTime(lastHitAt)
		out = append(out, r)
	}
	return out, nil
}

// Prune deletes rows past their expiry outright; SQLite has no background
// compaction equivalent to ClickHouse's OPTIMIZE ... FINAL to defer to.
func (s *sqliteL2) Prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", s.table), formatSQLiteTime(nowFunc()))
	return err
}

func (s *sqliteL2) Close() error { return s.db.Close() }

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
