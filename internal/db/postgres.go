package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig carries the connection parameters for the pooled backend.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSL      bool
}

func (c PostgresConfig) dsn() string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + c.Database,
		"user=" + c.Username,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	if c.SSL {
		parts = append(parts, "sslmode=require")
	} else {
		parts = append(parts, "sslmode=disable")
	}
	return strings.Join(parts, " ")
}

// PostgresAdapter wraps a connection pool. Prepare rewrites the SQLite
// dialect into PostgreSQL syntax, appends RETURNING id to inserts so the
// generated key can be read back, and renumbers positional placeholders.
// Transactions run on an exclusively acquired connection.
type PostgresAdapter struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	closed atomic.Bool
}

func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresAdapter, error) {
	if cfg.Host == "" || cfg.Database == "" || cfg.Username == "" {
		return nil, fmt.Errorf("open postgres: host, database and username are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &PostgresAdapter{pool: pool, logger: logger}, nil
}

// pgExecutor is implemented by both *pgxpool.Pool and pgx.Tx, so the same
// statement handle runs against the pool for ad hoc calls and against the
// transaction's connection inside a scope.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Exec translates and runs immediate, parameterless SQL. Schema DDL is
// authored in the SQLite dialect, so the rewrite rules apply here too.
func (a *PostgresAdapter) Exec(ctx context.Context, sqlText string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if _, err := a.pool.Exec(ctx, translateDialect(sqlText)); err != nil {
		return fmt.Errorf("postgres exec: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Prepare(sqlText string) (Statement, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return preparePostgres(a, a.pool, sqlText)
}

func (a *PostgresAdapter) Transaction(ctx context.Context, fn func(q Querier) error) error {
	if a.closed.Load() {
		return ErrClosed
	}

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres acquire connection: %w", err)
	}
	// The connection is returned to the pool on every exit path; it is only
	// ever released after the explicit commit or rollback below.
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Best effort: a failed rollback is logged so it never masks the
		// original cause. The pool discards the connection if the rollback
		// left it unusable.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			a.logger.Error("postgres transaction rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&postgresTx{adapter: a, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (a *PostgresAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.pool.Close()
	return nil
}

func (a *PostgresAdapter) IsAsync() bool {
	return true
}

type postgresTx struct {
	adapter *PostgresAdapter
	tx      pgx.Tx
}

func (t *postgresTx) Exec(ctx context.Context, sqlText string) error {
	if t.adapter.closed.Load() {
		return ErrClosed
	}
	if _, err := t.tx.Exec(ctx, translateDialect(sqlText)); err != nil {
		return fmt.Errorf("postgres exec: %w", err)
	}
	return nil
}

func (t *postgresTx) Prepare(sqlText string) (Statement, error) {
	if t.adapter.closed.Load() {
		return nil, ErrClosed
	}
	return preparePostgres(t.adapter, t.tx, sqlText)
}

// postgresStmt caches the dialect-rewritten form once per handle. The
// numbered placeholder form is re-derived on each call; renumbering is
// validated at prepare time so a malformed statement fails statically.
type postgresStmt struct {
	adapter    *PostgresAdapter
	exec       pgExecutor
	translated string
	isInsert   bool
}

func preparePostgres(a *PostgresAdapter, exec pgExecutor, sqlText string) (*postgresStmt, error) {
	translated := translateDialect(sqlText)
	isInsert := insertRe.MatchString(translated)
	if isInsert {
		translated = ensureInsertReturning(translated)
	}
	if _, err := numberPlaceholders(translated); err != nil {
		return nil, fmt.Errorf("postgres prepare: %w", err)
	}
	return &postgresStmt{
		adapter:    a,
		exec:       exec,
		translated: translated,
		isInsert:   isInsert,
	}, nil
}

func (s *postgresStmt) Run(ctx context.Context, args ...any) (Result, error) {
	if s.adapter.closed.Load() {
		return Result{}, ErrClosed
	}

	numbered, err := numberPlaceholders(s.translated)
	if err != nil {
		return Result{}, fmt.Errorf("postgres run: %w", err)
	}

	if !s.isInsert {
		tag, err := s.exec.Exec(ctx, numbered, args...)
		if err != nil {
			return Result{}, fmt.Errorf("postgres run: %w", err)
		}
		return Result{Changes: tag.RowsAffected()}, nil
	}

	// Inserts carry a RETURNING clause, so the generated key comes back as
	// a result row.
	rows, err := s.exec.Query(ctx, numbered, args...)
	if err != nil {
		return Result{}, fmt.Errorf("postgres run: %w", err)
	}
	returned, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return Result{}, fmt.Errorf("postgres run: collect returning: %w", err)
	}

	out := Result{Changes: rows.CommandTag().RowsAffected()}
	if len(returned) > 0 {
		if id, ok := asInt64(returned[0]["id"]); ok {
			out.LastInsertID = id
			out.HasInsertID = true
		}
	}
	return out, nil
}

// Get reads only the first matching row; the cursor is closed without
// draining the rest of the result set.
func (s *postgresStmt) Get(ctx context.Context, args ...any) (Row, error) {
	if s.adapter.closed.Load() {
		return nil, ErrClosed
	}

	numbered, err := numberPlaceholders(s.translated)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}

	rows, err := s.exec.Query(ctx, numbered, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("postgres query: iterate: %w", err)
		}
		return nil, ErrNoRows
	}
	row, err := pgx.RowToMap(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres query: scan row: %w", err)
	}
	return Row(row), nil
}

func (s *postgresStmt) All(ctx context.Context, args ...any) ([]Row, error) {
	if s.adapter.closed.Load() {
		return nil, ErrClosed
	}

	numbered, err := numberPlaceholders(s.translated)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}

	rows, err := s.exec.Query(ctx, numbered, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("postgres query: collect rows: %w", err)
	}

	out := make([]Row, len(collected))
	for i, row := range collected {
		out[i] = Row(row)
	}
	return out, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
