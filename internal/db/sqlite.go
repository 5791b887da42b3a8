package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode=WAL`
	pragmaForeignKeysOn  = `PRAGMA foreign_keys=ON`
	pragmaBusyTimeout    = `PRAGMA busy_timeout=5000`
)

// SQLiteAdapter wraps one embedded database connection opened in WAL mode
// with foreign-key enforcement on. SQL passes through Prepare unmodified; the
// engine serializes writers while allowing concurrent readers.
type SQLiteAdapter struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed atomic.Bool
}

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteAdapter, error) {
	if path == "" {
		return nil, fmt.Errorf("open sqlite: empty path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open sqlite: create parent dir: %w", err)
	}

	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The adapter owns exactly one native connection for its lifetime.
	sdb.SetMaxOpenConns(1)

	for _, stmt := range []string{pragmaJournalModeWAL, pragmaForeignKeysOn, pragmaBusyTimeout} {
		if _, err := sdb.Exec(stmt); err != nil {
			_ = sdb.Close()
			return nil, fmt.Errorf("configure sqlite %q: %w", stmt, err)
		}
	}

	return &SQLiteAdapter{db: sdb, path: path, logger: logger}, nil
}

func (a *SQLiteAdapter) Exec(ctx context.Context, sqlText string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if _, err := a.db.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("sqlite exec: %w", err)
	}
	return nil
}

func (a *SQLiteAdapter) Prepare(sqlText string) (Statement, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	stmt, err := a.db.Prepare(sqlText)
	if err != nil {
		return nil, fmt.Errorf("sqlite prepare: %w", err)
	}
	return &sqliteStmt{
		adapter:  a,
		stmt:     stmt,
		isInsert: insertRe.MatchString(sqlText),
	}, nil
}

func (a *SQLiteAdapter) Transaction(ctx context.Context, fn func(q Querier) error) error {
	if a.closed.Load() {
		return ErrClosed
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			a.logger.Error("sqlite transaction rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&sqliteTx{adapter: a, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (a *SQLiteAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (a *SQLiteAdapter) IsAsync() bool {
	return false
}

// sqliteTx executes statements on the open transaction. Statements prepared
// here are bound to the transaction's connection and become invalid when the
// scope ends.
type sqliteTx struct {
	adapter *SQLiteAdapter
	tx      *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, sqlText string) error {
	if t.adapter.closed.Load() {
		return ErrClosed
	}
	if _, err := t.tx.ExecContext(ctx, sqlText); err != nil {
		return fmt.Errorf("sqlite exec: %w", err)
	}
	return nil
}

func (t *sqliteTx) Prepare(sqlText string) (Statement, error) {
	if t.adapter.closed.Load() {
		return nil, ErrClosed
	}
	stmt, err := t.tx.Prepare(sqlText)
	if err != nil {
		return nil, fmt.Errorf("sqlite prepare: %w", err)
	}
	return &sqliteStmt{
		adapter:  t.adapter,
		stmt:     stmt,
		isInsert: insertRe.MatchString(sqlText),
	}, nil
}

type sqliteStmt struct {
	adapter  *SQLiteAdapter
	stmt     *sql.Stmt
	isInsert bool
}

func (s *sqliteStmt) Run(ctx context.Context, args ...any) (Result, error) {
	if s.adapter.closed.Load() {
		return Result{}, ErrClosed
	}

	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return Result{}, fmt.Errorf("sqlite run: %w", err)
	}

	changes, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("sqlite run: rows affected: %w", err)
	}

	out := Result{Changes: changes}
	if s.isInsert && changes > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return Result{}, fmt.Errorf("sqlite run: last insert id: %w", err)
		}
		out.LastInsertID = id
		out.HasInsertID = true
	}
	return out, nil
}

// Get reads only the first matching row; the cursor is closed without
// draining the rest of the result set.
func (s *sqliteStmt) Get(ctx context.Context, args ...any) (Row, error) {
	if s.adapter.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite query: columns: %w", err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("sqlite query: iterate: %w", err)
		}
		return nil, ErrNoRows
	}
	row, err := scanRow(cols, rows)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *sqliteStmt) All(ctx context.Context, args ...any) ([]Row, error) {
	if s.adapter.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite query: columns: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		row, err := scanRow(cols, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite query: iterate: %w", err)
	}
	return out, nil
}

func scanRow(cols []string, rows *sql.Rows) (Row, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("sqlite query: scan row: %w", err)
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = values[i]
	}
	return row, nil
}
