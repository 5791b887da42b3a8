package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteAdapter {
	t.Helper()

	adapter, err := OpenSQLite(filepath.Join(t.TempDir(), "spares.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func createMembersTable(t *testing.T, q Querier) {
	t.Helper()

	err := q.Exec(context.Background(), `CREATE TABLE members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE
	)`)
	require.NoError(t, err)
}

func TestSQLiteIsAsync(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	require.False(t, adapter.IsAsync())
}

func TestSQLitePrepareIsPassthrough(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	insert, err := adapter.Prepare(`INSERT INTO members (name, email) VALUES (?, ?)`)
	require.NoError(t, err)

	res, err := insert.Run(ctx, "Nora Quist", "nora@example.org")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Changes)
	require.True(t, res.HasInsertID)
	require.Equal(t, int64(1), res.LastInsertID)

	res, err = insert.Run(ctx, "Theo Brandt", "theo@example.org")
	require.NoError(t, err)
	require.Equal(t, int64(2), res.LastInsertID)

	get, err := adapter.Prepare(`SELECT name FROM members WHERE email = ?`)
	require.NoError(t, err)
	row, err := get.Get(ctx, "nora@example.org")
	require.NoError(t, err)
	require.Equal(t, "Nora Quist", row["name"])

	all, err := adapter.Prepare(`SELECT id, name FROM members ORDER BY id`)
	require.NoError(t, err)
	rows, err := all.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Theo Brandt", rows[1]["name"])
}

func TestSQLiteGetReturnsFirstOfMany(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	insert, err := adapter.Prepare(`INSERT INTO members (name, email) VALUES (?, ?)`)
	require.NoError(t, err)
	for _, m := range [][2]string{{"Nora Quist", "nora@example.org"}, {"Theo Brandt", "theo@example.org"}, {"Mira Holt", "mira@example.org"}} {
		_, err := insert.Run(ctx, m[0], m[1])
		require.NoError(t, err)
	}

	// An unbounded predicate matches every row; Get yields the first in
	// statement order and the handle stays usable afterwards.
	get, err := adapter.Prepare(`SELECT name FROM members ORDER BY id`)
	require.NoError(t, err)

	row, err := get.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "Nora Quist", row["name"])

	row, err = get.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "Nora Quist", row["name"])
}

func TestSQLiteGetNoRows(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)

	get, err := adapter.Prepare(`SELECT * FROM members WHERE email = ?`)
	require.NoError(t, err)
	_, err = get.Get(context.Background(), "nobody@example.org")
	require.ErrorIs(t, err, ErrNoRows)

	all, err := adapter.Prepare(`SELECT * FROM members`)
	require.NoError(t, err)
	rows, err := all.All(context.Background())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestSQLiteIgnoredConflictYieldsNoInsertID(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	insert, err := adapter.Prepare(`INSERT OR IGNORE INTO members (name, email) VALUES (?, ?)`)
	require.NoError(t, err)

	res, err := insert.Run(ctx, "Nora Quist", "nora@example.org")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Changes)
	require.True(t, res.HasInsertID)

	res, err = insert.Run(ctx, "Nora Again", "nora@example.org")
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Changes)
	require.False(t, res.HasInsertID)
}

func TestSQLiteTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	boom := errors.New("boom")
	err := adapter.Transaction(ctx, func(q Querier) error {
		insert, err := q.Prepare(`INSERT INTO members (name, email) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		if _, err := insert.Run(ctx, "Nora Quist", "nora@example.org"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := adapter.Prepare(`SELECT COUNT(*) AS n FROM members`)
	require.NoError(t, err)
	row, err := count.Get(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, row["n"])
}

func TestSQLiteTransactionCommits(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	err := adapter.Transaction(ctx, func(q Querier) error {
		insert, err := q.Prepare(`INSERT INTO members (name, email) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		for _, m := range [][2]string{{"Nora Quist", "nora@example.org"}, {"Theo Brandt", "theo@example.org"}} {
			if _, err := insert.Run(ctx, m[0], m[1]); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	count, err := adapter.Prepare(`SELECT COUNT(*) AS n FROM members`)
	require.NoError(t, err)
	row, err := count.Get(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, row["n"])
}

func TestTransactValueForm(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	id, err := Transact(ctx, adapter, func(q Querier) (int64, error) {
		insert, err := q.Prepare(`INSERT INTO members (name, email) VALUES (?, ?)`)
		if err != nil {
			return 0, err
		}
		res, err := insert.Run(ctx, "Nora Quist", "nora@example.org")
		if err != nil {
			return 0, err
		}
		return res.LastInsertID, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
}

func TestSQLiteCloseFailsLoudly(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	createMembersTable(t, adapter)
	ctx := context.Background()

	stmt, err := adapter.Prepare(`SELECT * FROM members`)
	require.NoError(t, err)

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())

	require.ErrorIs(t, adapter.Exec(ctx, `SELECT 1`), ErrClosed)
	_, err = adapter.Prepare(`SELECT 1`)
	require.ErrorIs(t, err, ErrClosed)
	err = adapter.Transaction(ctx, func(q Querier) error { return nil })
	require.ErrorIs(t, err, ErrClosed)

	_, err = stmt.All(ctx)
	require.ErrorIs(t, err, ErrClosed)
	_, err = stmt.Run(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSQLiteForeignKeysEnforced(t *testing.T) {
	t.Parallel()

	adapter := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, adapter.Exec(ctx, `CREATE TABLE leagues (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`))
	require.NoError(t, adapter.Exec(ctx, `CREATE TABLE games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		league_id INTEGER NOT NULL,
		FOREIGN KEY(league_id) REFERENCES leagues(id)
	)`))

	insert, err := adapter.Prepare(`INSERT INTO games (league_id) VALUES (?)`)
	require.NoError(t, err)
	_, err = insert.Run(ctx, 999)
	require.Error(t, err)
}
