package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trianglecurling/spares/internal/db"
)

func openTestAdapter(t *testing.T) db.Adapter {
	t.Helper()

	adapter, err := db.OpenSQLite(filepath.Join(t.TempDir(), "spares.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), openTestAdapter(t))
	require.NoError(t, err)
	return store
}

func TestRunMigrationsAppliesAllSequentially(t *testing.T) {
	t.Parallel()

	adapter := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, adapter, DefaultMigrations()))

	version, err := SchemaVersion(ctx, adapter)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion(), version)

	// Running again is a no-op.
	require.NoError(t, RunMigrations(ctx, adapter, DefaultMigrations()))
}

func TestRunMigrationsIsAtomic(t *testing.T) {
	t.Parallel()

	adapter := openTestAdapter(t)
	ctx := context.Background()

	migrations := []Migration{
		{
			Version:     1,
			Description: "create a",
			Up: func(ctx context.Context, q db.Querier) error {
				return q.Exec(ctx, `CREATE TABLE test_a (id INTEGER PRIMARY KEY AUTOINCREMENT)`)
			},
		},
		{
			Version:     2,
			Description: "fail",
			Up: func(ctx context.Context, q db.Querier) error {
				return q.Exec(ctx, `THIS IS NOT SQL`)
			},
		},
	}

	err := RunMigrations(ctx, adapter, migrations)
	require.Error(t, err)

	version, err := SchemaVersion(ctx, adapter)
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestRunMigrationsRefusesNewerSchema(t *testing.T) {
	t.Parallel()

	adapter := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, adapter, DefaultMigrations()))

	err := adapter.Transaction(ctx, func(q db.Querier) error {
		return setSchemaVersion(ctx, q, CurrentSchemaVersion()+10)
	})
	require.NoError(t, err)

	err = RunMigrations(ctx, adapter, DefaultMigrations())
	require.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestMemberCRUD(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	member := &Member{Name: "Nora Quist", Email: "nora@example.org", Phone: "919-555-0142"}
	require.NoError(t, store.Members.Create(ctx, member))
	require.NotZero(t, member.ID)

	loaded, err := store.Members.GetByEmail(ctx, "nora@example.org")
	require.NoError(t, err)
	require.Equal(t, member.ID, loaded.ID)
	require.Equal(t, "Nora Quist", loaded.Name)
	require.False(t, loaded.CreatedAt.IsZero())

	loaded.Phone = "919-555-0199"
	require.NoError(t, store.Members.Update(ctx, loaded))

	again, err := store.Members.Get(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, "919-555-0199", again.Phone)

	members, err := store.Members.List(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)

	require.NoError(t, store.Members.Delete(ctx, member.ID))
	_, err = store.Members.Get(ctx, member.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Members.Delete(ctx, member.ID), ErrNotFound)
}

func TestMemberDuplicateEmailRejected(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Members.Create(ctx, &Member{Name: "Nora", Email: "nora@example.org"}))
	err := store.Members.Create(ctx, &Member{Name: "Other Nora", Email: "nora@example.org"})
	require.Error(t, err)
}

func TestEventLifecycle(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 19, 0, 0, 0, time.UTC)

	event := &Event{Title: "Friday Night Draw", Location: "Sheet 3", StartsAt: now.Add(48 * time.Hour), Capacity: 2}
	require.NoError(t, store.Events.Create(ctx, event))
	require.NotZero(t, event.ID)

	past := &Event{Title: "Last Week", StartsAt: now.Add(-48 * time.Hour)}
	require.NoError(t, store.Events.Create(ctx, past))

	upcoming, err := store.Events.ListUpcoming(ctx, now)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	require.Equal(t, "Friday Night Draw", upcoming[0].Title)
	require.Equal(t, int64(2), upcoming[0].Capacity)

	require.NoError(t, store.Events.Cancel(ctx, event.ID))
	require.ErrorIs(t, store.Events.Cancel(ctx, event.ID), ErrNotFound)

	upcoming, err = store.Events.ListUpcoming(ctx, now)
	require.NoError(t, err)
	require.Empty(t, upcoming)
}

func TestSignupFlow(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	nora := &Member{Name: "Nora Quist", Email: "nora@example.org"}
	theo := &Member{Name: "Theo Brandt", Email: "theo@example.org"}
	require.NoError(t, store.Members.Create(ctx, nora))
	require.NoError(t, store.Members.Create(ctx, theo))

	event := &Event{Title: "Mixed Doubles", StartsAt: time.Now().Add(24 * time.Hour), Capacity: 2}
	require.NoError(t, store.Events.Create(ctx, event))

	created, err := store.Signups.Signup(ctx, nora.ID, event.ID)
	require.NoError(t, err)
	require.True(t, created)

	// Signing up twice is idempotent.
	created, err = store.Signups.Signup(ctx, nora.ID, event.ID)
	require.NoError(t, err)
	require.False(t, created)

	created, err = store.Signups.Signup(ctx, theo.ID, event.ID)
	require.NoError(t, err)
	require.True(t, created)

	roster, err := store.Signups.Roster(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	require.Equal(t, "Nora Quist", roster[0].MemberName)
	require.NotEmpty(t, roster[0].ConfirmationCode)
	require.NotEqual(t, roster[0].ConfirmationCode, roster[1].ConfirmationCode)

	count, err := store.Signups.CountForEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, store.Signups.Cancel(ctx, nora.ID, event.ID))
	require.ErrorIs(t, store.Signups.Cancel(ctx, nora.ID, event.ID), ErrNotFound)
}

func TestSignupRespectsCapacity(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	event := &Event{Title: "Tiny Draw", StartsAt: time.Now().Add(24 * time.Hour), Capacity: 1}
	require.NoError(t, store.Events.Create(ctx, event))

	nora := &Member{Name: "Nora", Email: "nora@example.org"}
	theo := &Member{Name: "Theo", Email: "theo@example.org"}
	require.NoError(t, store.Members.Create(ctx, nora))
	require.NoError(t, store.Members.Create(ctx, theo))

	_, err := store.Signups.Signup(ctx, nora.ID, event.ID)
	require.NoError(t, err)

	_, err = store.Signups.Signup(ctx, theo.ID, event.ID)
	require.ErrorIs(t, err, ErrEventFull)

	// A full roster does not break idempotent re-signup.
	created, err := store.Signups.Signup(ctx, nora.ID, event.ID)
	require.NoError(t, err)
	require.False(t, created)
}

func TestSignupRejectsCanceledEvent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	event := &Event{Title: "Doomed Draw", StartsAt: time.Now().Add(24 * time.Hour)}
	require.NoError(t, store.Events.Create(ctx, event))
	require.NoError(t, store.Events.Cancel(ctx, event.ID))

	nora := &Member{Name: "Nora", Email: "nora@example.org"}
	require.NoError(t, store.Members.Create(ctx, nora))

	_, err := store.Signups.Signup(ctx, nora.ID, event.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMoveRoster(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	from := &Event{Title: "Original Draw", StartsAt: time.Now().Add(24 * time.Hour), Capacity: 4}
	to := &Event{Title: "Rescheduled Draw", StartsAt: time.Now().Add(72 * time.Hour), Capacity: 4}
	require.NoError(t, store.Events.Create(ctx, from))
	require.NoError(t, store.Events.Create(ctx, to))

	nora := &Member{Name: "Nora", Email: "nora@example.org"}
	theo := &Member{Name: "Theo", Email: "theo@example.org"}
	require.NoError(t, store.Members.Create(ctx, nora))
	require.NoError(t, store.Members.Create(ctx, theo))

	_, err := store.Signups.Signup(ctx, nora.ID, from.ID)
	require.NoError(t, err)
	_, err = store.Signups.Signup(ctx, theo.ID, from.ID)
	require.NoError(t, err)
	// Theo is already on the target roster; only Nora should move.
	_, err = store.Signups.Signup(ctx, theo.ID, to.ID)
	require.NoError(t, err)

	moved, err := store.Signups.MoveRoster(ctx, from.ID, to.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)

	fromCount, err := store.Signups.CountForEvent(ctx, from.ID)
	require.NoError(t, err)
	require.Zero(t, fromCount)

	toCount, err := store.Signups.CountForEvent(ctx, to.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), toCount)
}

func TestMoveRosterRespectsTargetCapacity(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	from := &Event{Title: "Big Draw", StartsAt: time.Now().Add(24 * time.Hour), Capacity: 4}
	to := &Event{Title: "Small Draw", StartsAt: time.Now().Add(72 * time.Hour), Capacity: 1}
	require.NoError(t, store.Events.Create(ctx, from))
	require.NoError(t, store.Events.Create(ctx, to))

	for _, email := range []string{"a@example.org", "b@example.org"} {
		m := &Member{Name: email, Email: email}
		require.NoError(t, store.Members.Create(ctx, m))
		_, err := store.Signups.Signup(ctx, m.ID, from.ID)
		require.NoError(t, err)
	}

	_, err := store.Signups.MoveRoster(ctx, from.ID, to.ID)
	require.ErrorIs(t, err, ErrEventFull)

	// Nothing moved: the whole transfer rolled back.
	fromCount, err := store.Signups.CountForEvent(ctx, from.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), fromCount)
}
