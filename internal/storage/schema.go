package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/trianglecurling/spares/internal/db"
)

const schemaVersionKey = "schema_version"

// Schema DDL is authored in the embedded engine's dialect; the networked
// adapter rewrites it during exec/prepare.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, q db.Querier) error
}

var defaultMigrations = []Migration{
	{
		Version:     1,
		Description: "create membership tables",
		Up: func(ctx context.Context, q db.Querier) error {
			statements := []string{
				`CREATE TABLE IF NOT EXISTS members (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					email TEXT NOT NULL UNIQUE,
					phone TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL DEFAULT (datetime('now'))
				)`,
				`CREATE TABLE IF NOT EXISTS events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					title TEXT NOT NULL,
					location TEXT NOT NULL DEFAULT '',
					starts_at DATETIME NOT NULL,
					capacity INTEGER NOT NULL DEFAULT 16,
					canceled INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL DEFAULT (datetime('now'))
				)`,
				`CREATE TABLE IF NOT EXISTS signups (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					member_id INTEGER NOT NULL,
					event_id INTEGER NOT NULL,
					confirmation_code TEXT NOT NULL,
					created_at DATETIME NOT NULL DEFAULT (datetime('now')),
					UNIQUE (member_id, event_id),
					FOREIGN KEY (member_id) REFERENCES members(id),
					FOREIGN KEY (event_id) REFERENCES events(id)
				)`,
			}
			for _, stmt := range statements {
				if err := q.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("apply migration v1 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "seed default settings",
		Up: func(ctx context.Context, q db.Querier) error {
			seeds := []string{
				`INSERT OR IGNORE INTO settings (key, value) VALUES ('club_name', 'Triangle Curling Club')`,
				`INSERT OR IGNORE INTO settings (key, value) VALUES ('spare_list_visible', '1')`,
			}
			for _, stmt := range seeds {
				if err := q.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("apply migration v2 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "index signups by event",
		Up: func(ctx context.Context, q db.Querier) error {
			if err := q.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_signups_event_id ON signups(event_id)`); err != nil {
				return fmt.Errorf("create signup event index: %w", err)
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

func CurrentSchemaVersion() int {
	return maxMigrationVersion(defaultMigrations)
}

func RunMigrations(ctx context.Context, adapter db.Adapter, migrations []Migration) error {
	if adapter == nil {
		return fmt.Errorf("run migrations: adapter is nil")
	}

	if err := ensureMetaTable(ctx, adapter); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := SchemaVersion(ctx, adapter)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: db=%d code=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		err := adapter.Transaction(ctx, func(q db.Querier) error {
			if err := migration.Up(ctx, q); err != nil {
				return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
			}
			return setSchemaVersion(ctx, q, migration.Version)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func ensureMetaTable(ctx context.Context, adapter db.Adapter) error {
	// Every insertable table carries an integer id: the networked adapter
	// reads generated keys back through an injected RETURNING id clause.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO settings (key, value) VALUES ('` + schemaVersionKey + `', '0')`,
	}
	for _, stmt := range statements {
		if err := adapter.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure meta table: %w", err)
		}
	}
	return nil
}

func SchemaVersion(ctx context.Context, q db.Querier) (int, error) {
	stmt, err := q.Prepare(`SELECT value FROM settings WHERE key = ?`)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	row, err := stmt.Get(ctx, schemaVersionKey)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(fieldString(row["value"]))
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", row["value"], err)
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, q db.Querier, version int) error {
	stmt, err := q.Prepare(`UPDATE settings SET value = ? WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("update schema version v%d: %w", version, err)
	}
	res, err := stmt.Run(ctx, strconv.Itoa(version), schemaVersionKey)
	if err != nil {
		return fmt.Errorf("update schema version v%d: %w", version, err)
	}
	if res.Changes == 0 {
		return fmt.Errorf("update schema version v%d: meta row missing", version)
	}
	return nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}
