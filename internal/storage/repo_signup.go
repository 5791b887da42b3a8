package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/trianglecurling/spares/internal/db"
)

type SignupRepository struct {
	adapter db.Adapter

	insert db.Statement
	cancel db.Statement
	roster db.Statement
	count  db.Statement
}

func NewSignupRepository(adapter db.Adapter) (*SignupRepository, error) {
	r := &SignupRepository{adapter: adapter}
	var err error

	if r.insert, err = adapter.Prepare(`INSERT OR IGNORE INTO signups (member_id, event_id, confirmation_code) VALUES (?, ?, ?)`); err != nil {
		return nil, fmt.Errorf("prepare signup insert: %w", err)
	}
	if r.cancel, err = adapter.Prepare(`DELETE FROM signups WHERE member_id = ? AND event_id = ?`); err != nil {
		return nil, fmt.Errorf("prepare signup cancel: %w", err)
	}
	if r.roster, err = adapter.Prepare(`
		SELECT s.id AS signup_id, m.id AS member_id, m.name, m.email, s.confirmation_code
		FROM signups s
		JOIN members m ON m.id = s.member_id
		WHERE s.event_id = ?
		ORDER BY s.id
	`); err != nil {
		return nil, fmt.Errorf("prepare roster: %w", err)
	}
	if r.count, err = adapter.Prepare(`SELECT COUNT(*) AS n FROM signups WHERE event_id = ?`); err != nil {
		return nil, fmt.Errorf("prepare signup count: %w", err)
	}
	return r, nil
}

// Signup adds a member to an event roster. It is idempotent: signing up
// twice returns the existing state with created=false. The capacity check
// and the insert share one transaction so two concurrent signups cannot
// oversubscribe an event.
func (r *SignupRepository) Signup(ctx context.Context, memberID, eventID int64) (created bool, err error) {
	err = r.adapter.Transaction(ctx, func(q db.Querier) error {
		existsStmt, err := q.Prepare(`SELECT id FROM signups WHERE member_id = ? AND event_id = ?`)
		if err != nil {
			return fmt.Errorf("signup: prepare existence check: %w", err)
		}
		if _, err := existsStmt.Get(ctx, memberID, eventID); err == nil {
			created = false
			return nil
		} else if !errors.Is(err, db.ErrNoRows) {
			return fmt.Errorf("signup: existence check: %w", err)
		}

		capStmt, err := q.Prepare(`SELECT capacity, canceled FROM events WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("signup: prepare capacity check: %w", err)
		}
		row, err := capStmt.Get(ctx, eventID)
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("signup: capacity check: %w", err)
		}
		canceled, err := fieldBool(row["canceled"])
		if err != nil {
			return fmt.Errorf("signup: capacity check: %w", err)
		}
		if canceled {
			return ErrNotFound
		}
		capacity, err := fieldInt64(row["capacity"])
		if err != nil {
			return fmt.Errorf("signup: capacity check: %w", err)
		}

		countStmt, err := q.Prepare(`SELECT COUNT(*) AS n FROM signups WHERE event_id = ?`)
		if err != nil {
			return fmt.Errorf("signup: prepare count: %w", err)
		}
		countRow, err := countStmt.Get(ctx, eventID)
		if err != nil {
			return fmt.Errorf("signup: count: %w", err)
		}
		current, err := fieldInt64(countRow["n"])
		if err != nil {
			return fmt.Errorf("signup: count: %w", err)
		}
		if current >= capacity {
			return ErrEventFull
		}

		insertStmt, err := q.Prepare(`INSERT OR IGNORE INTO signups (member_id, event_id, confirmation_code) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("signup: prepare insert: %w", err)
		}
		res, err := insertStmt.Run(ctx, memberID, eventID, uuid.NewString())
		if err != nil {
			return fmt.Errorf("signup: insert: %w", err)
		}
		created = res.Changes > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *SignupRepository) Cancel(ctx context.Context, memberID, eventID int64) error {
	res, err := r.cancel.Run(ctx, memberID, eventID)
	if err != nil {
		return fmt.Errorf("cancel signup: %w", err)
	}
	if res.Changes == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SignupRepository) Roster(ctx context.Context, eventID int64) ([]RosterEntry, error) {
	rows, err := r.roster.All(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event roster: %w", err)
	}

	entries := make([]RosterEntry, 0, len(rows))
	for _, row := range rows {
		signupID, err := fieldInt64(row["signup_id"])
		if err != nil {
			return nil, fmt.Errorf("map roster row: signup_id: %w", err)
		}
		memberID, err := fieldInt64(row["member_id"])
		if err != nil {
			return nil, fmt.Errorf("map roster row: member_id: %w", err)
		}
		entries = append(entries, RosterEntry{
			SignupID:         signupID,
			MemberID:         memberID,
			MemberName:       fieldString(row["name"]),
			MemberEmail:      fieldString(row["email"]),
			ConfirmationCode: fieldString(row["confirmation_code"]),
		})
	}
	return entries, nil
}

func (r *SignupRepository) CountForEvent(ctx context.Context, eventID int64) (int64, error) {
	row, err := r.count.Get(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("count signups: %w", err)
	}
	n, err := fieldInt64(row["n"])
	if err != nil {
		return 0, fmt.Errorf("count signups: %w", err)
	}
	return n, nil
}

// MoveRoster transfers every signup from one event to another, e.g. when a
// draw is rescheduled. Members already on the target roster keep their
// existing signup. The capacity check and both writes are one transaction;
// any failure leaves both rosters untouched.
func (r *SignupRepository) MoveRoster(ctx context.Context, fromEventID, toEventID int64) (moved int64, err error) {
	err = r.adapter.Transaction(ctx, func(q db.Querier) error {
		capStmt, err := q.Prepare(`SELECT capacity FROM events WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("move roster: prepare capacity check: %w", err)
		}
		capRow, err := capStmt.Get(ctx, toEventID)
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("move roster: capacity check: %w", err)
		}
		capacity, err := fieldInt64(capRow["capacity"])
		if err != nil {
			return fmt.Errorf("move roster: capacity check: %w", err)
		}

		countStmt, err := q.Prepare(`
			SELECT COUNT(*) AS n FROM signups
			WHERE event_id = ? OR (event_id = ? AND member_id NOT IN (
				SELECT member_id FROM signups WHERE event_id = ?
			))
		`)
		if err != nil {
			return fmt.Errorf("move roster: prepare count: %w", err)
		}
		countRow, err := countStmt.Get(ctx, toEventID, fromEventID, toEventID)
		if err != nil {
			return fmt.Errorf("move roster: count: %w", err)
		}
		total, err := fieldInt64(countRow["n"])
		if err != nil {
			return fmt.Errorf("move roster: count: %w", err)
		}
		if total > capacity {
			return ErrEventFull
		}

		moveStmt, err := q.Prepare(`
			UPDATE signups SET event_id = ?
			WHERE event_id = ? AND member_id NOT IN (
				SELECT member_id FROM signups WHERE event_id = ?
			)
		`)
		if err != nil {
			return fmt.Errorf("move roster: prepare move: %w", err)
		}
		res, err := moveStmt.Run(ctx, toEventID, fromEventID, toEventID)
		if err != nil {
			return fmt.Errorf("move roster: move: %w", err)
		}
		moved = res.Changes

		cleanupStmt, err := q.Prepare(`DELETE FROM signups WHERE event_id = ?`)
		if err != nil {
			return fmt.Errorf("move roster: prepare cleanup: %w", err)
		}
		if _, err := cleanupStmt.Run(ctx, fromEventID); err != nil {
			return fmt.Errorf("move roster: cleanup: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}
