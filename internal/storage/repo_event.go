package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trianglecurling/spares/internal/db"
)

type EventRepository struct {
	insert   db.Statement
	byID     db.Statement
	upcoming db.Statement
	cancel   db.Statement
}

func NewEventRepository(q db.Querier) (*EventRepository, error) {
	r := &EventRepository{}
	var err error

	if r.insert, err = q.Prepare(`INSERT INTO events (title, location, starts_at, capacity) VALUES (?, ?, ?, ?)`); err != nil {
		return nil, fmt.Errorf("prepare event insert: %w", err)
	}
	if r.byID, err = q.Prepare(`SELECT id, title, location, starts_at, capacity, canceled, created_at FROM events WHERE id = ?`); err != nil {
		return nil, fmt.Errorf("prepare event by id: %w", err)
	}
	if r.upcoming, err = q.Prepare(`
		SELECT id, title, location, starts_at, capacity, canceled, created_at
		FROM events
		WHERE starts_at >= ? AND canceled = 0
		ORDER BY starts_at
	`); err != nil {
		return nil, fmt.Errorf("prepare upcoming events: %w", err)
	}
	if r.cancel, err = q.Prepare(`UPDATE events SET canceled = 1 WHERE id = ? AND canceled = 0`); err != nil {
		return nil, fmt.Errorf("prepare event cancel: %w", err)
	}
	return r, nil
}

func (r *EventRepository) Create(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("create event: event is nil")
	}
	if event.Title == "" || event.StartsAt.IsZero() {
		return fmt.Errorf("create event: title and start time are required")
	}
	if event.Capacity <= 0 {
		event.Capacity = 16
	}

	res, err := r.insert.Run(ctx, event.Title, event.Location, fmtTime(event.StartsAt), event.Capacity)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	event.ID = res.LastInsertID
	return nil
}

func (r *EventRepository) Get(ctx context.Context, id int64) (*Event, error) {
	row, err := r.byID.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return eventFromRow(row)
}

func (r *EventRepository) ListUpcoming(ctx context.Context, from time.Time) ([]Event, error) {
	rows, err := r.upcoming.All(ctx, fmtTime(from))
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event, err := eventFromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

func (r *EventRepository) Cancel(ctx context.Context, id int64) error {
	res, err := r.cancel.Run(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	if res.Changes == 0 {
		return ErrNotFound
	}
	return nil
}

func eventFromRow(row db.Row) (*Event, error) {
	id, err := fieldInt64(row["id"])
	if err != nil {
		return nil, fmt.Errorf("map event row: id: %w", err)
	}
	startsAt, err := fieldTime(row["starts_at"])
	if err != nil {
		return nil, fmt.Errorf("map event row: starts_at: %w", err)
	}
	capacity, err := fieldInt64(row["capacity"])
	if err != nil {
		return nil, fmt.Errorf("map event row: capacity: %w", err)
	}
	canceled, err := fieldBool(row["canceled"])
	if err != nil {
		return nil, fmt.Errorf("map event row: canceled: %w", err)
	}
	createdAt, err := fieldTime(row["created_at"])
	if err != nil {
		return nil, fmt.Errorf("map event row: created_at: %w", err)
	}
	return &Event{
		ID:        id,
		Title:     fieldString(row["title"]),
		Location:  fieldString(row["location"]),
		StartsAt:  startsAt,
		Capacity:  capacity,
		Canceled:  canceled,
		CreatedAt: createdAt,
	}, nil
}
