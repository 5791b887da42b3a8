// Package storage provides the membership and scheduling repositories. Every
// repository talks to the database exclusively through the adapter contract
// in internal/db and never learns which backend is active.
package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrSchemaTooNew = errors.New("storage: schema version newer than code")
	ErrEventFull    = errors.New("storage: event is at capacity")
)

type Member struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

type Event struct {
	ID        int64
	Title     string
	Location  string
	StartsAt  time.Time
	Capacity  int64
	Canceled  bool
	CreatedAt time.Time
}

type Signup struct {
	ID               int64
	MemberID         int64
	EventID          int64
	ConfirmationCode string
	CreatedAt        time.Time
}

// RosterEntry is one row of an event roster: the signup joined with the
// member it belongs to.
type RosterEntry struct {
	SignupID         int64
	MemberID         int64
	MemberName       string
	MemberEmail      string
	ConfirmationCode string
}

// The two backends hand timestamp columns back in different shapes: the
// embedded engine stores DATETIME as text, the networked one returns
// time.Time. Row mapping normalizes both here, at the call site, so the
// adapter itself stays generic over row shape.
func fieldTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q", t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func fieldInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected integer type %T", v)
	}
}

func fieldString(v any) string {
	s, _ := v.(string)
	return s
}

func fieldBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	default:
		n, err := fieldInt64(v)
		if err != nil {
			return false, fmt.Errorf("unexpected boolean type %T", v)
		}
		return n != 0, nil
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
