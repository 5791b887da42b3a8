package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/trianglecurling/spares/internal/db"
)

const defaultSettingsTTL = 5 * time.Second

// Store runs migrations and wires the repositories. Statements are prepared
// once per repository and reused across calls.
type Store struct {
	adapter db.Adapter

	Members  *MemberRepository
	Events   *EventRepository
	Signups  *SignupRepository
	Settings *SettingsCache
}

func Open(ctx context.Context, adapter db.Adapter) (*Store, error) {
	if adapter == nil {
		return nil, fmt.Errorf("open store: adapter is nil")
	}

	if err := RunMigrations(ctx, adapter, DefaultMigrations()); err != nil {
		return nil, err
	}

	members, err := NewMemberRepository(adapter)
	if err != nil {
		return nil, err
	}
	events, err := NewEventRepository(adapter)
	if err != nil {
		return nil, err
	}
	signups, err := NewSignupRepository(adapter)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsCache(adapter, defaultSettingsTTL, time.Now)
	if err != nil {
		return nil, err
	}

	return &Store{
		adapter:  adapter,
		Members:  members,
		Events:   events,
		Signups:  signups,
		Settings: settings,
	}, nil
}

func (s *Store) Adapter() db.Adapter {
	return s.adapter
}

func (s *Store) Close() error {
	return s.adapter.Close()
}
