package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trianglecurling/spares/internal/db"
)

// SettingsCache fronts the settings table with a short freshness window so
// hot paths do not hit the database on every read. The clock is injected and
// invalidation is explicit; there is no ambient module state.
type SettingsCache struct {
	adapter db.Adapter
	ttl     time.Duration
	now     func() time.Time

	selectAll db.Statement

	mu        sync.Mutex
	values    map[string]string
	fetchedAt time.Time
}

func NewSettingsCache(adapter db.Adapter, ttl time.Duration, now func() time.Time) (*SettingsCache, error) {
	if now == nil {
		now = time.Now
	}

	c := &SettingsCache{adapter: adapter, ttl: ttl, now: now}
	var err error

	if c.selectAll, err = adapter.Prepare(`SELECT key, value FROM settings`); err != nil {
		return nil, fmt.Errorf("prepare settings select: %w", err)
	}
	return c, nil
}

func (c *SettingsCache) Get(ctx context.Context, key string) (string, error) {
	values, err := c.snapshot(ctx)
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (c *SettingsCache) All(ctx context.Context) (map[string]string, error) {
	values, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// Set writes through and invalidates the cache. Update-then-insert inside a
// transaction stands in for an upsert so the same statements run on both
// backends.
func (c *SettingsCache) Set(ctx context.Context, key, value string) error {
	err := c.adapter.Transaction(ctx, func(q db.Querier) error {
		update, err := q.Prepare(`UPDATE settings SET value = ? WHERE key = ?`)
		if err != nil {
			return fmt.Errorf("set setting: prepare update: %w", err)
		}
		res, err := update.Run(ctx, value, key)
		if err != nil {
			return fmt.Errorf("set setting: update: %w", err)
		}
		if res.Changes > 0 {
			return nil
		}

		insert, err := q.Prepare(`INSERT INTO settings (key, value) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("set setting: prepare insert: %w", err)
		}
		if _, err := insert.Run(ctx, key, value); err != nil {
			return fmt.Errorf("set setting: insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.Invalidate()
	return nil
}

func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = nil
}

func (c *SettingsCache) snapshot(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.values != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.values, nil
	}

	rows, err := c.selectAll.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[fieldString(row["key"])] = fieldString(row["value"])
	}
	c.values = values
	c.fetchedAt = c.now()
	return values, nil
}
