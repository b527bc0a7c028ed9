package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yeremiapane/roster-sync/utils"
)

// Store is the backing storage of a TTL cache. Entries carry the time they
// were written; expiry is decided by the cache, not the store.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, storedAt time.Time, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, storedAt time.Time) error
	Delete(ctx context.Context, key string) error
}

// TTLCache stores JSON-encoded values of type V.
type TTLCache[V any] struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

type Option[V any] func(*TTLCache[V])

// WithClock overrides the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTLCache[V]) { c.now = now }
}

func New[V any](store Store, ttl time.Duration, opts ...Option[V]) *TTLCache[V] {
	c := &TTLCache[V]{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value. Store failures and undecodable entries are
// treated as misses.
func (c *TTLCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, storedAt, ok, err := c.store.Get(ctx, key)
	if err != nil {
		utils.ErrorLogger.WithError(err).WithField("key", key).Error("cache read failed")
		return zero, false
	}
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(storedAt) > c.ttl {
		if err := c.store.Delete(ctx, key); err != nil {
			utils.ErrorLogger.WithError(err).WithField("key", key).Error("cache evict failed")
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		utils.ErrorLogger.WithError(err).WithField("key", key).Error("cache entry undecodable")
		return zero, false
	}
	return v, true
}

func (c *TTLCache[V]) Set(ctx context.Context, key string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, raw, c.now())
}

func (c *TTLCache[V]) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
