package cache

import (
	"context"
	"time"
)

// TieredStore reads through a fast front store to a durable back store.
// Writes go to both.
type TieredStore struct {
	Front Store
	Back  Store
}

func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	if v, at, ok, err := t.Front.Get(ctx, key); err == nil && ok {
		return v, at, true, nil
	}
	v, at, ok, err := t.Back.Get(ctx, key)
	if err != nil || !ok {
		return nil, time.Time{}, false, err
	}
	_ = t.Front.Set(ctx, key, v, at)
	return v, at, true, nil
}

func (t *TieredStore) Set(ctx context.Context, key string, value []byte, storedAt time.Time) error {
	if err := t.Back.Set(ctx, key, value, storedAt); err != nil {
		return err
	}
	return t.Front.Set(ctx, key, value, storedAt)
}

func (t *TieredStore) Delete(ctx context.Context, key string) error {
	_ = t.Front.Delete(ctx, key)
	return t.Back.Delete(ctx, key)
}
