package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func setupCacheDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CacheEntry{}))
	return db
}

func TestTTLCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	c := New[person](store, time.Hour, WithClock[person](clock.now))

	require.NoError(t, c.Set(ctx, "a", person{Name: "Ada"}))

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Name)

	clock.t = clock.t.Add(59 * time.Minute)
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)

	clock.t = clock.t.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len(), "expired entry is evicted")
}

func TestTTLCacheMiss(t *testing.T) {
	c := New[person](NewMemoryStore(), time.Hour)
	_, ok := c.Get(context.Background(), "nobody")
	assert.False(t, ok)
}

func TestGormStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupCacheDB(t)
	store := NewGormStore(db, "employee")
	c := New[person](store, 24*time.Hour)

	require.NoError(t, c.Set(ctx, "42", person{Name: "Grace", Email: "grace@example.com"}))
	require.NoError(t, c.Set(ctx, "42", person{Name: "Grace H", Email: "grace@example.com"}))

	got, ok := c.Get(ctx, "42")
	require.True(t, ok)
	assert.Equal(t, "Grace H", got.Name)

	var count int64
	db.Model(&models.CacheEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)

	other := New[person](NewGormStore(db, "other"), time.Hour)
	_, ok = other.Get(ctx, "42")
	assert.False(t, ok, "namespaces are isolated")

	require.NoError(t, c.Delete(ctx, "42"))
	_, ok = c.Get(ctx, "42")
	assert.False(t, ok)
}

func TestTieredStoreFillsFront(t *testing.T) {
	ctx := context.Background()
	db := setupCacheDB(t)
	back := NewGormStore(db, "employee")
	front := NewMemoryStore()

	require.NoError(t, back.Set(ctx, "7", []byte(`{"name":"Lin"}`), time.Now()))

	c := New[person](&TieredStore{Front: front, Back: back}, time.Hour)
	got, ok := c.Get(ctx, "7")
	require.True(t, ok)
	assert.Equal(t, "Lin", got.Name)
	assert.Equal(t, 1, front.Len())

	require.NoError(t, c.Delete(ctx, "7"))
	assert.Equal(t, 0, front.Len())
	_, _, ok, err := back.Get(ctx, "7")
	require.NoError(t, err)
	assert.False(t, ok)
}
