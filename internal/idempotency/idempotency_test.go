package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-decisions/internal/config"
	"site-decisions/internal/storage"
)

func TestKey(t *testing.T) {
	k := Key("anna", "req-1", "abc")
	assert.Len(t, k, 64)
	assert.Equal(t, k, Key("anna", "req-1", "abc"))
	assert.NotEqual(t, k, Key("ville", "req-1", "abc"))
	assert.NotEqual(t, Key("a", "bc"), Key("ab", "c"))
}

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	seen, err := store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)

	fresh, err := store.Remember(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.Remember(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh)

	seen, err = store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, store.Expire(ctx))
	seen, err = store.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen, "unexpired key survives Expire")
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	_, err := store.Remember(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = store.Remember(ctx, "k", 0)
	assert.Error(t, err)

	current = current.Add(2 * time.Minute)
	seen, _ := store.Seen(ctx, "k")
	assert.False(t, seen)

	fresh, err := store.Remember(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh, "expired key can be reused")

	current = current.Add(2 * time.Minute)
	require.NoError(t, store.Expire(ctx))
	assert.Equal(t, 0, store.Len())
}

func TestSQLStore(t *testing.T) {
	provider, err := storage.NewProvider(&config.Storage{SQLite: &config.SQLLiteStorage{Path: ":memory:"}})
	require.NoError(t, err)
	defer provider.Close()

	testStore(t, NewSQLStore(provider))
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(&config.Config{IdempotencyStore: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = NewStore(&config.Config{IdempotencyStore: "sql"}, nil)
	assert.Error(t, err)

	_, err = NewStore(&config.Config{IdempotencyStore: "redis"}, nil)
	assert.Error(t, err)
}

func TestJanitorStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Janitor(ctx, NewMemoryStore(), time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
