package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore holds keys in a map protected by a RWMutex.
// Expiration is handled by Janitor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // value = expiry timestamp
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.entries[key]
	return ok && m.now().Before(exp), nil
}

func (m *MemoryStore) Expire(ctx context.Context) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			slog.Debug("Pruning expired idempotency key", "key", k)
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
