// Package idempotency remembers client supplied idempotency keys so a
// retried mutation is answered with the current state instead of being
// applied twice.
package idempotency

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"site-decisions/internal/config"
	"site-decisions/internal/storage"
)

type StoreType string

// Supported stores.
const (
	Memory StoreType = "memory"
	SQL    StoreType = "sql"
)

type Store interface {
	// Remember records key until ttl passes. It returns false if the key
	// was already known and has not expired.
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Seen(ctx context.Context, key string) (bool, error)
	// Expire drops keys whose ttl has passed.
	Expire(ctx context.Context) error
}

// Key derives a fixed size store key from the caller's identity, the
// target entity and the header value. Equal header values sent by
// different users or for different entities never collide.
func Key(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// NewStore builds the Store implementation selected by cfg.
func NewStore(cfg *config.Config, provider storage.Provider) (Store, error) {
	switch StoreType(cfg.IdempotencyStore) {
	case Memory:
		return NewMemoryStore(), nil
	case SQL:
		if provider == nil {
			return nil, fmt.Errorf("sql idempotency store requires storage")
		}
		return NewSQLStore(provider), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.IdempotencyStore)
	}
}

// Janitor expires keys every interval until ctx is done.
func Janitor(ctx context.Context, store Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := store.Expire(ctx); err != nil {
				slog.Error("Failed to expire idempotency keys", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
