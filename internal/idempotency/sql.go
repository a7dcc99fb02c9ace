package idempotency

import (
	"context"
	"log/slog"
	"time"

	"site-decisions/internal/storage"
)

type SQLStore struct {
	logger  *slog.Logger
	storage storage.Provider
}

func NewSQLStore(provider storage.Provider) *SQLStore {
	return &SQLStore{
		logger:  slog.With("component", "SQLIdempotencyStore"),
		storage: provider,
	}
}

func (s *SQLStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.storage.CreateIdempotencyKey(ctx, key, time.Now().Add(ttl))
}

func (s *SQLStore) Seen(ctx context.Context, key string) (bool, error) {
	return s.storage.ExistsIdempotencyKey(ctx, key, time.Now())
}

func (s *SQLStore) Expire(ctx context.Context) error {
	n, err := s.storage.ExpireIdempotencyKeys(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("Expired idempotency keys", "count", n)
	}
	return nil
}
