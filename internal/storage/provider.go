package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"site-decisions/internal/config"
	"site-decisions/internal/workflow"
)

// ErrVersionConflict is returned by the Save methods when the stored
// version no longer matches the version the caller loaded.
var ErrVersionConflict = fmt.Errorf("%w: stored version changed", workflow.ErrConflictRejected)

var ErrNoStorage = errors.New("no storage backend configured")

type ApprovalFilter struct {
	EntityType workflow.EntityType
	EntityID   string
	Status     workflow.ApprovalStatus
}

type MeetingFilter struct {
	OwnerID string
	// Meetings the user owns or attends
	ParticipantID string
	Status        workflow.MeetingStatus
}

type Provider interface {
	Close() error
	GetSchemaVersion(ctx context.Context) (int, error)
	Migrate(ctx context.Context, target int) error

	// Approval requests. Create stores version 1; Save stores r.Version+1
	// only if the stored version still equals r.Version.
	CreateApprovalRequest(ctx context.Context, r workflow.ApprovalRequest) (workflow.ApprovalRequest, error)
	GetApprovalRequest(ctx context.Context, id string) (workflow.ApprovalRequest, error)
	ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]workflow.ApprovalRequest, error)
	SaveApprovalRequest(ctx context.Context, r workflow.ApprovalRequest) (workflow.ApprovalRequest, error)

	// Meetings, with the same versioning as approval requests.
	CreateMeeting(ctx context.Context, m workflow.Meeting) (workflow.Meeting, error)
	GetMeeting(ctx context.Context, id string) (workflow.Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]workflow.Meeting, error)
	SaveMeeting(ctx context.Context, m workflow.Meeting) (workflow.Meeting, error)

	// Idempotency keys. Create reports false if the key already exists.
	CreateIdempotencyKey(ctx context.Context, key string, expiresAt time.Time) (bool, error)
	ExistsIdempotencyKey(ctx context.Context, key string, now time.Time) (bool, error)
	ExpireIdempotencyKeys(ctx context.Context, now time.Time) (int64, error)
}

func NewProvider(config *config.Storage) (Provider, error) {
	switch {
	case config != nil && config.SQLite != nil:
		provider, err := NewSQLiteProvider(config)
		if err != nil {
			return nil, err
		}
		if err := provider.Migrate(context.Background(), -1); err != nil {
			provider.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return provider, nil

	default:
		slog.Error("Unsupported storage configuration", "config", config)
	}

	return nil, ErrNoStorage
}
