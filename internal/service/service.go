// Package service is the authoritative side of the decision workflow. It
// loads an entity, applies one event through the workflow engine and
// stores the result with a version check, one event per entity at a time.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"site-decisions/internal/idempotency"
	"site-decisions/internal/metrics"
	"site-decisions/internal/notify"
	"site-decisions/internal/storage"
	"site-decisions/internal/workflow"
)

type Config struct {
	Storage     storage.Provider
	Engine      *workflow.Engine
	Idempotency idempotency.Store
	// How long an idempotency key is remembered. Defaults to 24h.
	IdempotencyTTL time.Duration
	Notifier       notify.Notifier
	// Ordered approver roles per entity type
	Chains map[string][]string
	Clock  func() time.Time
}

type Service struct {
	store    storage.Provider
	engine   *workflow.Engine
	idem     idempotency.Store
	idemTTL  time.Duration
	notifier notify.Notifier
	chains   map[string][]string
	now      func() time.Time

	locks  keyedMutex
	logger *slog.Logger
}

func New(cfg Config) *Service {
	s := &Service{
		store:    cfg.Storage,
		engine:   cfg.Engine,
		idem:     cfg.Idempotency,
		idemTTL:  cfg.IdempotencyTTL,
		notifier: cfg.Notifier,
		chains:   cfg.Chains,
		now:      cfg.Clock,
		logger:   slog.With("component", "service"),
	}
	if s.engine == nil {
		s.engine = workflow.NewEngine()
	}
	if s.idem == nil {
		s.idem = idempotency.NewMemoryStore()
	}
	if s.idemTTL <= 0 {
		s.idemTTL = 24 * time.Hour
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ---------------------------------------------------------------------------
// Approval requests
// ---------------------------------------------------------------------------

// CreateApproval creates a draft request by actor. Without explicit
// approver roles the configured chain of the entity type is used.
func (s *Service) CreateApproval(ctx context.Context, actor workflow.Actor, in workflow.ApprovalInput) (workflow.ApprovalRequest, error) {
	roles := in.ApproverRoles
	if len(roles) == 0 {
		roles = s.chains[string(in.EntityType)]
	}
	r, err := workflow.NewApprovalRequest(in.EntityType, in.EntityID, in.Title, actor.ID, roles, s.now())
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	created, err := s.store.CreateApprovalRequest(ctx, r)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	s.logger.Info("Approval request created", "id", created.ID, "entity_type", created.EntityType,
		"entity_id", created.EntityID, "steps", len(created.Steps), "requester", actor.ID)
	return created, nil
}

func (s *Service) GetApproval(ctx context.Context, id string) (workflow.ApprovalRequest, error) {
	return s.store.GetApprovalRequest(ctx, id)
}

func (s *Service) ListApprovals(ctx context.Context, filter storage.ApprovalFilter) ([]workflow.ApprovalRequest, error) {
	return s.store.ListApprovalRequests(ctx, filter)
}

// ApplyApproval applies ev to the request and returns the stored result.
// A non-empty idempotencyKey already seen for this actor and request
// returns the current request without applying ev again.
func (s *Service) ApplyApproval(ctx context.Context, actor workflow.Actor, id string, ev workflow.ApprovalEvent, idempotencyKey string) (workflow.ApprovalRequest, error) {
	unlock := s.locks.Lock("approval/" + id)
	defer unlock()

	start := time.Now()
	saved, replay, err := s.applyApproval(ctx, actor, id, ev, idempotencyKey)
	s.record("approval", ev.Kind(), start, err)
	if err != nil || replay {
		return saved, err
	}

	switch ev.(type) {
	case workflow.SubmitRequest:
		s.notify(ctx, notify.ApprovalSubmitted, actor, &saved, nil)
	case workflow.DecideStep:
		s.notify(ctx, notify.ApprovalDecided, actor, &saved, nil)
	}
	return saved, nil
}

func (s *Service) applyApproval(ctx context.Context, actor workflow.Actor, id string, ev workflow.ApprovalEvent, idempotencyKey string) (workflow.ApprovalRequest, bool, error) {
	key, replay, err := s.checkKey(ctx, actor, "approval", id, idempotencyKey)
	if err != nil {
		return workflow.ApprovalRequest{}, false, err
	}

	current, err := s.store.GetApprovalRequest(ctx, id)
	if err != nil || replay {
		return current, replay, err
	}

	next, err := s.engine.ApplyApproval(current, actor, ev)
	if err != nil {
		return current, false, err
	}
	saved, err := s.store.SaveApprovalRequest(ctx, next)
	if err != nil {
		return current, false, err
	}
	s.rememberKey(ctx, key)
	s.logger.Info("Approval event applied", "id", id, "event", ev.Kind(), "actor", actor.ID,
		"status", saved.CurrentStatus, "version", saved.Version)
	return saved, false, nil
}

// ---------------------------------------------------------------------------
// Meetings
// ---------------------------------------------------------------------------

// CreateMeeting creates a meeting owned by actor.
func (s *Service) CreateMeeting(ctx context.Context, actor workflow.Actor, in workflow.MeetingInput) (workflow.Meeting, error) {
	in.OwnerID = actor.ID
	m, err := workflow.NewMeeting(in, s.now())
	if err != nil {
		return workflow.Meeting{}, err
	}
	created, err := s.store.CreateMeeting(ctx, m)
	if err != nil {
		return workflow.Meeting{}, err
	}
	s.logger.Info("Meeting created", "id", created.ID, "owner", actor.ID, "slots", len(created.TimeSlots),
		"attendees", len(created.Attendees), "status", created.Status)
	return created, nil
}

func (s *Service) GetMeeting(ctx context.Context, id string) (workflow.Meeting, error) {
	return s.store.GetMeeting(ctx, id)
}

func (s *Service) ListMeetings(ctx context.Context, filter storage.MeetingFilter) ([]workflow.Meeting, error) {
	return s.store.ListMeetings(ctx, filter)
}

// ApplyMeeting applies ev to the meeting, with the same idempotency rules
// as ApplyApproval.
func (s *Service) ApplyMeeting(ctx context.Context, actor workflow.Actor, id string, ev workflow.MeetingEvent, idempotencyKey string) (workflow.Meeting, error) {
	unlock := s.locks.Lock("meeting/" + id)
	defer unlock()

	start := time.Now()
	saved, replay, err := s.applyMeeting(ctx, actor, id, ev, idempotencyKey)
	s.record("meeting", ev.Kind(), start, err)
	if err != nil || replay {
		return saved, err
	}

	switch ev.(type) {
	case workflow.ConfirmSlot:
		s.notify(ctx, notify.MeetingConfirmed, actor, nil, &saved)
	case workflow.SendInvitations:
		s.notify(ctx, notify.InvitationsSent, actor, nil, &saved)
	case workflow.CancelMeeting:
		s.notify(ctx, notify.MeetingCancelled, actor, nil, &saved)
	}
	return saved, nil
}

func (s *Service) applyMeeting(ctx context.Context, actor workflow.Actor, id string, ev workflow.MeetingEvent, idempotencyKey string) (workflow.Meeting, bool, error) {
	key, replay, err := s.checkKey(ctx, actor, "meeting", id, idempotencyKey)
	if err != nil {
		return workflow.Meeting{}, false, err
	}

	current, err := s.store.GetMeeting(ctx, id)
	if err != nil || replay {
		return current, replay, err
	}

	next, err := s.engine.ApplyMeeting(current, actor, ev)
	if err != nil {
		return current, false, err
	}
	saved, err := s.store.SaveMeeting(ctx, next)
	if err != nil {
		return current, false, err
	}
	s.rememberKey(ctx, key)
	s.logger.Info("Meeting event applied", "id", id, "event", ev.Kind(), "actor", actor.ID,
		"status", saved.Status, "version", saved.Version)
	return saved, false, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Service) checkKey(ctx context.Context, actor workflow.Actor, entity, id, header string) (string, bool, error) {
	if header == "" {
		return "", false, nil
	}
	key := idempotency.Key(actor.ID, entity, id, header)
	seen, err := s.idem.Seen(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if seen {
		s.logger.Debug("Idempotent replay", "entity", entity, "id", id, "actor", actor.ID)
	}
	return key, seen, nil
}

func (s *Service) rememberKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	// The transition is already committed; a lost key is only logged.
	if _, err := s.idem.Remember(ctx, key, s.idemTTL); err != nil {
		s.logger.Error("Failed to remember idempotency key", "error", err)
	}
}

func (s *Service) record(entity, event string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		if result = workflow.Code(err); result == "" {
			result = "error"
		}
		if !errors.Is(err, workflow.ErrNotFound) {
			s.logger.Debug("Event rejected", "entity", entity, "event", event, "error", err)
		}
	}
	metrics.Transition(entity, event, result, time.Since(start))
}

func (s *Service) notify(ctx context.Context, kind notify.Kind, actor workflow.Actor, r *workflow.ApprovalRequest, m *workflow.Meeting) {
	ev := notify.Event{Kind: kind, Actor: actor, Approval: r, Meeting: m, At: s.now().UTC()}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Error("Notification failed", "kind", kind, "error", err)
	}
}
