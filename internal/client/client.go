// Package client is the caller-facing side of the decision workflow. It
// keeps a local copy of every opened approval request and meeting, applies
// the caller's events to it at once, and lets the remote API settle them.
package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"site-decisions/internal/coordinator"
	"site-decisions/internal/metrics"
	"site-decisions/internal/remote"
	"site-decisions/internal/workflow"
)

type (
	ApprovalPending = coordinator.Pending[workflow.ApprovalRequest]
	MeetingPending  = coordinator.Pending[workflow.Meeting]
)

type Config struct {
	API   remote.API
	Actor workflow.Actor
	// Local legality checks. Defaults to workflow.IdentityAuthorizer.
	Authorizer workflow.Authorizer
	// Bounds each remote call. Zero means no limit.
	Timeout time.Duration
	Clock   func() time.Time
	// Called after a mutation was rolled back, on top of the metrics.
	OnRollback func(entity, id string, err error)
}

type Client struct {
	api        remote.API
	actor      workflow.Actor
	approvals  *coordinator.Coordinator[workflow.ApprovalRequest, workflow.ApprovalEvent]
	meetings   *coordinator.Coordinator[workflow.Meeting, workflow.MeetingEvent]
	onRollback func(entity, id string, err error)
	logger     *slog.Logger
}

func New(cfg Config) *Client {
	engine := workflow.NewEngine(workflow.WithAuthorizer(cfg.Authorizer), workflow.WithClock(cfg.Clock))
	c := &Client{
		api:        cfg.API,
		actor:      cfg.Actor,
		onRollback: cfg.OnRollback,
		logger:     slog.With("component", "client", "actor", cfg.Actor.ID),
	}

	c.approvals = coordinator.New(coordinator.Config[workflow.ApprovalRequest, workflow.ApprovalEvent]{
		Transition: func(r workflow.ApprovalRequest, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
			return engine.ApplyApproval(r, c.actor, ev)
		},
		Dispatch: func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
			return c.api.ApplyApproval(ctx, id, ev, uuid.NewString())
		},
		Fetch:      c.api.GetApproval,
		Clone:      workflow.ApprovalRequest.Clone,
		Timeout:    cfg.Timeout,
		OnRollback: c.rolledBack("approval"),
		Logger:     c.logger.With("entity", "approval"),
	})
	c.meetings = coordinator.New(coordinator.Config[workflow.Meeting, workflow.MeetingEvent]{
		Transition: func(m workflow.Meeting, ev workflow.MeetingEvent) (workflow.Meeting, error) {
			return engine.ApplyMeeting(m, c.actor, ev)
		},
		Dispatch: func(ctx context.Context, id string, ev workflow.MeetingEvent) (workflow.Meeting, error) {
			return c.api.ApplyMeeting(ctx, id, ev, uuid.NewString())
		},
		Fetch:      c.api.GetMeeting,
		Clone:      workflow.Meeting.Clone,
		Timeout:    cfg.Timeout,
		OnRollback: c.rolledBack("meeting"),
		Logger:     c.logger.With("entity", "meeting"),
	})
	return c
}

func (c *Client) rolledBack(entity string) func(id string, err error) {
	return func(id string, err error) {
		code := workflow.Code(err)
		if code == "" {
			code = "UNKNOWN"
		}
		metrics.Rollback(entity, code)
		if workflow.IsSilent(err) {
			c.logger.Debug("Duplicate decision dropped", "entity", entity, "id", id)
		}
		if c.onRollback != nil {
			c.onRollback(entity, id, err)
		}
	}
}

func (c *Client) Actor() workflow.Actor {
	return c.actor
}

// ---------------------------------------------------------------------------
// Approval requests
// ---------------------------------------------------------------------------

// OpenApproval fetches a request and starts tracking it locally.
func (c *Client) OpenApproval(ctx context.Context, id string) (workflow.ApprovalRequest, error) {
	r, err := c.api.GetApproval(ctx, id)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	c.approvals.Load(id, r)
	return r, nil
}

func (c *Client) CreateApproval(ctx context.Context, in workflow.ApprovalInput) (workflow.ApprovalRequest, error) {
	r, err := c.api.CreateApproval(ctx, in)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	c.approvals.Load(r.ID, r)
	return r, nil
}

func (c *Client) ListApprovals(ctx context.Context, q remote.ApprovalQuery) ([]workflow.ApprovalRequest, error) {
	return c.api.ListApprovals(ctx, q)
}

// Approval returns the locally observed state of an opened request.
func (c *Client) Approval(id string) (workflow.ApprovalRequest, bool) {
	return c.approvals.Observe(id)
}

// WatchApproval calls fn with every change of the observed request.
func (c *Client) WatchApproval(id string, fn func(workflow.ApprovalRequest)) (unsubscribe func()) {
	return c.approvals.Subscribe(id, fn)
}

func (c *Client) SubmitApproval(ctx context.Context, id string) (*ApprovalPending, error) {
	return c.approvals.Submit(ctx, id, workflow.SubmitRequest{})
}

func (c *Client) ClaimStep(ctx context.Context, id, stepID string) (*ApprovalPending, error) {
	return c.approvals.Submit(ctx, id, workflow.ClaimStep{StepID: stepID})
}

// SubmitApprovalDecision approves or rejects one step of a request.
func (c *Client) SubmitApprovalDecision(ctx context.Context, id, stepID string, decision workflow.Decision, comment string) (*ApprovalPending, error) {
	return c.approvals.Submit(ctx, id, workflow.DecideStep{StepID: stepID, Decision: decision, Comment: comment})
}

// ---------------------------------------------------------------------------
// Meetings
// ---------------------------------------------------------------------------

// OpenMeeting fetches a meeting and starts tracking it locally.
func (c *Client) OpenMeeting(ctx context.Context, id string) (workflow.Meeting, error) {
	m, err := c.api.GetMeeting(ctx, id)
	if err != nil {
		return workflow.Meeting{}, err
	}
	c.meetings.Load(id, m)
	return m, nil
}

func (c *Client) CreateMeeting(ctx context.Context, in workflow.MeetingInput) (workflow.Meeting, error) {
	m, err := c.api.CreateMeeting(ctx, in)
	if err != nil {
		return workflow.Meeting{}, err
	}
	c.meetings.Load(m.ID, m)
	return m, nil
}

func (c *Client) ListMeetings(ctx context.Context, q remote.MeetingQuery) ([]workflow.Meeting, error) {
	return c.api.ListMeetings(ctx, q)
}

func (c *Client) Meeting(id string) (workflow.Meeting, bool) {
	return c.meetings.Observe(id)
}

func (c *Client) WatchMeeting(id string, fn func(workflow.Meeting)) (unsubscribe func()) {
	return c.meetings.Subscribe(id, fn)
}

// CastTimeSlotVote records attendeeID's vote for slotID, replacing any
// earlier vote of that attendee.
func (c *Client) CastTimeSlotVote(ctx context.Context, meetingID, attendeeID, slotID string) (*MeetingPending, error) {
	return c.meetings.Submit(ctx, meetingID, workflow.CastVote{AttendeeID: attendeeID, SlotID: slotID})
}

func (c *Client) ConfirmTimeSlot(ctx context.Context, meetingID, slotID string) (*MeetingPending, error) {
	return c.meetings.Submit(ctx, meetingID, workflow.ConfirmSlot{SlotID: slotID})
}

func (c *Client) SetRsvp(ctx context.Context, meetingID, attendeeID string, status workflow.AttendanceStatus) (*MeetingPending, error) {
	return c.meetings.Submit(ctx, meetingID, workflow.SetRSVP{AttendeeID: attendeeID, Status: status})
}

func (c *Client) SendInvitations(ctx context.Context, meetingID string) (*MeetingPending, error) {
	return c.meetings.Submit(ctx, meetingID, workflow.SendInvitations{})
}

func (c *Client) CancelMeeting(ctx context.Context, meetingID, reason string) (*MeetingPending, error) {
	return c.meetings.Submit(ctx, meetingID, workflow.CancelMeeting{Reason: reason})
}

func (c *Client) CompleteMeeting(ctx context.Context, meetingID string) (*MeetingPending, error) {
	return c.meetings.Submit(ctx, meetingID, workflow.CompleteMeeting{})
}
