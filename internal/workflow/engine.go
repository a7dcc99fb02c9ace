package workflow

import (
	"fmt"
	"strings"
	"time"
)

// Meeting actions that only the owner, or a delegate holding the matching
// capability, may perform.
const (
	ActionConfirm  = "confirm"
	ActionInvite   = "invite"
	ActionCancel   = "cancel"
	ActionComplete = "complete"
	// Voting or answering an RSVP for another attendee
	ActionRespond = "respond"
)

// Authorizer answers the identity questions the engine asks while checking
// legality.
type Authorizer interface {
	CanDecide(actor Actor, step ApprovalStep) bool
	CanManage(actor Actor, m Meeting, action string) bool
}

// IdentityAuthorizer gates steps by role membership and meeting actions by
// owner identity. It knows nothing about delegation.
type IdentityAuthorizer struct{}

func (IdentityAuthorizer) CanDecide(actor Actor, step ApprovalStep) bool {
	for _, role := range actor.Roles {
		if strings.EqualFold(role, step.ApproverRole) {
			return true
		}
	}
	return false
}

func (IdentityAuthorizer) CanManage(actor Actor, m Meeting, action string) bool {
	return actor.ID != "" && actor.ID == m.OwnerID
}

// Engine applies events to entities. It holds no entity state: every call
// takes the current state and returns the next one without mutating its
// input.
type Engine struct {
	authz Authorizer
	now   func() time.Time
}

type Option func(*Engine)

// WithClock overrides the clock used for decision and vote timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) {
		if a != nil {
			e.authz = a
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		authz: IdentityAuthorizer{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) timestamp() time.Time {
	return e.now().UTC()
}

// ApplyApproval validates ev against req and returns the next state.
func (e *Engine) ApplyApproval(req ApprovalRequest, actor Actor, ev ApprovalEvent) (ApprovalRequest, error) {
	next := req.Clone()
	next.Normalize()

	var err error
	switch ev := ev.(type) {
	case SubmitRequest:
		err = e.submitRequest(&next, actor)
	case ClaimStep:
		err = e.claimStep(&next, actor, ev)
	case DecideStep:
		err = e.decideStep(&next, actor, ev)
	default:
		err = reject(ErrInvalidEvent, "approval", req.ID, "unsupported event %T", ev)
	}
	if err != nil {
		return req, err
	}

	next.CurrentStatus = AggregateApproval(next.Steps)
	next.UpdatedAt = e.timestamp()
	return next, nil
}

func (e *Engine) submitRequest(r *ApprovalRequest, actor Actor) error {
	if r.CurrentStatus.Terminal() {
		return reject(ErrWorkflowClosed, "approval", r.ID, "request is %s", r.CurrentStatus)
	}
	if actor.ID != r.RequesterID {
		return reject(ErrNotAuthorized, "approval", r.ID, "only the requester can submit")
	}
	if r.CurrentStatus != ApprovalDraft {
		return reject(ErrInvalidEvent, "approval", r.ID, "request is already %s", r.CurrentStatus)
	}
	for i := range r.Steps {
		r.Steps[i].Status = ApprovalSubmitted
	}
	return nil
}

// checkStep runs the legality checks shared by claims and decisions, in
// the order that keeps the reported error stable: a decided step is
// reported as such even after the whole request closed.
func (e *Engine) checkStep(r *ApprovalRequest, actor Actor, i int) error {
	step := r.Steps[i]
	if step.Decided() {
		return reject(ErrAlreadyDecided, "approval", r.ID, "step %d is %s", step.StepOrder, step.Status)
	}
	if r.CurrentStatus.Terminal() {
		return reject(ErrWorkflowClosed, "approval", r.ID, "request is %s", r.CurrentStatus)
	}
	if r.CurrentStatus == ApprovalDraft {
		return reject(ErrInvalidEvent, "approval", r.ID, "request has not been submitted")
	}
	for _, prev := range r.Steps[:i] {
		if prev.Status != ApprovalApproved {
			return reject(ErrOutOfOrderDecision, "approval", r.ID,
				"step %d is %s, step %d must wait", prev.StepOrder, prev.Status, step.StepOrder)
		}
	}
	if step.ApproverID != "" && step.ApproverID != actor.ID {
		return reject(ErrNotAuthorized, "approval", r.ID, "step %d is claimed by %s", step.StepOrder, step.ApproverID)
	}
	if !e.authz.CanDecide(actor, step) {
		return reject(ErrNotAuthorized, "approval", r.ID, "step %d requires role %s", step.StepOrder, step.ApproverRole)
	}
	return nil
}

func (e *Engine) claimStep(r *ApprovalRequest, actor Actor, ev ClaimStep) error {
	i, ok := findStep(r.Steps, ev.StepID)
	if !ok {
		return reject(ErrInvalidEvent, "approval", r.ID, "unknown step %s", ev.StepID)
	}
	if err := e.checkStep(r, actor, i); err != nil {
		return err
	}
	r.Steps[i].ApproverID = actor.ID
	r.Steps[i].Status = ApprovalUnderReview
	return nil
}

func (e *Engine) decideStep(r *ApprovalRequest, actor Actor, ev DecideStep) error {
	i, ok := findStep(r.Steps, ev.StepID)
	if !ok {
		return reject(ErrInvalidEvent, "approval", r.ID, "unknown step %s", ev.StepID)
	}
	if !ev.Decision.Valid() {
		return reject(ErrInvalidEvent, "approval", r.ID, "unknown decision %q", ev.Decision)
	}
	comment := strings.TrimSpace(ev.Comment)
	if ev.Decision == DecisionReject && comment == "" {
		return reject(ErrInvalidEvent, "approval", r.ID, "a comment is required when rejecting")
	}
	if err := e.checkStep(r, actor, i); err != nil {
		return err
	}

	now := e.timestamp()
	step := &r.Steps[i]
	step.ApproverID = actor.ID
	step.Comments = comment
	step.DecidedAt = &now
	if ev.Decision == DecisionReject {
		step.Status = ApprovalRejected
		return nil
	}
	step.Status = ApprovalApproved

	// Expose the next step to its approver.
	if i+1 < len(r.Steps) && !r.Steps[i+1].Decided() {
		r.Steps[i+1].Status = ApprovalUnderReview
	}
	return nil
}

type ApprovalInput struct {
	EntityType EntityType `json:"entityType" binding:"required"`
	EntityID   string     `json:"entityId" binding:"required"`
	Title      string     `json:"title,omitempty"`
	// Overrides the configured chain for the entity type
	ApproverRoles []string `json:"approverRoles,omitempty"`
}

// NewApprovalRequest builds a draft request with one step per role, in
// the given order.
func NewApprovalRequest(entityType EntityType, entityID, title, requesterID string, roles []string, now time.Time) (ApprovalRequest, error) {
	if !entityType.Valid() {
		return ApprovalRequest{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, entityType)
	}
	if entityID == "" || requesterID == "" {
		return ApprovalRequest{}, fmt.Errorf("%w: entity id and requester are required", ErrInvalidInput)
	}
	if len(roles) == 0 {
		return ApprovalRequest{}, fmt.Errorf("%w: at least one approver role is required", ErrInvalidInput)
	}

	now = now.UTC()
	req := ApprovalRequest{
		ID:          newID(),
		EntityType:  entityType,
		EntityID:    entityID,
		Title:       title,
		RequesterID: requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return ApprovalRequest{}, fmt.Errorf("%w: empty approver role at position %d", ErrInvalidInput, i+1)
		}
		req.Steps = append(req.Steps, ApprovalStep{
			ID:           newID(),
			StepOrder:    i + 1,
			ApproverRole: role,
			Status:       ApprovalDraft,
		})
	}
	req.Normalize()
	return req, nil
}
