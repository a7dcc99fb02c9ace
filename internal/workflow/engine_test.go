package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

var (
	requester  = Actor{ID: "site-manager", Roles: []string{"site_manager"}}
	consultant = Actor{ID: "consultant-1", Roles: []string{"consultant"}}
	inspector  = Actor{ID: "inspector-1", Roles: []string{"Inspector"}}
)

func submittedRequest(t *testing.T, e *Engine, roles ...string) ApprovalRequest {
	t.Helper()
	req, err := NewApprovalRequest(EntityEquipment, "crane-7", "Tower crane", requester.ID, roles, fixedNow)
	require.NoError(t, err)
	require.Equal(t, ApprovalDraft, req.CurrentStatus)

	req, err = e.ApplyApproval(req, requester, SubmitRequest{})
	require.NoError(t, err)
	require.Equal(t, ApprovalSubmitted, req.CurrentStatus)
	return req
}

func TestApprovalScenario(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	req := submittedRequest(t, e, "consultant", "inspector")
	step1, step2 := req.Steps[0], req.Steps[1]

	_, err := e.ApplyApproval(req, inspector, DecideStep{StepID: step2.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, ErrOutOfOrderDecision)

	req, err = e.ApplyApproval(req, consultant, DecideStep{StepID: step1.ID, Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, ApprovalUnderReview, req.CurrentStatus)
	assert.Equal(t, ApprovalUnderReview, req.Steps[1].Status)

	req, err = e.ApplyApproval(req, inspector, DecideStep{StepID: step2.ID, Decision: DecisionReject, Comment: "missing certification"})
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, req.CurrentStatus)
	assert.Equal(t, "missing certification", req.Steps[1].Comments)
	require.NotNil(t, req.Steps[1].DecidedAt)

	after, err := e.ApplyApproval(req, consultant, DecideStep{StepID: step1.ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, ErrAlreadyDecided)
	assert.True(t, IsSilent(err))
	assert.Equal(t, req, after)
}

func TestApprovalRejectionIsAbsorbing(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	req := submittedRequest(t, e, "consultant", "inspector", "consultant")

	req, err := e.ApplyApproval(req, consultant, DecideStep{StepID: req.Steps[0].ID, Decision: DecisionReject, Comment: "wrong model"})
	require.NoError(t, err)
	require.Equal(t, ApprovalRejected, req.CurrentStatus)

	for _, step := range req.Steps[1:] {
		for _, d := range []Decision{DecisionApprove, DecisionReject} {
			next, err := e.ApplyApproval(req, inspector, DecideStep{StepID: step.ID, Decision: d, Comment: "late"})
			require.ErrorIs(t, err, ErrWorkflowClosed)
			assert.Equal(t, ApprovalRejected, next.CurrentStatus)
		}
	}
}

func TestApprovalLaterRejectionDominates(t *testing.T) {
	steps := []ApprovalStep{
		{ID: "a", StepOrder: 1, Status: ApprovalApproved},
		{ID: "b", StepOrder: 2, Status: ApprovalApproved},
		{ID: "c", StepOrder: 3, Status: ApprovalRejected},
	}
	assert.Equal(t, ApprovalRejected, AggregateApproval(steps))
}

func TestApprovalSequentialGatingLeavesStateUntouched(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	req := submittedRequest(t, e, "consultant", "inspector", "inspector")
	before := req.Clone()

	for _, step := range req.Steps[1:] {
		next, err := e.ApplyApproval(req, inspector, DecideStep{StepID: step.ID, Decision: DecisionApprove})
		require.ErrorIs(t, err, ErrOutOfOrderDecision)
		assert.Equal(t, before, next)
		_, err = e.ApplyApproval(req, inspector, ClaimStep{StepID: step.ID})
		require.ErrorIs(t, err, ErrOutOfOrderDecision)
	}
	assert.Equal(t, before, req)
}

func TestApprovalIdempotentDecision(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	req := submittedRequest(t, e, "consultant")

	decision := DecideStep{StepID: req.Steps[0].ID, Decision: DecisionApprove}
	req, err := e.ApplyApproval(req, consultant, decision)
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, req.CurrentStatus)

	again, err := e.ApplyApproval(req, consultant, decision)
	require.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, ApprovalApproved, again.CurrentStatus)
	assert.Equal(t, req.Steps, again.Steps)
}

func TestApprovalAuthorization(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	req := submittedRequest(t, e, "consultant", "inspector")

	_, err := e.ApplyApproval(req, inspector, DecideStep{StepID: req.Steps[0].ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, ErrNotAuthorized)

	req, err = e.ApplyApproval(req, consultant, ClaimStep{StepID: req.Steps[0].ID})
	require.NoError(t, err)
	assert.Equal(t, ApprovalUnderReview, req.CurrentStatus)
	assert.Equal(t, consultant.ID, req.Steps[0].ApproverID)

	other := Actor{ID: "consultant-2", Roles: []string{"consultant"}}
	_, err = e.ApplyApproval(req, other, DecideStep{StepID: req.Steps[0].ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, ErrNotAuthorized)

	// Role names compare case-insensitively.
	req, err = e.ApplyApproval(req, consultant, DecideStep{StepID: req.Steps[0].ID, Decision: DecisionApprove})
	require.NoError(t, err)
	req, err = e.ApplyApproval(req, inspector, DecideStep{StepID: req.Steps[1].ID, Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, req.CurrentStatus)
}

func TestApprovalValidation(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))

	draft, err := NewApprovalRequest(EntityMaterial, "rebar-12", "", requester.ID, []string{"consultant"}, fixedNow)
	require.NoError(t, err)
	_, err = e.ApplyApproval(draft, consultant, DecideStep{StepID: draft.Steps[0].ID, Decision: DecisionApprove})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.ApplyApproval(draft, consultant, SubmitRequest{})
	require.ErrorIs(t, err, ErrNotAuthorized)

	req := submittedRequest(t, e, "consultant")
	_, err = e.ApplyApproval(req, consultant, DecideStep{StepID: req.Steps[0].ID, Decision: DecisionReject, Comment: "  "})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.ApplyApproval(req, consultant, DecideStep{StepID: "nope", Decision: DecisionApprove})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.ApplyApproval(req, consultant, DecideStep{StepID: req.Steps[0].ID, Decision: "maybe"})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = e.ApplyApproval(req, requester, SubmitRequest{})
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewApprovalRequest("scaffold", "x", "", requester.ID, []string{"consultant"}, fixedNow)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewApprovalRequest(EntityEquipment, "x", "", requester.ID, nil, fixedNow)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	req := submittedRequest(t, e, "consultant", "inspector")
	before := req.Clone()

	_, err := e.ApplyApproval(req, consultant, DecideStep{StepID: req.Steps[0].ID, Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, before, req)
}

func TestAggregateApproval(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ApprovalStatus
		want     ApprovalStatus
	}{
		{"no steps", nil, ApprovalDraft},
		{"all draft", []ApprovalStatus{ApprovalDraft, ApprovalDraft}, ApprovalDraft},
		{"submitted", []ApprovalStatus{ApprovalSubmitted, ApprovalSubmitted}, ApprovalSubmitted},
		{"first in review", []ApprovalStatus{ApprovalUnderReview, ApprovalSubmitted}, ApprovalUnderReview},
		{"second in review", []ApprovalStatus{ApprovalApproved, ApprovalUnderReview}, ApprovalUnderReview},
		{"all approved", []ApprovalStatus{ApprovalApproved, ApprovalApproved}, ApprovalApproved},
		{"rejected first", []ApprovalStatus{ApprovalRejected, ApprovalSubmitted}, ApprovalRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var steps []ApprovalStep
			for i, s := range tt.statuses {
				steps = append(steps, ApprovalStep{StepOrder: i + 1, Status: s})
			}
			// Steps are given out of order on purpose; aggregation sorts them.
			for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
				steps[i], steps[j] = steps[j], steps[i]
			}
			assert.Equal(t, tt.want, AggregateApproval(steps))
		})
	}
}

func TestStopCodes(t *testing.T) {
	err := reject(ErrVotingClosed, "meeting", "m1", "meeting is scheduled")
	assert.Equal(t, "VOTING_CLOSED", Code(err))
	assert.Equal(t, "", Code(errors.New("boom")))

	assert.Equal(t, ErrOutOfOrderDecision, FromCode("OUT_OF_ORDER_DECISION"))
	assert.Nil(t, FromCode("SOMETHING_ELSE"))

	assert.True(t, IsTransient(ErrTimeout))
	assert.False(t, IsTransient(ErrConflictRejected))
}
