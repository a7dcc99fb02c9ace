package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-decisions/internal/workflow"
)

var (
	testNow    = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	requester  = workflow.Actor{ID: "site-manager"}
	consultant = workflow.Actor{ID: "consultant-1", Roles: []string{"consultant"}}
	inspector  = workflow.Actor{ID: "inspector-1", Roles: []string{"inspector"}}
)

type dispatchFunc func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error)

type harness struct {
	engine *workflow.Engine
	actor  workflow.Actor
	coord  *Coordinator[workflow.ApprovalRequest, workflow.ApprovalEvent]

	// server holds the authoritative copy used by the default dispatcher.
	mu       sync.Mutex
	server   map[string]workflow.ApprovalRequest
	dispatch dispatchFunc
	calls    atomic.Int32
	rollback atomic.Int32
}

func newHarness(t *testing.T, actor workflow.Actor, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		engine: workflow.NewEngine(workflow.WithClock(func() time.Time { return testNow })),
		actor:  actor,
		server: make(map[string]workflow.ApprovalRequest),
	}
	h.dispatch = h.serverApply
	h.coord = New(Config[workflow.ApprovalRequest, workflow.ApprovalEvent]{
		Transition: func(s workflow.ApprovalRequest, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
			return h.engine.ApplyApproval(s, h.actor, ev)
		},
		Dispatch: func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
			h.calls.Add(1)
			h.mu.Lock()
			fn := h.dispatch
			h.mu.Unlock()
			return fn(ctx, id, ev)
		},
		Fetch: func(ctx context.Context, id string) (workflow.ApprovalRequest, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.server[id].Clone(), nil
		},
		Clone:      workflow.ApprovalRequest.Clone,
		Timeout:    timeout,
		OnRollback: func(string, error) { h.rollback.Add(1) },
	})
	return h
}

func (h *harness) setDispatch(fn dispatchFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatch = fn
}

func (h *harness) serverApply(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := h.engine.ApplyApproval(h.server[id], h.actor, ev)
	if err != nil {
		return workflow.ApprovalRequest{}, err
	}
	next.Version++
	h.server[id] = next
	return next.Clone(), nil
}

// seed stores a submitted request on the fake server and loads it locally.
func (h *harness) seed(t *testing.T, roles ...string) workflow.ApprovalRequest {
	t.Helper()
	req, err := workflow.NewApprovalRequest(workflow.EntityEquipment, "crane-7", "", requester.ID, roles, testNow)
	require.NoError(t, err)
	req, err = h.engine.ApplyApproval(req, requester, workflow.SubmitRequest{})
	require.NoError(t, err)

	h.mu.Lock()
	h.server[req.ID] = req.Clone()
	h.mu.Unlock()
	h.coord.Load(req.ID, req)
	return req
}

func (h *harness) observe(t *testing.T, id string) workflow.ApprovalRequest {
	t.Helper()
	s, ok := h.coord.Observe(id)
	require.True(t, ok)
	return s
}

func wait(t *testing.T, p *Pending[workflow.ApprovalRequest]) (workflow.ApprovalRequest, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := p.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return s, err
}

func TestSubmitAppliesOptimisticallyThenAdoptsServerState(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	req := h.seed(t, "consultant", "inspector")

	release := make(chan struct{})
	h.setDispatch(func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		<-release
		return h.serverApply(ctx, id, ev)
	})

	p, err := h.coord.Submit(context.Background(), req.ID, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status())

	optimistic := h.observe(t, req.ID)
	assert.Equal(t, workflow.ApprovalApproved, optimistic.Steps[0].Status)
	assert.Equal(t, req.Version, optimistic.Version)

	close(release)
	got, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, p.Status())
	assert.Equal(t, req.Version+1, got.Version)
	assert.Equal(t, got, h.observe(t, req.ID))
}

func TestFailedMutationRestoresSnapshot(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	req := h.seed(t, "consultant", "inspector")
	before := h.observe(t, req.ID)

	var mu sync.Mutex
	var seen []workflow.ApprovalRequest
	unsubscribe := h.coord.Subscribe(req.ID, func(s workflow.ApprovalRequest) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	defer unsubscribe()

	h.setDispatch(func(context.Context, string, workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		return workflow.ApprovalRequest{}, workflow.ErrNetworkFailure
	})

	p, err := h.coord.Submit(context.Background(), req.ID, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	_, err = wait(t, p)
	require.ErrorIs(t, err, workflow.ErrNetworkFailure)
	assert.Equal(t, StatusFailed, p.Status())

	assert.Equal(t, before, h.observe(t, req.ID))
	assert.Equal(t, int32(1), h.rollback.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, workflow.ApprovalUnderReview, seen[0].CurrentStatus)
	assert.Equal(t, before, seen[1])
}

func TestTimeoutRollsBackAndRetrySucceeds(t *testing.T) {
	h := newHarness(t, inspector, 20*time.Millisecond)
	req := h.seed(t, "consultant", "inspector")

	// Bring the request to the last step on both sides.
	approved, err := h.engine.ApplyApproval(req, consultant, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	h.mu.Lock()
	h.server[req.ID] = approved.Clone()
	h.mu.Unlock()
	h.coord.Load(req.ID, approved)
	require.Equal(t, workflow.ApprovalUnderReview, h.observe(t, req.ID).CurrentStatus)

	h.setDispatch(func(ctx context.Context, _ string, _ workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		<-ctx.Done()
		return workflow.ApprovalRequest{}, ctx.Err()
	})

	decide := workflow.DecideStep{StepID: req.Steps[1].ID, Decision: workflow.DecisionApprove}
	p, err := h.coord.Submit(context.Background(), req.ID, decide)
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalApproved, h.observe(t, req.ID).CurrentStatus)

	_, err = wait(t, p)
	require.ErrorIs(t, err, workflow.ErrTimeout)
	assert.True(t, workflow.IsTransient(err))
	assert.Equal(t, workflow.ApprovalUnderReview, h.observe(t, req.ID).CurrentStatus)

	h.setDispatch(h.serverApply)
	p, err = h.coord.Submit(context.Background(), req.ID, decide)
	require.NoError(t, err)
	got, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalApproved, got.CurrentStatus)
	assert.Equal(t, workflow.ApprovalApproved, h.observe(t, req.ID).CurrentStatus)
}

func TestIllegalEventFailsFast(t *testing.T) {
	h := newHarness(t, inspector, time.Second)
	req := h.seed(t, "consultant", "inspector")
	before := h.observe(t, req.ID)

	p, err := h.coord.Submit(context.Background(), req.ID, workflow.DecideStep{StepID: req.Steps[1].ID, Decision: workflow.DecisionApprove})
	require.ErrorIs(t, err, workflow.ErrOutOfOrderDecision)
	assert.Nil(t, p)
	assert.Equal(t, int32(0), h.calls.Load())
	assert.Equal(t, before, h.observe(t, req.ID))
}

func TestSubmitUnknownEntity(t *testing.T) {
	h := newHarness(t, inspector, time.Second)
	_, err := h.coord.Submit(context.Background(), "missing", workflow.SubmitRequest{})
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestSameEntityMutationsAreSerialized(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	req := h.seed(t, "consultant")

	release := make(chan struct{})
	h.setDispatch(func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		<-release
		return h.serverApply(ctx, id, ev)
	})

	claim, err := h.coord.Submit(context.Background(), req.ID, workflow.ClaimStep{StepID: req.Steps[0].ID})
	require.NoError(t, err)
	decide, err := h.coord.Submit(context.Background(), req.ID, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	duplicate, err := h.coord.Submit(context.Background(), req.ID, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionApprove})
	require.NoError(t, err)

	// Only the claim is in flight; the decision waits for its outcome.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, workflow.ApprovalUnderReview, h.observe(t, req.ID).CurrentStatus)
	assert.Equal(t, StatusPending, decide.Status())

	close(release)
	_, err = wait(t, claim)
	require.NoError(t, err)
	got, err := wait(t, decide)
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalApproved, got.CurrentStatus)

	_, err = wait(t, duplicate)
	require.ErrorIs(t, err, workflow.ErrAlreadyDecided)
	assert.Equal(t, int32(2), h.calls.Load())
	assert.Equal(t, workflow.ApprovalApproved, h.observe(t, req.ID).CurrentStatus)
}

func TestDifferentEntitiesDoNotBlockEachOther(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	slow := h.seed(t, "consultant")
	fast := h.seed(t, "consultant")

	release := make(chan struct{})
	defer close(release)
	h.setDispatch(func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		if id == slow.ID {
			select {
			case <-release:
			case <-ctx.Done():
				return workflow.ApprovalRequest{}, ctx.Err()
			}
		}
		return h.serverApply(ctx, id, ev)
	})

	_, err := h.coord.Submit(context.Background(), slow.ID, workflow.ClaimStep{StepID: slow.Steps[0].ID})
	require.NoError(t, err)
	p, err := h.coord.Submit(context.Background(), fast.ID, workflow.ClaimStep{StepID: fast.Steps[0].ID})
	require.NoError(t, err)

	got, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, consultant.ID, got.Steps[0].ApproverID)
}

func TestConflictAdoptsServerState(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	req := h.seed(t, "consultant", "inspector")

	// Another consultant decided first on the server.
	other := workflow.Actor{ID: "consultant-2", Roles: []string{"consultant"}}
	server, err := h.engine.ApplyApproval(req, other, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionReject, Comment: "wrong crane"})
	require.NoError(t, err)
	server.Version = req.Version + 1
	h.mu.Lock()
	h.server[req.ID] = server.Clone()
	h.mu.Unlock()

	p, err := h.coord.Submit(context.Background(), req.ID, workflow.DecideStep{StepID: req.Steps[0].ID, Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	_, err = wait(t, p)
	require.ErrorIs(t, err, workflow.ErrAlreadyDecided)

	require.Eventually(t, func() bool {
		return h.observe(t, req.ID).CurrentStatus == workflow.ApprovalRejected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, server, h.observe(t, req.ID))
}

func TestLoadDuringFlightIsDeferred(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	req := h.seed(t, "consultant")

	release := make(chan struct{})
	h.setDispatch(func(context.Context, string, workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		<-release
		return workflow.ApprovalRequest{}, workflow.ErrNetworkFailure
	})

	p, err := h.coord.Submit(context.Background(), req.ID, workflow.ClaimStep{StepID: req.Steps[0].ID})
	require.NoError(t, err)

	refreshed := req.Clone()
	refreshed.Title = "renamed elsewhere"
	h.coord.Load(req.ID, refreshed)
	assert.Equal(t, workflow.ApprovalUnderReview, h.observe(t, req.ID).CurrentStatus)

	close(release)
	_, err = wait(t, p)
	require.True(t, errors.Is(err, workflow.ErrNetworkFailure))
	require.Eventually(t, func() bool {
		return h.observe(t, req.ID).Title == "renamed elsewhere"
	}, time.Second, 5*time.Millisecond)
}

func TestLoadDuringSuccessfulFlightIsSuperseded(t *testing.T) {
	h := newHarness(t, consultant, time.Second)
	req := h.seed(t, "consultant")

	release := make(chan struct{})
	h.setDispatch(func(ctx context.Context, id string, ev workflow.ApprovalEvent) (workflow.ApprovalRequest, error) {
		<-release
		return h.serverApply(ctx, id, ev)
	})

	p, err := h.coord.Submit(context.Background(), req.ID, workflow.ClaimStep{StepID: req.Steps[0].ID})
	require.NoError(t, err)

	stale := req.Clone()
	stale.Title = "renamed elsewhere"
	h.coord.Load(req.ID, stale)

	close(release)
	got, err := wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, got, h.observe(t, req.ID))
	assert.Equal(t, req.Title, h.observe(t, req.ID).Title)
}

func TestRollbackRestoresDecodedMeeting(t *testing.T) {
	engine := workflow.NewEngine(workflow.WithClock(func() time.Time { return testNow }))
	created, err := workflow.NewMeeting(workflow.MeetingInput{
		Title:   "Formwork walkthrough",
		OwnerID: "site-manager",
		Slots: []workflow.SlotInput{
			{Start: testNow.Add(24 * time.Hour)},
			{Start: testNow.Add(48 * time.Hour)},
		},
		Attendees: []workflow.AttendeeInput{{UserID: "a1"}, {UserID: "a2"}},
	}, testNow)
	require.NoError(t, err)

	// State as it arrives from the server: no votes yet, encoded as [].
	raw, err := json.Marshal(created)
	require.NoError(t, err)
	var loaded workflow.Meeting
	require.NoError(t, json.Unmarshal(raw, &loaded))
	require.NotNil(t, loaded.TimeVotes)

	voter := workflow.Actor{ID: "a1"}
	coord := New(Config[workflow.Meeting, workflow.MeetingEvent]{
		Transition: func(m workflow.Meeting, ev workflow.MeetingEvent) (workflow.Meeting, error) {
			return engine.ApplyMeeting(m, voter, ev)
		},
		Dispatch: func(context.Context, string, workflow.MeetingEvent) (workflow.Meeting, error) {
			return workflow.Meeting{}, workflow.ErrNetworkFailure
		},
		Clone:   workflow.Meeting.Clone,
		Timeout: time.Second,
	})
	coord.Load(loaded.ID, loaded)

	p, err := coord.Submit(context.Background(), loaded.ID, workflow.CastVote{
		AttendeeID: loaded.Attendees[0].ID,
		SlotID:     loaded.TimeSlots[1].ID,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, workflow.ErrNetworkFailure)

	observed, ok := coord.Observe(loaded.ID)
	require.True(t, ok)
	assert.Equal(t, loaded, observed)

	out, err := json.Marshal(observed)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"timeVotes":[]`)
}

func TestPendingWaitHonoursContext(t *testing.T) {
	p := newPending[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "pending", p.Status().String())

	p.resolve(7)
	v, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
