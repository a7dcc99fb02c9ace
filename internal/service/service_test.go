package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-decisions/internal/config"
	"site-decisions/internal/notify"
	"site-decisions/internal/storage"
	"site-decisions/internal/workflow"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	provider, err := storage.NewProvider(&config.Storage{SQLite: &config.SQLLiteStorage{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })

	rec := &recorder{}
	clock := func() time.Time { return now }
	return New(Config{
		Storage:  provider,
		Engine:   workflow.NewEngine(workflow.WithClock(clock)),
		Notifier: rec,
		Chains:   map[string][]string{"equipment": {"consultant", "inspector"}},
		Clock:    clock,
	}), rec
}

var (
	requester  = workflow.Actor{ID: "req-1"}
	consultant = workflow.Actor{ID: "con-1", Roles: []string{"consultant"}}
	inspector  = workflow.Actor{ID: "ins-1", Roles: []string{"inspector"}}
	organizer  = workflow.Actor{ID: "owner-1"}
)

func TestApprovalLifecycle(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	r, err := s.CreateApproval(ctx, requester, workflow.ApprovalInput{EntityType: workflow.EntityEquipment, EntityID: "crane-7"})
	require.NoError(t, err)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "req-1", r.RequesterID)
	assert.Equal(t, workflow.ApprovalDraft, r.CurrentStatus)

	r, err = s.ApplyApproval(ctx, requester, r.ID, workflow.SubmitRequest{}, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalSubmitted, r.CurrentStatus)

	// The inspector cannot go first
	_, err = s.ApplyApproval(ctx, inspector, r.ID, workflow.DecideStep{StepID: r.Steps[1].ID, Decision: workflow.DecisionApprove}, "")
	assert.ErrorIs(t, err, workflow.ErrOutOfOrderDecision)

	r, err = s.ApplyApproval(ctx, consultant, r.ID, workflow.DecideStep{StepID: r.Steps[0].ID, Decision: workflow.DecisionApprove}, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalUnderReview, r.CurrentStatus)

	r, err = s.ApplyApproval(ctx, inspector, r.ID, workflow.DecideStep{StepID: r.Steps[1].ID, Decision: workflow.DecisionApprove}, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.ApprovalApproved, r.CurrentStatus)
	assert.Equal(t, 4, r.Version)

	stored, err := s.GetApproval(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, stored)

	assert.Equal(t, []notify.Kind{notify.ApprovalSubmitted, notify.ApprovalDecided, notify.ApprovalDecided}, rec.kinds())
}

func TestCreateApprovalValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	// No chain configured for material and none given
	_, err := s.CreateApproval(ctx, requester, workflow.ApprovalInput{EntityType: workflow.EntityMaterial, EntityID: "rebar"})
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)

	r, err := s.CreateApproval(ctx, requester, workflow.ApprovalInput{
		EntityType: workflow.EntityMaterial, EntityID: "rebar", ApproverRoles: []string{"inspector"},
	})
	require.NoError(t, err)
	assert.Len(t, r.Steps, 1)
}

func TestIdempotentReplay(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	r, err := s.CreateApproval(ctx, requester, workflow.ApprovalInput{EntityType: workflow.EntityEquipment, EntityID: "crane-7"})
	require.NoError(t, err)
	r, err = s.ApplyApproval(ctx, requester, r.ID, workflow.SubmitRequest{}, "")
	require.NoError(t, err)

	decide := workflow.DecideStep{StepID: r.Steps[0].ID, Decision: workflow.DecisionApprove}
	first, err := s.ApplyApproval(ctx, consultant, r.ID, decide, "key-1")
	require.NoError(t, err)

	replayed, err := s.ApplyApproval(ctx, consultant, r.ID, decide, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first, replayed)

	// Without the key the duplicate reaches the engine
	_, err = s.ApplyApproval(ctx, consultant, r.ID, decide, "key-2")
	assert.ErrorIs(t, err, workflow.ErrAlreadyDecided)

	assert.Len(t, rec.kinds(), 2, "replay does not notify again")
}

func TestApplyNotFound(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.ApplyApproval(ctx, requester, "missing", workflow.SubmitRequest{}, "")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	_, err = s.ApplyMeeting(ctx, organizer, "missing", workflow.CompleteMeeting{}, "k")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func newMeeting(t *testing.T, s *Service, attendees int) workflow.Meeting {
	t.Helper()
	in := workflow.MeetingInput{
		Title:   "Slab pour",
		OwnerID: "ignored",
		Slots: []workflow.SlotInput{
			{Start: now.Add(24 * time.Hour)},
			{Start: now.Add(48 * time.Hour)},
		},
	}
	for i := 0; i < attendees; i++ {
		in.Attendees = append(in.Attendees, workflow.AttendeeInput{UserID: fmt.Sprintf("user-%d", i)})
	}
	m, err := s.CreateMeeting(context.Background(), organizer, in)
	require.NoError(t, err)
	return m
}

func TestMeetingLifecycle(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	m := newMeeting(t, s, 2)
	assert.Equal(t, organizer.ID, m.OwnerID)
	assert.Equal(t, workflow.MeetingPendingVotes, m.Status)

	m, err := s.ApplyMeeting(ctx, workflow.Actor{ID: "user-0"}, m.ID,
		workflow.CastVote{AttendeeID: m.Attendees[0].ID, SlotID: m.TimeSlots[1].ID}, "")
	require.NoError(t, err)

	_, err = s.ApplyMeeting(ctx, workflow.Actor{ID: "user-0"}, m.ID, workflow.ConfirmSlot{SlotID: m.TimeSlots[1].ID}, "")
	assert.ErrorIs(t, err, workflow.ErrNotAuthorized)

	m, err = s.ApplyMeeting(ctx, organizer, m.ID, workflow.ConfirmSlot{SlotID: m.TimeSlots[1].ID}, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.MeetingScheduled, m.Status)

	_, err = s.ApplyMeeting(ctx, workflow.Actor{ID: "user-1"}, m.ID,
		workflow.CastVote{AttendeeID: m.Attendees[1].ID, SlotID: m.TimeSlots[0].ID}, "")
	assert.ErrorIs(t, err, workflow.ErrVotingClosed)

	m, err = s.ApplyMeeting(ctx, organizer, m.ID, workflow.SendInvitations{}, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.MeetingInvitationsSent, m.Status)

	m, err = s.ApplyMeeting(ctx, organizer, m.ID, workflow.CancelMeeting{Reason: "Rain"}, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.MeetingCancelled, m.Status)

	assert.Equal(t, []notify.Kind{notify.MeetingConfirmed, notify.InvitationsSent, notify.MeetingCancelled}, rec.kinds())
}

func TestConcurrentVotesAreSerialized(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	const attendees = 12
	m := newMeeting(t, s, attendees)

	var wg sync.WaitGroup
	errs := make(chan error, attendees)
	for i, a := range m.Attendees {
		wg.Add(1)
		go func(i int, a workflow.MeetingAttendee) {
			defer wg.Done()
			_, err := s.ApplyMeeting(ctx, workflow.Actor{ID: a.UserID}, m.ID,
				workflow.CastVote{AttendeeID: a.ID, SlotID: m.TimeSlots[i%2].ID}, "")
			errs <- err
		}(i, a)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, got.TimeVotes, attendees)
	assert.Equal(t, attendees/2, got.TimeSlots[0].VoteCount)
	assert.Equal(t, attendees/2, got.TimeSlots[1].VoteCount)
	assert.Equal(t, 1+attendees, got.Version)
}

func TestListMeetings(t *testing.T) {
	s, _ := newTestService(t)
	newMeeting(t, s, 1)

	mine, err := s.ListMeetings(context.Background(), storage.MeetingFilter{ParticipantID: "user-0"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")
	unlock()
	assert.Empty(t, k.locks)
}
