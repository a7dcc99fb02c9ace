package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ApplyMeeting validates ev against m and returns the next state.
func (e *Engine) ApplyMeeting(m Meeting, actor Actor, ev MeetingEvent) (Meeting, error) {
	next := m.Clone()
	next.Normalize()

	var err error
	switch ev := ev.(type) {
	case CastVote:
		err = e.castVote(&next, actor, ev)
	case ConfirmSlot:
		err = e.confirmSlot(&next, actor, ev)
	case SetRSVP:
		err = e.setRSVP(&next, actor, ev)
	case SendInvitations:
		err = e.sendInvitations(&next, actor)
	case CancelMeeting:
		err = e.cancelMeeting(&next, actor, ev)
	case CompleteMeeting:
		err = e.completeMeeting(&next, actor)
	default:
		err = reject(ErrInvalidEvent, "meeting", m.ID, "unsupported event %T", ev)
	}
	if err != nil {
		return m, err
	}

	next.Normalize()
	next.UpdatedAt = e.timestamp()
	return next, nil
}

func (e *Engine) castVote(m *Meeting, actor Actor, ev CastVote) error {
	if m.Status != MeetingPendingVotes {
		return reject(ErrVotingClosed, "meeting", m.ID, "meeting is %s", m.Status)
	}
	i, ok := findAttendee(m.Attendees, ev.AttendeeID)
	if !ok {
		return reject(ErrInvalidEvent, "meeting", m.ID, "unknown attendee %s", ev.AttendeeID)
	}
	if _, ok := findSlot(m.TimeSlots, ev.SlotID); !ok {
		return reject(ErrInvalidEvent, "meeting", m.ID, "unknown slot %s", ev.SlotID)
	}
	if !e.canRespond(actor, *m, m.Attendees[i]) {
		return reject(ErrNotAuthorized, "meeting", m.ID, "cannot vote for attendee %s", ev.AttendeeID)
	}
	if prev, ok := m.VoteOf(ev.AttendeeID); ok && prev.TimeSlotID == ev.SlotID {
		return nil
	}
	m.TimeVotes = putVote(m.TimeVotes, TimeVote{
		AttendeeID: ev.AttendeeID,
		TimeSlotID: ev.SlotID,
		VotedAt:    e.timestamp(),
	})
	return nil
}

func (e *Engine) confirmSlot(m *Meeting, actor Actor, ev ConfirmSlot) error {
	if m.Status.Terminal() {
		return reject(ErrWorkflowClosed, "meeting", m.ID, "meeting is %s", m.Status)
	}
	if !e.authz.CanManage(actor, *m, ActionConfirm) {
		return reject(ErrNotAuthorized, "meeting", m.ID, "only the owner can confirm a slot")
	}
	if !m.HasTimeSlots {
		return reject(ErrInvalidEvent, "meeting", m.ID, "meeting has no time slots")
	}
	if m.Status != MeetingPendingVotes {
		return reject(ErrVotingClosed, "meeting", m.ID, "slot %s is already confirmed", m.ConfirmedSlotID)
	}
	i, ok := findSlot(m.TimeSlots, ev.SlotID)
	if !ok {
		return reject(ErrInvalidEvent, "meeting", m.ID, "unknown slot %s", ev.SlotID)
	}

	now := e.timestamp()
	start := m.TimeSlots[i].ProposedStart
	m.ConfirmedSlotID = ev.SlotID
	m.ScheduledDate = &start
	m.ConfirmedAt = &now
	return nil
}

func (e *Engine) setRSVP(m *Meeting, actor Actor, ev SetRSVP) error {
	if m.Status.Terminal() {
		return reject(ErrWorkflowClosed, "meeting", m.ID, "meeting is %s", m.Status)
	}
	i, ok := findAttendee(m.Attendees, ev.AttendeeID)
	if !ok {
		return reject(ErrInvalidEvent, "meeting", m.ID, "unknown attendee %s", ev.AttendeeID)
	}
	if !e.canRespond(actor, *m, m.Attendees[i]) {
		return reject(ErrNotAuthorized, "meeting", m.ID, "cannot answer for attendee %s", ev.AttendeeID)
	}
	if !ev.Status.ValidResponse() {
		return reject(ErrInvalidEvent, "meeting", m.ID, "invalid attendance status %q", ev.Status)
	}
	now := e.timestamp()
	m.Attendees[i].AttendanceStatus = ev.Status
	m.Attendees[i].RespondedAt = &now
	return nil
}

// canRespond reports whether actor may vote or RSVP for attendee: the
// attendee themself, or whoever may respond on the meeting's behalf.
func (e *Engine) canRespond(actor Actor, m Meeting, attendee MeetingAttendee) bool {
	if actor.ID != "" && actor.ID == attendee.UserID {
		return true
	}
	return e.authz.CanManage(actor, m, ActionRespond)
}

func (e *Engine) sendInvitations(m *Meeting, actor Actor) error {
	if m.Status.Terminal() {
		return reject(ErrWorkflowClosed, "meeting", m.ID, "meeting is %s", m.Status)
	}
	if !e.authz.CanManage(actor, *m, ActionInvite) {
		return reject(ErrNotAuthorized, "meeting", m.ID, "only the owner can send invitations")
	}
	if m.Status == MeetingPendingVotes {
		return reject(ErrInvalidEvent, "meeting", m.ID, "meeting time is not confirmed yet")
	}
	now := e.timestamp()
	m.InvitationsSentAt = &now
	return nil
}

func (e *Engine) cancelMeeting(m *Meeting, actor Actor, ev CancelMeeting) error {
	if m.Status.Terminal() {
		return reject(ErrWorkflowClosed, "meeting", m.ID, "meeting is %s", m.Status)
	}
	if !e.authz.CanManage(actor, *m, ActionCancel) {
		return reject(ErrNotAuthorized, "meeting", m.ID, "only the owner can cancel")
	}
	now := e.timestamp()
	m.CancelledAt = &now
	m.CancelReason = strings.TrimSpace(ev.Reason)
	return nil
}

func (e *Engine) completeMeeting(m *Meeting, actor Actor) error {
	if m.Status.Terminal() {
		return reject(ErrWorkflowClosed, "meeting", m.ID, "meeting is %s", m.Status)
	}
	if !e.authz.CanManage(actor, *m, ActionComplete) {
		return reject(ErrNotAuthorized, "meeting", m.ID, "only the owner can complete")
	}
	if m.Status == MeetingPendingVotes {
		return reject(ErrInvalidEvent, "meeting", m.ID, "meeting time is not confirmed yet")
	}
	now := e.timestamp()
	m.CompletedAt = &now
	return nil
}

type SlotInput struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

type AttendeeInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

type MeetingInput struct {
	Title         string          `json:"title"`
	OwnerID       string          `json:"ownerId"`
	ScheduledDate *time.Time      `json:"scheduledDate,omitempty"`
	Slots         []SlotInput     `json:"slots,omitempty"`
	Attendees     []AttendeeInput `json:"attendees"`
}

// MinTimeSlots is the smallest number of proposals a time-slot meeting
// can be created with.
const MinTimeSlots = 2

// NewMeeting builds a meeting. With proposed slots it starts collecting
// votes; without them it is scheduled at ScheduledDate.
func NewMeeting(in MeetingInput, now time.Time) (Meeting, error) {
	if strings.TrimSpace(in.Title) == "" || in.OwnerID == "" {
		return Meeting{}, fmt.Errorf("%w: title and owner are required", ErrInvalidInput)
	}
	hasSlots := len(in.Slots) > 0
	if hasSlots && len(in.Slots) < MinTimeSlots {
		return Meeting{}, fmt.Errorf("%w: at least %d time slots are required", ErrInvalidInput, MinTimeSlots)
	}
	if !hasSlots && in.ScheduledDate == nil {
		return Meeting{}, fmt.Errorf("%w: a scheduled date or time slots are required", ErrInvalidInput)
	}

	now = now.UTC()
	m := Meeting{
		ID:           newID(),
		Title:        strings.TrimSpace(in.Title),
		OwnerID:      in.OwnerID,
		HasTimeSlots: hasSlots,
		CreatedAt:    now,
		UpdatedAt:    now,
		TimeSlots:    []MeetingTimeSlot{},
		Attendees:    []MeetingAttendee{},
		TimeVotes:    []TimeVote{},
	}
	if hasSlots {
		for i, s := range in.Slots {
			if s.End != nil && !s.End.After(s.Start) {
				return Meeting{}, fmt.Errorf("%w: slot %d ends before it starts", ErrInvalidInput, i+1)
			}
			m.TimeSlots = append(m.TimeSlots, MeetingTimeSlot{
				ID:            newID(),
				SlotNumber:    i + 1,
				ProposedStart: s.Start.UTC(),
				ProposedEnd:   utcPtr(s.End),
			})
		}
		// Provisional until a slot is confirmed.
		m.ScheduledDate = utcPtr(&m.TimeSlots[0].ProposedStart)
	} else {
		m.ScheduledDate = utcPtr(in.ScheduledDate)
	}

	seen := make(map[string]bool, len(in.Attendees))
	for _, a := range in.Attendees {
		key := a.UserID
		if key == "" {
			key = strings.ToLower(a.Email)
		}
		if key == "" {
			return Meeting{}, fmt.Errorf("%w: attendee needs a user id or e-mail", ErrInvalidInput)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		userID := a.UserID
		if userID == "" {
			userID = a.Email
		}
		m.Attendees = append(m.Attendees, MeetingAttendee{
			ID:               newID(),
			UserID:           userID,
			Email:            a.Email,
			AttendanceStatus: AttendancePending,
		})
	}

	m.Normalize()
	return m, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func newID() string {
	return uuid.NewString()
}
