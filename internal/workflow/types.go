// Package workflow implements the decision workflow engine: approval
// requests decided by ordered approver roles, and meetings whose time is
// chosen by attendee votes.
//
// Every status field is a projection recomputed from the party responses
// (steps, votes, RSVPs) after each event. Callers never assign it.
package workflow

import (
	"slices"
	"time"
)

type EntityType string

const (
	EntityEquipment EntityType = "equipment"
	EntityMaterial  EntityType = "material"
)

func (t EntityType) Valid() bool {
	return t == EntityEquipment || t == EntityMaterial
}

type ApprovalStatus string

const (
	ApprovalDraft       ApprovalStatus = "draft"
	ApprovalSubmitted   ApprovalStatus = "submitted"
	ApprovalUnderReview ApprovalStatus = "under_review"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// Terminal reports whether no further decision can change the status.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

type MeetingStatus string

const (
	MeetingScheduled       MeetingStatus = "scheduled"
	MeetingInvitationsSent MeetingStatus = "invitations_sent"
	MeetingPendingVotes    MeetingStatus = "pending_votes"
	MeetingCancelled       MeetingStatus = "cancelled"
	MeetingCompleted       MeetingStatus = "completed"
)

func (s MeetingStatus) Terminal() bool {
	return s == MeetingCancelled || s == MeetingCompleted
}

type AttendanceStatus string

const (
	AttendancePending   AttendanceStatus = "pending"
	AttendanceAccepted  AttendanceStatus = "accepted"
	AttendanceTentative AttendanceStatus = "tentative"
	AttendanceDeclined  AttendanceStatus = "declined"
)

// ValidResponse reports whether s is an answer an attendee can give.
func (s AttendanceStatus) ValidResponse() bool {
	return s == AttendanceAccepted || s == AttendanceTentative || s == AttendanceDeclined
}

// Actor is the identity on whose behalf an event is applied.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

type ApprovalStep struct {
	ID           string         `json:"id"`
	StepOrder    int            `json:"stepOrder"`
	ApproverRole string         `json:"approverRole"`
	ApproverID   string         `json:"approverId,omitempty"`
	Status       ApprovalStatus `json:"status"`
	Comments     string         `json:"comments,omitempty"`
	DecidedAt    *time.Time     `json:"decidedAt,omitempty"`
}

// Decided reports whether the step reached approved or rejected.
func (s ApprovalStep) Decided() bool {
	return s.Status.Terminal()
}

type ApprovalRequest struct {
	ID            string         `json:"id"`
	EntityType    EntityType     `json:"entityType"`
	EntityID      string         `json:"entityId"`
	Title         string         `json:"title,omitempty"`
	RequesterID   string         `json:"requesterId"`
	CurrentStatus ApprovalStatus `json:"currentStatus"`
	Steps         []ApprovalStep `json:"steps"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy sharing no memory with r.
func (r ApprovalRequest) Clone() ApprovalRequest {
	out := r
	if r.Steps != nil {
		out.Steps = make([]ApprovalStep, len(r.Steps))
		for i, s := range r.Steps {
			s.DecidedAt = cloneTime(s.DecidedAt)
			out.Steps[i] = s
		}
	}
	return out
}

type MeetingTimeSlot struct {
	ID            string     `json:"id"`
	SlotNumber    int        `json:"slotNumber"`
	ProposedStart time.Time  `json:"proposedStart"`
	ProposedEnd   *time.Time `json:"proposedEnd,omitempty"`
	VoteCount     int        `json:"voteCount"`
	IsConfirmed   bool       `json:"isConfirmed"`
}

type MeetingAttendee struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	Email            string           `json:"email,omitempty"`
	AttendanceStatus AttendanceStatus `json:"attendanceStatus"`
	RespondedAt      *time.Time       `json:"respondedAt,omitempty"`
}

type TimeVote struct {
	AttendeeID string    `json:"attendeeId"`
	TimeSlotID string    `json:"timeSlotId"`
	VotedAt    time.Time `json:"votedAt"`
}

type Meeting struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	OwnerID           string            `json:"ownerId"`
	Status            MeetingStatus     `json:"status"`
	HasTimeSlots      bool              `json:"hasTimeSlots"`
	ScheduledDate     *time.Time        `json:"scheduledDate,omitempty"`
	ConfirmedSlotID   string            `json:"confirmedSlotId,omitempty"`
	ConfirmedAt       *time.Time        `json:"confirmedAt,omitempty"`
	InvitationsSentAt *time.Time        `json:"invitationsSentAt,omitempty"`
	CancelledAt       *time.Time        `json:"cancelledAt,omitempty"`
	CancelReason      string            `json:"cancelReason,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	TimeSlots         []MeetingTimeSlot `json:"timeSlots"`
	Attendees         []MeetingAttendee `json:"attendees"`
	TimeVotes         []TimeVote        `json:"timeVotes"`
	Version           int               `json:"version"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy sharing no memory with m.
func (m Meeting) Clone() Meeting {
	out := m
	out.ScheduledDate = cloneTime(m.ScheduledDate)
	out.ConfirmedAt = cloneTime(m.ConfirmedAt)
	out.InvitationsSentAt = cloneTime(m.InvitationsSentAt)
	out.CancelledAt = cloneTime(m.CancelledAt)
	out.CompletedAt = cloneTime(m.CompletedAt)
	if m.TimeSlots != nil {
		out.TimeSlots = make([]MeetingTimeSlot, len(m.TimeSlots))
		for i, s := range m.TimeSlots {
			s.ProposedEnd = cloneTime(s.ProposedEnd)
			out.TimeSlots[i] = s
		}
	}
	if m.Attendees != nil {
		out.Attendees = make([]MeetingAttendee, len(m.Attendees))
		for i, a := range m.Attendees {
			a.RespondedAt = cloneTime(a.RespondedAt)
			out.Attendees[i] = a
		}
	}
	out.TimeVotes = slices.Clone(m.TimeVotes)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
