package storage

import (
	"time"

	"site-decisions/internal/workflow"
)

type approvalRow struct {
	ID            string    `db:"id"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Title         string    `db:"title"`
	RequesterID   string    `db:"requester_id"`
	CurrentStatus string    `db:"current_status"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type stepRow struct {
	ID           string     `db:"id"`
	RequestID    string     `db:"request_id"`
	StepOrder    int        `db:"step_order"`
	ApproverRole string     `db:"approver_role"`
	ApproverID   string     `db:"approver_id"`
	Status       string     `db:"status"`
	Comments     string     `db:"comments"`
	DecidedAt    *time.Time `db:"decided_at"`
}

type meetingRow struct {
	ID                string     `db:"id"`
	Title             string     `db:"title"`
	OwnerID           string     `db:"owner_id"`
	Status            string     `db:"status"`
	HasTimeSlots      bool       `db:"has_time_slots"`
	ScheduledDate     *time.Time `db:"scheduled_date"`
	ConfirmedSlotID   string     `db:"confirmed_slot_id"`
	ConfirmedAt       *time.Time `db:"confirmed_at"`
	InvitationsSentAt *time.Time `db:"invitations_sent_at"`
	CancelledAt       *time.Time `db:"cancelled_at"`
	CancelReason      string     `db:"cancel_reason"`
	CompletedAt       *time.Time `db:"completed_at"`
	Version           int        `db:"version"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

type slotRow struct {
	ID            string     `db:"id"`
	MeetingID     string     `db:"meeting_id"`
	SlotNumber    int        `db:"slot_number"`
	ProposedStart time.Time  `db:"proposed_start"`
	ProposedEnd   *time.Time `db:"proposed_end"`
	VoteCount     int        `db:"vote_count"`
	IsConfirmed   bool       `db:"is_confirmed"`
}

type attendeeRow struct {
	ID               string     `db:"id"`
	MeetingID        string     `db:"meeting_id"`
	UserID           string     `db:"user_id"`
	Email            string     `db:"email"`
	AttendanceStatus string     `db:"attendance_status"`
	RespondedAt      *time.Time `db:"responded_at"`
}

type voteRow struct {
	MeetingID  string    `db:"meeting_id"`
	AttendeeID string    `db:"attendee_id"`
	TimeSlotID string    `db:"time_slot_id"`
	VotedAt    time.Time `db:"voted_at"`
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toApprovalRow(r workflow.ApprovalRequest) approvalRow {
	return approvalRow{
		ID:            r.ID,
		EntityType:    string(r.EntityType),
		EntityID:      r.EntityID,
		Title:         r.Title,
		RequesterID:   r.RequesterID,
		CurrentStatus: string(r.CurrentStatus),
		Version:       r.Version,
		CreatedAt:     utc(r.CreatedAt),
		UpdatedAt:     utc(r.UpdatedAt),
	}
}

func toStepRows(r workflow.ApprovalRequest) []stepRow {
	rows := make([]stepRow, 0, len(r.Steps))
	for _, s := range r.Steps {
		rows = append(rows, stepRow{
			ID:           s.ID,
			RequestID:    r.ID,
			StepOrder:    s.StepOrder,
			ApproverRole: s.ApproverRole,
			ApproverID:   s.ApproverID,
			Status:       string(s.Status),
			Comments:     s.Comments,
			DecidedAt:    utcPtr(s.DecidedAt),
		})
	}
	return rows
}

func (row approvalRow) approval(steps []stepRow) workflow.ApprovalRequest {
	r := workflow.ApprovalRequest{
		ID:            row.ID,
		EntityType:    workflow.EntityType(row.EntityType),
		EntityID:      row.EntityID,
		Title:         row.Title,
		RequesterID:   row.RequesterID,
		CurrentStatus: workflow.ApprovalStatus(row.CurrentStatus),
		Version:       row.Version,
		CreatedAt:     utc(row.CreatedAt),
		UpdatedAt:     utc(row.UpdatedAt),
		Steps:         make([]workflow.ApprovalStep, 0, len(steps)),
	}
	for _, s := range steps {
		r.Steps = append(r.Steps, workflow.ApprovalStep{
			ID:           s.ID,
			StepOrder:    s.StepOrder,
			ApproverRole: s.ApproverRole,
			ApproverID:   s.ApproverID,
			Status:       workflow.ApprovalStatus(s.Status),
			Comments:     s.Comments,
			DecidedAt:    utcPtr(s.DecidedAt),
		})
	}
	return r
}

func toMeetingRow(m workflow.Meeting) meetingRow {
	return meetingRow{
		ID:                m.ID,
		Title:             m.Title,
		OwnerID:           m.OwnerID,
		Status:            string(m.Status),
		HasTimeSlots:      m.HasTimeSlots,
		ScheduledDate:     utcPtr(m.ScheduledDate),
		ConfirmedSlotID:   m.ConfirmedSlotID,
		ConfirmedAt:       utcPtr(m.ConfirmedAt),
		InvitationsSentAt: utcPtr(m.InvitationsSentAt),
		CancelledAt:       utcPtr(m.CancelledAt),
		CancelReason:      m.CancelReason,
		CompletedAt:       utcPtr(m.CompletedAt),
		Version:           m.Version,
		CreatedAt:         utc(m.CreatedAt),
		UpdatedAt:         utc(m.UpdatedAt),
	}
}

type meetingRows struct {
	slots     []slotRow
	attendees []attendeeRow
	votes     []voteRow
}

func toMeetingRows(m workflow.Meeting) meetingRows {
	var rows meetingRows
	for _, s := range m.TimeSlots {
		rows.slots = append(rows.slots, slotRow{
			ID:            s.ID,
			MeetingID:     m.ID,
			SlotNumber:    s.SlotNumber,
			ProposedStart: utc(s.ProposedStart),
			ProposedEnd:   utcPtr(s.ProposedEnd),
			VoteCount:     s.VoteCount,
			IsConfirmed:   s.IsConfirmed,
		})
	}
	for _, a := range m.Attendees {
		rows.attendees = append(rows.attendees, attendeeRow{
			ID:               a.ID,
			MeetingID:        m.ID,
			UserID:           a.UserID,
			Email:            a.Email,
			AttendanceStatus: string(a.AttendanceStatus),
			RespondedAt:      utcPtr(a.RespondedAt),
		})
	}
	for _, v := range m.TimeVotes {
		rows.votes = append(rows.votes, voteRow{
			MeetingID:  m.ID,
			AttendeeID: v.AttendeeID,
			TimeSlotID: v.TimeSlotID,
			VotedAt:    utc(v.VotedAt),
		})
	}
	return rows
}

func (row meetingRow) meeting(rows meetingRows) workflow.Meeting {
	m := workflow.Meeting{
		ID:                row.ID,
		Title:             row.Title,
		OwnerID:           row.OwnerID,
		Status:            workflow.MeetingStatus(row.Status),
		HasTimeSlots:      row.HasTimeSlots,
		ScheduledDate:     utcPtr(row.ScheduledDate),
		ConfirmedSlotID:   row.ConfirmedSlotID,
		ConfirmedAt:       utcPtr(row.ConfirmedAt),
		InvitationsSentAt: utcPtr(row.InvitationsSentAt),
		CancelledAt:       utcPtr(row.CancelledAt),
		CancelReason:      row.CancelReason,
		CompletedAt:       utcPtr(row.CompletedAt),
		Version:           row.Version,
		CreatedAt:         utc(row.CreatedAt),
		UpdatedAt:         utc(row.UpdatedAt),
		TimeSlots:         make([]workflow.MeetingTimeSlot, 0, len(rows.slots)),
		Attendees:         make([]workflow.MeetingAttendee, 0, len(rows.attendees)),
		TimeVotes:         make([]workflow.TimeVote, 0, len(rows.votes)),
	}
	for _, s := range rows.slots {
		m.TimeSlots = append(m.TimeSlots, workflow.MeetingTimeSlot{
			ID:            s.ID,
			SlotNumber:    s.SlotNumber,
			ProposedStart: utc(s.ProposedStart),
			ProposedEnd:   utcPtr(s.ProposedEnd),
			VoteCount:     s.VoteCount,
			IsConfirmed:   s.IsConfirmed,
		})
	}
	for _, a := range rows.attendees {
		m.Attendees = append(m.Attendees, workflow.MeetingAttendee{
			ID:               a.ID,
			UserID:           a.UserID,
			Email:            a.Email,
			AttendanceStatus: workflow.AttendanceStatus(a.AttendanceStatus),
			RespondedAt:      utcPtr(a.RespondedAt),
		})
	}
	for _, v := range rows.votes {
		m.TimeVotes = append(m.TimeVotes, workflow.TimeVote{
			AttendeeID: v.AttendeeID,
			TimeSlotID: v.TimeSlotID,
			VotedAt:    utc(v.VotedAt),
		})
	}
	return m
}
