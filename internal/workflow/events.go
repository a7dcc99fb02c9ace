package workflow

// ApprovalEvent is the closed set of events accepted by an approval
// request. Only types in this package can implement it.
type ApprovalEvent interface {
	approvalEvent()
	Kind() string
}

// SubmitRequest exposes a draft request to its approvers.
type SubmitRequest struct{}

// ClaimStep assigns the acting approver to a step and starts its review.
type ClaimStep struct {
	StepID string `json:"stepId"`
}

// DecideStep approves or rejects one step. A rejection needs a comment.
type DecideStep struct {
	StepID   string   `json:"stepId"`
	Decision Decision `json:"decision"`
	Comment  string   `json:"comment,omitempty"`
}

func (SubmitRequest) approvalEvent() {}
func (ClaimStep) approvalEvent()     {}
func (DecideStep) approvalEvent()    {}

func (SubmitRequest) Kind() string { return "submit_request" }
func (ClaimStep) Kind() string     { return "claim_step" }
func (DecideStep) Kind() string    { return "decide_step" }

// MeetingEvent is the closed set of events accepted by a meeting.
type MeetingEvent interface {
	meetingEvent()
	Kind() string
}

// CastVote records the attendee's vote for one slot, replacing any
// earlier vote.
type CastVote struct {
	AttendeeID string `json:"attendeeId"`
	SlotID     string `json:"slotId"`
}

// ConfirmSlot freezes the decision on one slot. Owner only.
type ConfirmSlot struct {
	SlotID string `json:"slotId"`
}

// SetRSVP records an attendee's attendance answer.
type SetRSVP struct {
	AttendeeID string           `json:"attendeeId"`
	Status     AttendanceStatus `json:"status"`
}

// SendInvitations marks invitations for a scheduled meeting as sent.
type SendInvitations struct{}

type CancelMeeting struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteMeeting struct{}

func (CastVote) meetingEvent()        {}
func (ConfirmSlot) meetingEvent()     {}
func (SetRSVP) meetingEvent()         {}
func (SendInvitations) meetingEvent() {}
func (CancelMeeting) meetingEvent()   {}
func (CompleteMeeting) meetingEvent() {}

func (CastVote) Kind() string        { return "cast_vote" }
func (ConfirmSlot) Kind() string     { return "confirm_slot" }
func (SetRSVP) Kind() string         { return "set_rsvp" }
func (SendInvitations) Kind() string { return "send_invitations" }
func (CancelMeeting) Kind() string   { return "cancel_meeting" }
func (CompleteMeeting) Kind() string { return "complete_meeting" }
