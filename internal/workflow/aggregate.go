package workflow

import "sort"

// AggregateApproval derives the request status from its ordered steps.
func AggregateApproval(steps []ApprovalStep) ApprovalStatus {
	if len(steps) == 0 {
		return ApprovalDraft
	}
	for _, s := range steps {
		if s.Status == ApprovalRejected {
			return ApprovalRejected
		}
	}
	ordered := sortedSteps(steps)
	if ordered[len(ordered)-1].Status == ApprovalApproved {
		return ApprovalApproved
	}

	allDraft := true
	anyApproved := false
	for _, s := range ordered {
		if s.Status != ApprovalDraft {
			allDraft = false
		}
		if s.Status == ApprovalApproved {
			anyApproved = true
		}
	}
	for _, s := range ordered {
		if s.Status == ApprovalApproved {
			continue
		}
		if s.Status == ApprovalUnderReview {
			return ApprovalUnderReview
		}
		break
	}
	switch {
	case anyApproved:
		return ApprovalUnderReview
	case allDraft:
		return ApprovalDraft
	default:
		return ApprovalSubmitted
	}
}

// sortedSteps returns the steps ordered by StepOrder without touching the
// input.
func sortedSteps(steps []ApprovalStep) []ApprovalStep {
	out := append([]ApprovalStep(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

// Tally recomputes voteCount and isConfirmed on every slot from the raw
// votes. Votes naming an unknown slot are ignored.
func Tally(slots []MeetingTimeSlot, votes []TimeVote, confirmedSlotID string) []MeetingTimeSlot {
	if slots == nil {
		return nil
	}
	counts := make(map[string]int, len(slots))
	for _, v := range dedupeVotes(append([]TimeVote(nil), votes...)) {
		counts[v.TimeSlotID]++
	}
	out := make([]MeetingTimeSlot, len(slots))
	for i, s := range slots {
		s.VoteCount = counts[s.ID]
		s.IsConfirmed = confirmedSlotID != "" && s.ID == confirmedSlotID
		out[i] = s
	}
	return out
}

// Leading returns the slots with the highest vote count, in slot order.
// It is informational; confirmation is always explicit.
func Leading(slots []MeetingTimeSlot) []MeetingTimeSlot {
	best := 0
	for _, s := range slots {
		if s.VoteCount > best {
			best = s.VoteCount
		}
	}
	if best == 0 {
		return nil
	}
	var out []MeetingTimeSlot
	for _, s := range slots {
		if s.VoteCount == best {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out
}

// AggregateMeeting derives the meeting status from its lifecycle markers.
func AggregateMeeting(m Meeting) MeetingStatus {
	switch {
	case m.CancelledAt != nil:
		return MeetingCancelled
	case m.CompletedAt != nil:
		return MeetingCompleted
	case m.HasTimeSlots && m.ConfirmedSlotID == "":
		return MeetingPendingVotes
	case m.InvitationsSentAt != nil && (m.ConfirmedAt == nil || !m.InvitationsSentAt.Before(*m.ConfirmedAt)):
		return MeetingInvitationsSent
	default:
		return MeetingScheduled
	}
}

// Normalize recomputes every derived field. Loaders call it on data read
// from storage or from the wire.
func (r *ApprovalRequest) Normalize() {
	r.Steps = sortedSteps(r.Steps)
	r.CurrentStatus = AggregateApproval(r.Steps)
}

// Normalize recomputes every derived field.
func (m *Meeting) Normalize() {
	m.TimeVotes = dedupeVotes(m.TimeVotes)
	m.TimeSlots = Tally(m.TimeSlots, m.TimeVotes, m.ConfirmedSlotID)
	m.Status = AggregateMeeting(*m)
}
