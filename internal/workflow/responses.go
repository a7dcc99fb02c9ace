package workflow

// Keyed access to the party responses held by an entity. These helpers
// carry no business rules; legality lives in the engine.

func findStep(steps []ApprovalStep, stepID string) (int, bool) {
	for i := range steps {
		if steps[i].ID == stepID {
			return i, true
		}
	}
	return -1, false
}

func findSlot(slots []MeetingTimeSlot, slotID string) (int, bool) {
	for i := range slots {
		if slots[i].ID == slotID {
			return i, true
		}
	}
	return -1, false
}

func findAttendee(attendees []MeetingAttendee, attendeeID string) (int, bool) {
	for i := range attendees {
		if attendees[i].ID == attendeeID {
			return i, true
		}
	}
	return -1, false
}

// putVote stores v as the only vote of its attendee, replacing any earlier
// vote in place.
func putVote(votes []TimeVote, v TimeVote) []TimeVote {
	votes = dedupeVotes(votes)
	for i := range votes {
		if votes[i].AttendeeID == v.AttendeeID {
			votes[i] = v
			return votes
		}
	}
	return append(votes, v)
}

// dedupeVotes keeps the last vote of every attendee. Stored data that
// predates the one-vote constraint may hold more than one.
func dedupeVotes(votes []TimeVote) []TimeVote {
	last := make(map[string]int, len(votes))
	for i, v := range votes {
		last[v.AttendeeID] = i
	}
	if len(last) == len(votes) {
		return votes
	}
	out := votes[:0:0]
	for i, v := range votes {
		if last[v.AttendeeID] == i {
			out = append(out, v)
		}
	}
	return out
}

// VoteOf returns the active vote of an attendee.
func (m Meeting) VoteOf(attendeeID string) (TimeVote, bool) {
	for i := len(m.TimeVotes) - 1; i >= 0; i-- {
		if m.TimeVotes[i].AttendeeID == attendeeID {
			return m.TimeVotes[i], true
		}
	}
	return TimeVote{}, false
}

// Step returns the step with the given id.
func (r ApprovalRequest) Step(stepID string) (ApprovalStep, bool) {
	i, ok := findStep(r.Steps, stepID)
	if !ok {
		return ApprovalStep{}, false
	}
	return r.Steps[i], true
}

// Slot returns the time slot with the given id.
func (m Meeting) Slot(slotID string) (MeetingTimeSlot, bool) {
	i, ok := findSlot(m.TimeSlots, slotID)
	if !ok {
		return MeetingTimeSlot{}, false
	}
	return m.TimeSlots[i], true
}

// Attendee returns the attendee with the given id.
func (m Meeting) Attendee(attendeeID string) (MeetingAttendee, bool) {
	i, ok := findAttendee(m.Attendees, attendeeID)
	if !ok {
		return MeetingAttendee{}, false
	}
	return m.Attendees[i], true
}
