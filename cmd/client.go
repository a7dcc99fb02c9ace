package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"site-decisions/internal/access"
	"site-decisions/internal/client"
	"site-decisions/internal/coordinator"
	"site-decisions/internal/remote"
	"site-decisions/internal/token"
	"site-decisions/internal/workflow"
)

const timeFormat = "2006-01-02 15:04"

// quietLogger keeps CLI output readable; only errors reach stderr.
func quietLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)
}

// newClient connects to the configured server as the actor of the
// configured token.
func newClient() (*client.Client, error) {
	quietLogger()
	if cfg.Client.Token == "" {
		return nil, fmt.Errorf("client.token is not set, issue one with 'token issue'")
	}
	actor, err := token.PeekActor(cfg.Client.Token)
	if err != nil {
		return nil, fmt.Errorf("client.token: %w", err)
	}
	timeout := time.Duration(cfg.Client.Timeout) * time.Second
	api, err := remote.New(cfg.Client.ServerURL, cfg.Client.Token, timeout)
	if err != nil {
		return nil, err
	}
	rbac, err := LoadRBAC(cfg)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		API:        api,
		Actor:      actor,
		Authorizer: access.NewAuthorizer(rbac),
		Timeout:    timeout,
		OnRollback: func(entity, id string, err error) {
			if !workflow.IsSilent(err) {
				fmt.Fprintf(os.Stderr, "Change to %s %s was rolled back: %v\n", entity, id, err)
			}
		},
	}), nil
}

// await blocks until a submitted mutation settles. The coordinator bounds
// every dispatch, so this always returns.
func await[S any](p *coordinator.Pending[S], err error) (S, error) {
	if err != nil {
		var zero S
		return zero, err
	}
	return p.Wait(context.Background())
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func printApproval(r workflow.ApprovalRequest) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", r.ID)
	fmt.Fprintf(w, "ENTITY\t%s %s\n", r.EntityType, r.EntityID)
	fmt.Fprintf(w, "TITLE\t%s\n", dash(r.Title))
	fmt.Fprintf(w, "REQUESTER\t%s\n", r.RequesterID)
	fmt.Fprintf(w, "STATUS\t%s\n", r.CurrentStatus)
	fmt.Fprintf(w, "VERSION\t%d\n", r.Version)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP\tROLE\tSTATUS\tAPPROVER\tDECIDED AT\tCOMMENT\tSTEP ID")
	for _, s := range r.Steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.StepOrder, s.ApproverRole, s.Status, dash(s.ApproverID), formatTime(s.DecidedAt), dash(s.Comments), s.ID)
	}
	w.Flush()
}

func printApprovals(list []workflow.ApprovalRequest) {
	if len(list) == 0 {
		fmt.Println("No approval requests found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTITY\tTITLE\tSTATUS\tREQUESTER\tUPDATED AT")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%s\t%s\n",
			r.ID, r.EntityType, r.EntityID, dash(r.Title), r.CurrentStatus, r.RequesterID, formatTime(&r.UpdatedAt))
	}
	w.Flush()
}

func printMeeting(m workflow.Meeting) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", m.ID)
	fmt.Fprintf(w, "TITLE\t%s\n", m.Title)
	fmt.Fprintf(w, "OWNER\t%s\n", m.OwnerID)
	fmt.Fprintf(w, "STATUS\t%s\n", m.Status)
	fmt.Fprintf(w, "SCHEDULED\t%s\n", formatTime(m.ScheduledDate))
	if m.CancelReason != "" {
		fmt.Fprintf(w, "CANCEL REASON\t%s\n", m.CancelReason)
	}
	fmt.Fprintf(w, "VERSION\t%d\n", m.Version)

	if m.HasTimeSlots {
		leading := make(map[string]bool)
		for _, s := range workflow.Leading(m.TimeSlots) {
			leading[s.ID] = true
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SLOT\tSTART\tEND\tVOTES\t\tSLOT ID")
		for _, s := range m.TimeSlots {
			mark := ""
			switch {
			case s.IsConfirmed:
				mark = "confirmed"
			case leading[s.ID]:
				mark = "leading"
			}
			start := s.ProposedStart
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				s.SlotNumber, formatTime(&start), formatTime(s.ProposedEnd), s.VoteCount, mark, s.ID)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "ATTENDEE\tEMAIL\tRSVP\tVOTE\tATTENDEE ID")
	for _, a := range m.Attendees {
		vote := "-"
		if v, ok := m.VoteOf(a.ID); ok {
			if s, ok := m.Slot(v.TimeSlotID); ok {
				vote = fmt.Sprintf("slot %d", s.SlotNumber)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.UserID, dash(a.Email), a.AttendanceStatus, vote, a.ID)
	}
	w.Flush()
}

func printMeetings(list []workflow.Meeting) {
	if len(list) == 0 {
		fmt.Println("No meetings found.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tOWNER\tSCHEDULED\tATTENDEES")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			m.ID, m.Title, m.Status, m.OwnerID, formatTime(m.ScheduledDate), len(m.Attendees))
	}
	w.Flush()
}

// attendeeFor resolves the caller's own attendee entry, or the entry of
// the given user id or e-mail.
func attendeeFor(m workflow.Meeting, who string) (workflow.MeetingAttendee, error) {
	for _, a := range m.Attendees {
		if a.ID == who || a.UserID == who || (a.Email != "" && strings.EqualFold(a.Email, who)) {
			return a, nil
		}
	}
	return workflow.MeetingAttendee{}, fmt.Errorf("%s is not an attendee of meeting %s", who, m.ID)
}

// slotFor accepts a slot id or a 1-based slot number.
func slotFor(m workflow.Meeting, ref string) (workflow.MeetingTimeSlot, error) {
	for _, s := range m.TimeSlots {
		if s.ID == ref || fmt.Sprint(s.SlotNumber) == ref {
			return s, nil
		}
	}
	return workflow.MeetingTimeSlot{}, fmt.Errorf("meeting %s has no slot %s", m.ID, ref)
}
