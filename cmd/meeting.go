package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"site-decisions/internal/access"
	"site-decisions/internal/client"
	"site-decisions/internal/remote"
	"site-decisions/internal/workflow"
)

var meetingCmd = &cobra.Command{
	Use:     "meeting",
	Aliases: []string{"meetings"},
	Short:   "Schedule meetings and vote on time slots",
}

var (
	meetingTitle         string
	meetingAt            string
	meetingSlots         []string
	meetingAttendees     []string
	meetingAttendeesFile string
	meetingQuery         remote.MeetingQuery
	meetingFor           string
	cancelReason         string
)

// parseSlot reads "start" or "start/end" in RFC 3339.
func parseSlot(s string) (workflow.SlotInput, error) {
	startStr, endStr, hasEnd := strings.Cut(s, "/")
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return workflow.SlotInput{}, fmt.Errorf("invalid slot start %q: %w", startStr, err)
	}
	slot := workflow.SlotInput{Start: start}
	if hasEnd {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return workflow.SlotInput{}, fmt.Errorf("invalid slot end %q: %w", endStr, err)
		}
		slot.End = &end
	}
	return slot, nil
}

func meetingInput() (workflow.MeetingInput, error) {
	in := workflow.MeetingInput{Title: meetingTitle}
	for _, s := range meetingSlots {
		slot, err := parseSlot(s)
		if err != nil {
			return in, err
		}
		in.Slots = append(in.Slots, slot)
	}
	if meetingAt != "" {
		at, err := time.Parse(time.RFC3339, meetingAt)
		if err != nil {
			return in, fmt.Errorf("invalid --at: %w", err)
		}
		in.ScheduledDate = &at
	}
	for _, a := range meetingAttendees {
		if strings.Contains(a, "@") {
			if err := access.ValidEmail(a); err != nil {
				return in, err
			}
			in.Attendees = append(in.Attendees, workflow.AttendeeInput{Email: a})
		} else {
			in.Attendees = append(in.Attendees, workflow.AttendeeInput{UserID: a})
		}
	}
	if meetingAttendeesFile != "" {
		list, err := access.ReadAttendeesFile(meetingAttendeesFile)
		if err != nil {
			return in, err
		}
		in.Attendees = append(in.Attendees, list...)
	}
	return in, nil
}

var meetingCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a meeting",
	Long: `Create a meeting. With two or more --slot values attendees vote on the
time and the owner confirms one; otherwise --at fixes the time.

Slots are RFC 3339 timestamps, optionally with an end: 2026-05-04T09:00:00Z/2026-05-04T10:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := meetingInput()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		m, err := c.CreateMeeting(cmd.Context(), in)
		if err != nil {
			return err
		}
		printMeeting(m)
		return nil
	},
}

var meetingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List meetings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListMeetings(cmd.Context(), meetingQuery)
		if err != nil {
			return err
		}
		printMeetings(list)
		return nil
	},
}

var meetingShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a meeting with its slots, votes and attendees",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		m, err := c.OpenMeeting(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printMeeting(m)
		return nil
	},
}

var meetingVoteCmd = &cobra.Command{
	Use:   "vote <id> <slot>",
	Short: "Vote for a time slot",
	Long:  `Vote for a time slot, given by its id or number. A new vote replaces the earlier one.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		m, err := c.OpenMeeting(ctx, args[0])
		if err != nil {
			return err
		}
		attendee, err := attendeeFor(m, respondent(c.Actor()))
		if err != nil {
			return err
		}
		slot, err := slotFor(m, args[1])
		if err != nil {
			return err
		}
		if m, err = await(c.CastTimeSlotVote(ctx, m.ID, attendee.ID, slot.ID)); err != nil {
			return err
		}
		printMeeting(m)
		return nil
	},
}

var meetingConfirmCmd = &cobra.Command{
	Use:   "confirm <id> <slot>",
	Short: "Confirm a time slot and close voting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		m, err := c.OpenMeeting(ctx, args[0])
		if err != nil {
			return err
		}
		slot, err := slotFor(m, args[1])
		if err != nil {
			return err
		}
		if m, err = await(c.ConfirmTimeSlot(ctx, m.ID, slot.ID)); err != nil {
			return err
		}
		printMeeting(m)
		return nil
	},
}

var meetingRsvpCmd = &cobra.Command{
	Use:   "rsvp <id> <accepted|tentative|declined>",
	Short: "Answer a meeting invitation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		m, err := c.OpenMeeting(ctx, args[0])
		if err != nil {
			return err
		}
		attendee, err := attendeeFor(m, respondent(c.Actor()))
		if err != nil {
			return err
		}
		status := workflow.AttendanceStatus(strings.ToLower(args[1]))
		if m, err = await(c.SetRsvp(ctx, m.ID, attendee.ID, status)); err != nil {
			return err
		}
		printMeeting(m)
		return nil
	},
}

// ownerAction runs a meeting event that needs no arguments besides the
// meeting id.
func ownerAction(submit func(c *client.Client, ctx context.Context, id string) (*client.MeetingPending, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if _, err := c.OpenMeeting(ctx, args[0]); err != nil {
			return err
		}
		m, err := await(submit(c, ctx, args[0]))
		if err != nil {
			return err
		}
		printMeeting(m)
		return nil
	}
}

var meetingInviteCmd = &cobra.Command{
	Use:   "invite <id>",
	Short: "Send invitations for a scheduled meeting",
	Args:  cobra.ExactArgs(1),
	RunE:  ownerAction((*client.Client).SendInvitations),
}

var meetingCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a meeting",
	Args:  cobra.ExactArgs(1),
	RunE: ownerAction(func(c *client.Client, ctx context.Context, id string) (*client.MeetingPending, error) {
		return c.CancelMeeting(ctx, id, cancelReason)
	}),
}

var meetingCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a meeting as held",
	Args:  cobra.ExactArgs(1),
	RunE:  ownerAction((*client.Client).CompleteMeeting),
}

// respondent is the attendee a vote or RSVP is given for: --for when set,
// the caller otherwise.
func respondent(actor workflow.Actor) string {
	if meetingFor != "" {
		return meetingFor
	}
	return actor.ID
}

func init() {
	rootCmd.AddCommand(meetingCmd)
	meetingCmd.AddCommand(meetingCreateCmd, meetingListCmd, meetingShowCmd, meetingVoteCmd,
		meetingConfirmCmd, meetingRsvpCmd, meetingInviteCmd, meetingCancelCmd, meetingCompleteCmd)

	meetingCreateCmd.Flags().StringVar(&meetingTitle, "title", "", "meeting title")
	meetingCreateCmd.Flags().StringVar(&meetingAt, "at", "", "fixed meeting time (RFC 3339)")
	meetingCreateCmd.Flags().StringArrayVar(&meetingSlots, "slot", nil, "proposed time slot (repeatable)")
	meetingCreateCmd.Flags().StringSliceVar(&meetingAttendees, "attendee", nil, "attendee user id or e-mail (repeatable)")
	meetingCreateCmd.Flags().StringVar(&meetingAttendeesFile, "attendees-file", "", "CSV or TSV attendee list")
	meetingCreateCmd.MarkFlagRequired("title")
	meetingCreateCmd.MarkFlagsMutuallyExclusive("at", "slot")

	meetingListCmd.Flags().StringVar(&meetingQuery.Owner, "owner", "", `filter by owner, "me" for yourself`)
	meetingListCmd.Flags().StringVar(&meetingQuery.Participant, "participant", "", `filter by owner or attendee, "me" for yourself`)
	meetingListCmd.Flags().StringVar((*string)(&meetingQuery.Status), "status", "", "filter by status")

	for _, c := range []*cobra.Command{meetingVoteCmd, meetingRsvpCmd} {
		c.Flags().StringVar(&meetingFor, "for", "", "answer for another attendee (user id or e-mail)")
	}
	meetingCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")
}
