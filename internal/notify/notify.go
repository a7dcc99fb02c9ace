// Package notify tells people about workflow outcomes. Delivery is best
// effort: a failed notification never undoes a committed transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"site-decisions/internal/metrics"
	"site-decisions/internal/workflow"
)

type Kind string

const (
	ApprovalSubmitted Kind = "approval_submitted"
	ApprovalDecided   Kind = "approval_decided"
	MeetingConfirmed  Kind = "meeting_confirmed"
	InvitationsSent   Kind = "invitations_sent"
	MeetingCancelled  Kind = "meeting_cancelled"
)

// Event describes a committed transition. Exactly one of Approval and
// Meeting is set.
type Event struct {
	Kind     Kind                      `json:"kind"`
	Actor    workflow.Actor            `json:"actor"`
	Approval *workflow.ApprovalRequest `json:"approval,omitempty"`
	Meeting  *workflow.Meeting         `json:"meeting,omitempty"`
	At       time.Time                 `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify %s: %v", ev.Kind, errs)
	}
	return nil
}

const defaultAsyncTimeout = 30 * time.Second

// Async delivers events on background goroutines so the caller never
// waits on SMTP or SNS. Errors are logged and counted.
type Async struct {
	next    Notifier
	channel string
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewAsync(next Notifier, channel string) *Async {
	return &Async{
		next:    next,
		channel: channel,
		timeout: defaultAsyncTimeout,
		logger:  slog.With("component", "notify", "channel", channel),
	}
}

// Notify always returns nil. The event is copied before it is handed off.
func (a *Async) Notify(_ context.Context, ev Event) error {
	if ev.Approval != nil {
		r := ev.Approval.Clone()
		ev.Approval = &r
	}
	if ev.Meeting != nil {
		m := ev.Meeting.Clone()
		ev.Meeting = &m
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		err := a.next.Notify(ctx, ev)
		metrics.Notification(a.channel, err)
		if err != nil {
			a.logger.Error("Failed to send notification", "kind", ev.Kind, "error", err)
			return
		}
		a.logger.Debug("Notification sent", "kind", ev.Kind)
	}()
	return nil
}

// Wait blocks until every queued notification finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
