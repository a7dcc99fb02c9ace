package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"site-decisions/internal/access"
	"site-decisions/internal/config"
	"site-decisions/internal/email"
	"site-decisions/internal/workflow"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"date": func(t any) string {
		switch v := t.(type) {
		case *time.Time:
			if v == nil {
				return ""
			}
			return v.Format("Mon 2 Jan 2006 15:04 MST")
		case time.Time:
			return v.Format("Mon 2 Jan 2006 15:04 MST")
		}
		return ""
	},
}).ParseFS(templateFS, "templates/*.html.tmpl"))

const qrCID = "meeting-qr.png"

// EmailNotifier mails meeting attendees and approval requesters.
type EmailNotifier struct {
	sender  email.Sender
	baseURL string
}

func NewEmailNotifier(sender email.Sender, baseURL string) *EmailNotifier {
	return &EmailNotifier{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

type emailData struct {
	Event Event
	Link  string
	QR    template.URL
	Slot  *workflow.MeetingTimeSlot
}

func (n *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	switch {
	case ev.Meeting != nil:
		return n.meeting(ctx, ev)
	case ev.Approval != nil:
		return n.approval(ctx, ev)
	}
	return nil
}

func (n *EmailNotifier) link(kind, id string) string {
	return n.baseURL + "/api/" + kind + "/" + url.PathEscape(id)
}

func (n *EmailNotifier) meeting(ctx context.Context, ev Event) error {
	m := ev.Meeting
	var to []string
	for _, a := range m.Attendees {
		if a.Email != "" && a.AttendanceStatus != workflow.AttendanceDeclined {
			to = append(to, a.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}

	data := emailData{Event: ev, Link: n.link("meetings", m.ID)}
	if s, ok := m.Slot(m.ConfirmedSlotID); ok {
		data.Slot = &s
	}

	msg := &email.Message{To: to}
	switch ev.Kind {
	case MeetingConfirmed, InvitationsSent:
		qr, err := qrcode.Encode(data.Link, qrcode.Medium, config.QR_IMAGE_SIZE)
		if err != nil {
			return fmt.Errorf("failed to generate QR code: %w", err)
		}
		msg.Inline = append(msg.Inline, email.Inline{Name: qrCID, Data: qr})
		data.QR = template.URL("cid:" + qrCID)
		msg.Subject = "Meeting scheduled: " + m.Title
	case MeetingCancelled:
		msg.Subject = "Meeting cancelled: " + m.Title
	default:
		return nil
	}

	html, err := render("meeting.html.tmpl", data)
	if err != nil {
		return err
	}
	msg.HTML = html
	return n.sender.Send(ctx, msg)
}

func (n *EmailNotifier) approval(ctx context.Context, ev Event) error {
	if ev.Kind != ApprovalDecided || !ev.Approval.CurrentStatus.Terminal() {
		return nil
	}
	// Requesters are addressed by user id. Only ids that are mail
	// addresses can be reached.
	if access.ValidEmail(ev.Approval.RequesterID) != nil {
		return nil
	}

	html, err := render("approval.html.tmpl", emailData{Event: ev, Link: n.link("approvals", ev.Approval.ID)})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, &email.Message{
		To:      []string{ev.Approval.RequesterID},
		Subject: fmt.Sprintf("Request %s: %s", ev.Approval.CurrentStatus, ev.Approval.Title),
		HTML:    html,
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
