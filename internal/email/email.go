package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inbucket/html2text"
	"github.com/wneessen/go-mail"
)

var ErrNoRecipients = errors.New("email has no recipients")

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Inline is an attachment referenced from the HTML body as cid:<Name>.
type Inline struct {
	Name string
	Data []byte
}

// Message represents an email message
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string // optional, will be auto-generated from HTML if empty
	Inline  []Inline
}

// Sender is implemented by Client. Notifiers depend on it so tests can
// capture outgoing mail.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Client represents an email client
type Client struct {
	cfg SMTPConfig
}

// NewClient creates a new email client
func NewClient(cfg SMTPConfig) *Client {
	return &Client{cfg: cfg}
}

// Send sends an email message
func (c *Client) Send(ctx context.Context, msg *Message) error {
	m, err := c.Build(msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(c.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}

	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Build converts msg into a multipart go-mail message without sending it.
func (c *Client) Build(msg *Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, ErrNoRecipients
	}
	if msg.Text == "" {
		text, err := htmlToText(msg.HTML)
		if err != nil {
			return nil, fmt.Errorf("failed to convert HTML to text: %w", err)
		}
		msg.Text = text
	}

	m := mail.NewMsg()
	if err := m.From(c.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", c.cfg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, in := range msg.Inline {
		m.EmbedReadSeeker(in.Name, bytes.NewReader(in.Data))
	}
	return m, nil
}

// htmlToText converts HTML to plain text
func htmlToText(htmlContent string) (string, error) {
	text, err := html2text.FromString(htmlContent, html2text.Options{
		PrettyTables: true,
		OmitLinks:    false,
	})
	if err != nil {
		slog.Error("failed to convert HTML to text", "error", err)
		return "", err
	}
	return text, nil
}
