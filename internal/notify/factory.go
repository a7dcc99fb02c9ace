package notify

import (
	"context"

	"site-decisions/internal/config"
	"site-decisions/internal/email"
)

// New builds the notifier selected by notify.type, wrapped in Async.
func New(ctx context.Context, cfg *config.Config) (*Async, error) {
	var n Notifier
	switch cfg.Notify.Type {
	case "email":
		n = NewEmailNotifier(email.NewClient(cfg.Email), cfg.BaseURL)
	case "sns":
		s, err := NewSNSNotifier(ctx, cfg.Notify.SNS.Region, cfg.Notify.SNS.TopicArn)
		if err != nil {
			return nil, err
		}
		n = s
	default:
		n = Nop{}
	}
	channel := cfg.Notify.Type
	if channel == "" {
		channel = "none"
	}
	return NewAsync(n, channel), nil
}
