package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher is the part of *sns.Client the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes every event as JSON to one topic. Subscribers
// filter on the "kind" message attribute.
type SNSNotifier struct {
	Sns      Publisher
	TopicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSNotifier{Sns: sns.NewFromConfig(cfg), TopicArn: topicArn}, nil
}

func (n *SNSNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = n.Sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.TopicArn),
		Message:  aws.String(string(body)),
		Subject:  aws.String(subject(ev)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(ev.Kind))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Kind, err)
	}
	return nil
}

func subject(ev Event) string {
	title := ""
	switch {
	case ev.Meeting != nil:
		title = ev.Meeting.Title
	case ev.Approval != nil:
		title = ev.Approval.Title
	}
	s := string(ev.Kind)
	if title != "" {
		s += ": " + title
	}
	// SNS subjects are limited to 100 characters.
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100])
	}
	return s
}
