// Package sns implements notify.Publisher on an Amazon SNS topic.
package sns

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNS caps subjects at 100 characters.
const maxSubjectLen = 100

// PublishAPI is the subset of the SNS client used by Publisher.
type PublishAPI interface {
	Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// Publisher publishes notices to one topic.
type Publisher struct {
	topicARN string
	client   PublishAPI
}

// New creates a Publisher from the default AWS configuration chain.
func New(ctx context.Context, region, topicARN string) (*Publisher, error) {
	if topicARN == "" {
		return nil, errors.New("sns topic ARN is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(topicARN, awssns.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Publisher with a custom client, used for testing.
func NewWithClient(topicARN string, client PublishAPI) *Publisher {
	return &Publisher{topicARN: topicARN, client: client}
}

// Publish sends body to the topic. Subjects longer than SNS allows are
// truncated.
func (p *Publisher) Publish(ctx context.Context, subject, body string) (string, error) {
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}

	out, err := p.client.Publish(ctx, &awssns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.topicARN, err)
	}
	return aws.ToString(out.MessageId), nil
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return "sns"
}
