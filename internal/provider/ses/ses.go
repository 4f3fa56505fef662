// Package ses implements a Provider that sends raw messages via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/ses-forwarder/internal/email"
	"github.com/shineum/ses-forwarder/internal/provider"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SESProvider sends raw messages via the AWS SES v2 API. SES replaces the
// Message-ID and Date headers and requires every sender identity header to
// be a verified identity.
type SESProvider struct {
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *SESProvider {
	return &SESProvider{client: client}
}

// Send delivers msg.Raw as-is. API errors are returned as
// *provider.SendError carrying the SES error code and message.
func (s *SESProvider) Send(ctx context.Context, msg *email.Outbound) (string, error) {
	input := &sesv2.SendEmailInput{
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Raw,
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		sendErr := &provider.SendError{Message: err.Error(), Err: err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			sendErr.Code = apiErr.ErrorCode()
			sendErr.Message = apiErr.ErrorMessage()
		}
		slog.Warn("SES API error",
			"message_id", msg.MessageID,
			"code", sendErr.Code,
			"error", sendErr.Message,
		)
		return "", sendErr
	}

	return aws.ToString(out.MessageId), nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}
