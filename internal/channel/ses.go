package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESConfig holds AWS SES settings for email delivery.
type SESConfig struct {
	Region    string
	FromEmail string
	Subject   string
}

const defaultEmailSubject = "You have a new message"

// SESSender delivers messages as plain-text email via AWS SES. Targets are
// email addresses. Email is the fallback route for Telegram, so the message
// body arrives unchanged and a fixed subject line is applied.
type SESSender struct {
	client  sesAPI
	from    string
	subject string
	logger  *zap.Logger
}

// NewSESSender creates an email sender backed by AWS SES.
func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SES: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}

	return &SESSender{
		client:  ses.NewFromConfig(awsCfg),
		from:    cfg.FromEmail,
		subject: subject,
		logger:  logger,
	}, nil
}

func (s *SESSender) Send(ctx context.Context, target, body string) (*Result, error) {
	if target == "" {
		return nil, fmt.Errorf("email target missing address")
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{target},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(s.subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via ses",
		zap.String("to", target),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Result{MessageID: aws.ToString(result.MessageId)}, nil
}

func (s *SESSender) Channel() string {
	return ChannelEmail
}
