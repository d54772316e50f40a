package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// snsAPI is the subset of the SNS client used by the sender, extracted so
// tests can substitute a fake.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSConfig holds AWS SNS settings for SMS delivery.
type SNSConfig struct {
	Region string
}

// SNSSender delivers SMS messages via AWS SNS. Targets are E.164 phone
// numbers.
type SNSSender struct {
	client snsAPI
	logger *zap.Logger
}

// NewSNSSender creates an SMS sender backed by AWS SNS.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, target, body string) (*Result, error) {
	if target == "" {
		return nil, fmt.Errorf("sms target missing phone number")
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	input := &sns.PublishInput{
		PhoneNumber: aws.String(target),
		Message:     aws.String(body),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("sms sent via sns",
		zap.String("phone_number", target),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Result{MessageID: aws.ToString(result.MessageId)}, nil
}

func (s *SNSSender) Channel() string {
	return ChannelSMS
}
