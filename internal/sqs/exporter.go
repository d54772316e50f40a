// Package sqs exports terminally failed messages to an external dead letter
// queue so tenants can audit and replay what the platform could not deliver.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/auraops/relay/internal/db"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// DeadLetter is the payload published for each exhausted message.
type DeadLetter struct {
	MessageID   string `json:"message_id"`
	TenantID    string `json:"tenant_id"`
	Target      string `json:"target"`
	Channel     string `json:"channel"`
	Body        string `json:"body"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error"`
	ExhaustedAt int64  `json:"exhausted_at"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Exporter publishes exhausted messages to the dead letter queue.
type Exporter struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewExporter creates a dead letter exporter.
func NewExporter(ctx context.Context, cfg Config, logger *zap.Logger) (*Exporter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs dead letter exporter initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Exporter{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// ExportExhausted publishes one exhausted message. The queue row itself is
// kept in Postgres; the DLQ copy is for external consumers.
func (e *Exporter) ExportExhausted(ctx context.Context, msg *db.QueuedMessage, lastError string) error {
	dl := DeadLetter{
		MessageID:   msg.ID.String(),
		TenantID:    msg.TenantID,
		Target:      msg.Target,
		Channel:     msg.Channel,
		Body:        msg.Body,
		Attempts:    msg.Attempts,
		LastError:   lastError,
		ExhaustedAt: time.Now().Unix(),
	}

	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := e.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	e.logger.Info("exhausted message exported to dlq",
		zap.String("message_id", msg.ID.String()),
		zap.String("sqs_message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
