// Package dispatch drains the durable retry queue. Each run claims a batch
// of due messages, attempts delivery through the breaker-guarded channel
// adapters, and settles every message exactly one way: deleted on success,
// rescheduled with backoff, or parked as exhausted and exported to the DLQ.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraops/relay/internal/channel"
	"github.com/auraops/relay/internal/db"
	"github.com/auraops/relay/internal/metrics"
)

const (
	// DefaultBatchSize is how many due messages one run claims.
	DefaultBatchSize = 20

	backoffStep = 5 * time.Minute
	backoffCap  = 60 * time.Minute
)

// Backoff returns the retry delay after the given attempt count: 5 minutes
// per attempt, capped at an hour.
func Backoff(attempts int) time.Duration {
	d := time.Duration(attempts) * backoffStep
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Repository is the queue storage surface the dispatcher needs.
type Repository interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*db.QueuedMessage, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error
	MarkExhausted(ctx context.Context, id uuid.UUID, attempts int, lastError string, now time.Time) error
}

// Sender delivers one message on a channel. Satisfied by *channel.Guarded.
type Sender interface {
	Send(ctx context.Context, channelName, target, body string) (*channel.Result, error)
}

// Exporter receives messages that have exhausted their retry budget.
// Satisfied by the SQS dead letter exporter.
type Exporter interface {
	ExportExhausted(ctx context.Context, msg *db.QueuedMessage, lastError string) error
}

// ItemResult records how one claimed message was settled.
type ItemResult struct {
	ID       uuid.UUID `json:"id"`
	Outcome  string    `json:"outcome"` // sent, rescheduled, exhausted
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// Summary aggregates one dispatcher run for the cron response and logs.
type Summary struct {
	Processed   int          `json:"processed"`
	Sent        int          `json:"sent"`
	Rescheduled int          `json:"rescheduled"`
	Exhausted   int          `json:"exhausted"`
	Items       []ItemResult `json:"items,omitempty"`
}

// Dispatcher owns the claim-send-settle loop.
type Dispatcher struct {
	repo      Repository
	sender    Sender
	exporter  Exporter // optional
	batchSize int
	logger    *zap.Logger
}

// New creates a dispatcher. exporter may be nil when no DLQ is configured.
func New(repo Repository, sender Sender, exporter Exporter, batchSize int, logger *zap.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		repo:      repo,
		sender:    sender,
		exporter:  exporter,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run executes one dispatch cycle at the given time. Failures are isolated
// per message: a provider or storage error on one message never blocks the
// rest of the batch.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (*Summary, error) {
	msgs, err := d.repo.ClaimBatch(ctx, d.batchSize, now)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Processed: len(msgs)}
	for _, msg := range msgs {
		summary.Items = append(summary.Items, d.process(ctx, msg, now))
	}

	for _, item := range summary.Items {
		switch item.Outcome {
		case "sent":
			summary.Sent++
		case "rescheduled":
			summary.Rescheduled++
		case "exhausted":
			summary.Exhausted++
		}
	}

	d.logger.Info("dispatch run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("sent", summary.Sent),
		zap.Int("rescheduled", summary.Rescheduled),
		zap.Int("exhausted", summary.Exhausted),
	)
	return summary, nil
}

// process settles one claimed message. The attempt is counted whether the
// provider was reached or an open circuit rejected the call locally; both
// consume retry budget so a dead provider cannot pin messages forever.
func (d *Dispatcher) process(ctx context.Context, msg *db.QueuedMessage, now time.Time) ItemResult {
	attempts := msg.Attempts + 1

	start := time.Now()
	_, sendErr := d.sender.Send(ctx, msg.Channel, msg.Target, msg.Body)
	metrics.RecordSendDuration(msg.Channel, time.Since(start))

	if sendErr == nil {
		metrics.RecordDispatched("sent", msg.Channel)
		if err := d.repo.Delete(ctx, msg.ID); err != nil {
			// Delivery happened; a redelivery on the next run is the
			// lesser evil versus losing the message.
			d.logger.Error("failed to delete delivered message",
				zap.Error(err),
				zap.String("message_id", msg.ID.String()),
			)
		}
		return ItemResult{ID: msg.ID, Outcome: "sent", Attempts: attempts}
	}

	if attempts >= msg.MaxAttempts {
		metrics.RecordDispatched("exhausted", msg.Channel)
		if err := d.repo.MarkExhausted(ctx, msg.ID, attempts, sendErr.Error(), now); err != nil {
			d.logger.Error("failed to mark message exhausted",
				zap.Error(err),
				zap.String("message_id", msg.ID.String()),
			)
		}
		d.export(ctx, msg, attempts, sendErr.Error())
		d.logger.Warn("message exhausted retry budget",
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", msg.Channel),
			zap.Int("attempts", attempts),
			zap.String("last_error", sendErr.Error()),
		)
		return ItemResult{ID: msg.ID, Outcome: "exhausted", Attempts: attempts, Error: sendErr.Error()}
	}

	metrics.RecordDispatched("rescheduled", msg.Channel)
	nextRetryAt := now.Add(Backoff(attempts))
	if err := d.repo.Reschedule(ctx, msg.ID, attempts, sendErr.Error(), nextRetryAt); err != nil {
		d.logger.Error("failed to reschedule message",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}
	return ItemResult{ID: msg.ID, Outcome: "rescheduled", Attempts: attempts, Error: sendErr.Error()}
}

func (d *Dispatcher) export(ctx context.Context, msg *db.QueuedMessage, attempts int, lastError string) {
	if d.exporter == nil {
		return
	}
	exported := *msg
	exported.Attempts = attempts
	if err := d.exporter.ExportExhausted(ctx, &exported, lastError); err != nil {
		d.logger.Error("failed to export exhausted message to dlq",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
	}
}
