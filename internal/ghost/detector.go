// Package ghost finds conversations that have gone quiet and sends each one
// a single re-engagement follow-up. A conversation is stale after 48 hours
// without activity; once handled it is marked ghosted and never followed up
// again unless the lead comes back.
package ghost

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraops/relay/internal/ai"
	"github.com/auraops/relay/internal/channel"
	"github.com/auraops/relay/internal/db"
	"github.com/auraops/relay/internal/metrics"
)

const (
	// StaleAfter is the inactivity window before a conversation counts as
	// ghosted. The boundary is inclusive: exactly 48 hours idle is stale.
	StaleAfter = 48 * time.Hour

	// DefaultBatchSize caps how many stale conversations one run handles.
	DefaultBatchSize = 50

	// queueDelay is the initial retry delay when a follow-up cannot be
	// sent directly and is parked on the durable queue instead.
	queueDelay = 5 * time.Minute
)

// Repository is the storage surface the detector needs.
type Repository interface {
	ListStaleConversations(ctx context.Context, cutoff time.Time, limit int) ([]*db.Conversation, error)
	MarkGhosted(ctx context.Context, leadID uuid.UUID, followupSentAt *time.Time) error
	Enqueue(ctx context.Context, msg *db.QueuedMessage) error
}

// Sender delivers one message on a channel. Satisfied by *channel.Guarded.
type Sender interface {
	Send(ctx context.Context, channelName, target, body string) (*channel.Result, error)
}

// Generator produces follow-up copy. Satisfied by *ai.Generator.
type Generator interface {
	Followup(ctx context.Context, lead ai.Lead) string
}

// Summary aggregates one detector run.
type Summary struct {
	Detected int `json:"detected"`
	Sent     int `json:"sent"`
	Queued   int `json:"queued"`
	Skipped  int `json:"skipped"`
}

// Detector owns the stale conversation sweep.
type Detector struct {
	repo      Repository
	sender    Sender
	generator Generator
	batchSize int
	logger    *zap.Logger
}

// New creates a detector.
func New(repo Repository, sender Sender, generator Generator, batchSize int, logger *zap.Logger) *Detector {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Detector{
		repo:      repo,
		sender:    sender,
		generator: generator,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run executes one sweep at the given time. Every stale conversation is
// settled one of three ways: follow-up sent directly, follow-up parked on
// the retry queue, or skipped so the next run retries it. The ghosted mark
// is what guarantees at most one follow-up per quiet period, so it is only
// applied once the follow-up is sent or safely queued.
func (d *Detector) Run(ctx context.Context, now time.Time) (*Summary, error) {
	cutoff := now.Add(-StaleAfter)

	convs, err := d.repo.ListStaleConversations(ctx, cutoff, d.batchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Detected: len(convs)}
	for _, conv := range convs {
		d.followUp(ctx, conv, now, summary)
	}

	d.logger.Info("ghost detection run complete",
		zap.Int("detected", summary.Detected),
		zap.Int("sent", summary.Sent),
		zap.Int("queued", summary.Queued),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (d *Detector) followUp(ctx context.Context, conv *db.Conversation, now time.Time, summary *Summary) {
	days := int(now.Sub(conv.LastActivityAt).Hours() / 24)
	body := d.generator.Followup(ctx, ai.Lead{
		TenantID:     conv.TenantID,
		Channel:      conv.Channel,
		DaysInactive: days,
	})

	_, sendErr := d.sender.Send(ctx, conv.Channel, conv.Target, body)
	if sendErr == nil {
		sentAt := now
		if err := d.repo.MarkGhosted(ctx, conv.LeadID, &sentAt); err != nil {
			d.logger.Error("failed to mark conversation ghosted",
				zap.Error(err),
				zap.String("lead_id", conv.LeadID.String()),
			)
		}
		metrics.RecordFollowup("sent")
		summary.Sent++
		return
	}

	msg := &db.QueuedMessage{
		ID:          uuid.New(),
		TenantID:    conv.TenantID,
		Target:      conv.Target,
		Channel:     conv.Channel,
		Body:        body,
		Status:      db.StatusPending,
		MaxAttempts: db.DefaultMaxAttempts,
		NextRetryAt: now.Add(queueDelay),
	}
	if err := d.repo.Enqueue(ctx, msg); err != nil {
		// Neither sent nor queued: leave the conversation active so the
		// next sweep picks it up again.
		d.logger.Error("failed to queue follow-up",
			zap.Error(err),
			zap.String("lead_id", conv.LeadID.String()),
		)
		metrics.RecordFollowup("skipped")
		summary.Skipped++
		return
	}

	// Queued counts as handled. followup_sent_at stays unset until a
	// direct send actually lands.
	if err := d.repo.MarkGhosted(ctx, conv.LeadID, nil); err != nil {
		d.logger.Error("failed to mark conversation ghosted",
			zap.Error(err),
			zap.String("lead_id", conv.LeadID.String()),
		)
	}

	d.logger.Warn("follow-up parked on retry queue",
		zap.String("lead_id", conv.LeadID.String()),
		zap.String("channel", conv.Channel),
		zap.Error(sendErr),
	)
	metrics.RecordFollowup("queued")
	summary.Queued++
}
