package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for the retry queue and conversations
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new queue repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Enqueue persists a new pending message into the retry queue.
func (r *Repository) Enqueue(ctx context.Context, msg *QueuedMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	if msg.MaxAttempts == 0 {
		msg.MaxAttempts = DefaultMaxAttempts
	}
	if msg.NextRetryAt.IsZero() {
		msg.NextRetryAt = time.Now()
	}

	query := `
		INSERT INTO queued_messages (
			id, tenant_id, target, channel, body,
			status, attempts, max_attempts, last_error, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		msg.ID,
		msg.TenantID,
		msg.Target,
		msg.Channel,
		msg.Body,
		msg.Status,
		msg.Attempts,
		msg.MaxAttempts,
		msg.LastError,
		msg.NextRetryAt,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to enqueue message",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return fmt.Errorf("insert queued message: %w", err)
	}

	r.logger.Info("message enqueued",
		zap.String("message_id", msg.ID.String()),
		zap.String("tenant_id", msg.TenantID),
		zap.String("channel", msg.Channel),
		zap.Time("next_retry_at", msg.NextRetryAt),
	)

	return nil
}

// ClaimBatch selects up to limit due messages and transitions each one
// pending/failed -> processing with a compare-and-swap on the status the row
// had when it was read. Rows that lose the race to a concurrent dispatcher
// run are skipped; they stay claimable for the next invocation.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*QueuedMessage, error) {
	query := `
		SELECT
			id, tenant_id, target, channel, body,
			status, attempts, max_attempts, last_error, next_retry_at,
			created_at, updated_at
		FROM queued_messages
		WHERE status IN ($1, $2)
		  AND attempts < max_attempts
		  AND next_retry_at <= $3
		ORDER BY next_retry_at ASC
		LIMIT $4
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusPending, StatusFailed, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due messages: %w", err)
	}
	defer rows.Close()

	var candidates []*QueuedMessage
	for rows.Next() {
		var msg QueuedMessage
		err := rows.Scan(
			&msg.ID,
			&msg.TenantID,
			&msg.Target,
			&msg.Channel,
			&msg.Body,
			&msg.Status,
			&msg.Attempts,
			&msg.MaxAttempts,
			&msg.LastError,
			&msg.NextRetryAt,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		candidates = append(candidates, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	claimed := make([]*QueuedMessage, 0, len(candidates))
	for _, msg := range candidates {
		ok, err := r.claim(ctx, msg)
		if err != nil {
			r.logger.Error("claim update failed",
				zap.Error(err),
				zap.String("message_id", msg.ID.String()),
			)
			continue
		}
		if !ok {
			r.logger.Debug("message claimed by another run, skipping",
				zap.String("message_id", msg.ID.String()),
			)
			continue
		}
		msg.Status = StatusProcessing
		claimed = append(claimed, msg)
	}

	return claimed, nil
}

// claim is the optimistic lock: the update applies only if the row still has
// the status it had when read.
func (r *Repository) claim(ctx context.Context, msg *QueuedMessage) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE queued_messages
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, StatusProcessing, msg.ID, msg.Status)
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a message from the queue after successful delivery.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM queued_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queued message: %w", err)
	}
	return nil
}

// Reschedule returns a message to pending with an updated attempt count and
// retry time after a failed delivery attempt.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, lastError string, nextRetryAt time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE queued_messages
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $5
	`, StatusPending, attempts, lastError, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("reschedule message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message not found: %s", id)
	}
	return nil
}

// MarkExhausted parks a message as terminally failed. With attempts at
// max_attempts the row is excluded from every future claim and kept for
// operator inspection.
func (r *Repository) MarkExhausted(ctx context.Context, id uuid.UUID, attempts int, lastError string, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE queued_messages
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $5
	`, StatusFailed, attempts, lastError, now, id)
	if err != nil {
		return fmt.Errorf("mark message exhausted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message not found: %s", id)
	}
	return nil
}

// GetMessage retrieves a queued message by ID
func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (*QueuedMessage, error) {
	query := `
		SELECT
			id, tenant_id, target, channel, body,
			status, attempts, max_attempts, last_error, next_retry_at,
			created_at, updated_at
		FROM queued_messages
		WHERE id = $1
	`

	var msg QueuedMessage
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.TenantID,
		&msg.Target,
		&msg.Channel,
		&msg.Body,
		&msg.Status,
		&msg.Attempts,
		&msg.MaxAttempts,
		&msg.LastError,
		&msg.NextRetryAt,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query queued message: %w", err)
	}

	return &msg, nil
}

// ListFailed retrieves terminally failed messages for a tenant, newest first.
func (r *Repository) ListFailed(ctx context.Context, tenantID string, limit, offset int) ([]*QueuedMessage, error) {
	query := `
		SELECT
			id, tenant_id, target, channel, body,
			status, attempts, max_attempts, last_error, next_retry_at,
			created_at, updated_at
		FROM queued_messages
		WHERE tenant_id = $1 AND status = $2 AND attempts >= max_attempts
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, tenantID, StatusFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query failed messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		var msg QueuedMessage
		err := rows.Scan(
			&msg.ID,
			&msg.TenantID,
			&msg.Target,
			&msg.Channel,
			&msg.Body,
			&msg.Status,
			&msg.Attempts,
			&msg.MaxAttempts,
			&msg.LastError,
			&msg.NextRetryAt,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// RecordActivity bumps a conversation's last activity time and reactivates it,
// creating the row if this is the first contact from the lead.
func (r *Repository) RecordActivity(ctx context.Context, conv *Conversation) error {
	if conv.LeadID == uuid.Nil {
		conv.LeadID = uuid.New()
	}
	if conv.Channel == "" {
		conv.Channel = ChannelWhatsApp
	}

	query := `
		INSERT INTO conversations (lead_id, tenant_id, target, channel, email, neural_status, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (lead_id) DO UPDATE
		SET last_activity_at = NOW(), updated_at = NOW()
		RETURNING neural_status, last_activity_at, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		conv.LeadID,
		conv.TenantID,
		conv.Target,
		conv.Channel,
		conv.Email,
		NeuralStatusActive,
	).Scan(&conv.NeuralStatus, &conv.LastActivityAt, &conv.CreatedAt, &conv.UpdatedAt)

	if err != nil {
		return fmt.Errorf("record conversation activity: %w", err)
	}

	return nil
}

// ListStaleConversations finds active conversations with no activity since the
// cutoff and no follow-up ever scheduled. The boundary is inclusive: a
// conversation whose last activity is exactly at the cutoff is eligible.
func (r *Repository) ListStaleConversations(ctx context.Context, cutoff time.Time, limit int) ([]*Conversation, error) {
	query := `
		SELECT
			lead_id, tenant_id, target, channel, email,
			neural_status, last_activity_at, followup_sent_at,
			created_at, updated_at
		FROM conversations
		WHERE neural_status = $1
		  AND followup_sent_at IS NULL
		  AND last_activity_at <= $2
		ORDER BY last_activity_at ASC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, NeuralStatusActive, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var conv Conversation
		err := rows.Scan(
			&conv.LeadID,
			&conv.TenantID,
			&conv.Target,
			&conv.Channel,
			&conv.Email,
			&conv.NeuralStatus,
			&conv.LastActivityAt,
			&conv.FollowupSentAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, &conv)
	}

	return conversations, rows.Err()
}

// MarkGhosted flips a conversation to ghosted. followupSentAt is set only when
// the follow-up was delivered directly; a queued follow-up leaves it null but
// the ghosted status alone removes the conversation from future scans.
func (r *Repository) MarkGhosted(ctx context.Context, leadID uuid.UUID, followupSentAt *time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE conversations
		SET neural_status = $1, followup_sent_at = $2, updated_at = NOW()
		WHERE lead_id = $3
	`, NeuralStatusGhosted, followupSentAt, leadID)
	if err != nil {
		return fmt.Errorf("mark conversation ghosted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation not found: %s", leadID)
	}

	r.logger.Info("conversation ghosted",
		zap.String("lead_id", leadID.String()),
		zap.Bool("followup_delivered", followupSentAt != nil),
	)

	return nil
}

// GetConversation retrieves a conversation by lead ID
func (r *Repository) GetConversation(ctx context.Context, leadID uuid.UUID) (*Conversation, error) {
	query := `
		SELECT
			lead_id, tenant_id, target, channel, email,
			neural_status, last_activity_at, followup_sent_at,
			created_at, updated_at
		FROM conversations
		WHERE lead_id = $1
	`

	var conv Conversation
	err := r.db.Pool().QueryRow(ctx, query, leadID).Scan(
		&conv.LeadID,
		&conv.TenantID,
		&conv.Target,
		&conv.Channel,
		&conv.Email,
		&conv.NeuralStatus,
		&conv.LastActivityAt,
		&conv.FollowupSentAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("conversation not found: %s", leadID)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	return &conv, nil
}
