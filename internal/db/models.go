package db

import (
	"time"

	"github.com/google/uuid"
)

// QueuedMessage is one unit of outbound work held in the durable retry queue.
type QueuedMessage struct {
	ID          uuid.UUID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Target      string    `json:"target"`
	Channel     string    `json:"channel"`
	Body        string    `json:"body"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   *string   `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status constants. A message is created pending, claimed into processing,
// and either deleted on delivery, returned to pending for a retry, or parked
// as failed once attempts reach max_attempts. failed + exhausted is terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// Channel constants
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
)

// DefaultMaxAttempts is applied when a message is enqueued without one.
const DefaultMaxAttempts = 3

// Conversation tracks per-lead engagement for the stale conversation detector.
type Conversation struct {
	LeadID         uuid.UUID  `json:"lead_id"`
	TenantID       string     `json:"tenant_id"`
	Target         string     `json:"target"`
	Channel        string     `json:"channel"`
	Email          *string    `json:"email,omitempty"`
	NeuralStatus   string     `json:"neural_status"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	FollowupSentAt *time.Time `json:"followup_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Conversation engagement states
const (
	NeuralStatusActive  = "active"
	NeuralStatusGhosted = "ghosted"
)
