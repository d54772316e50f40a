// Package channel provides the outbound delivery adapters. Each adapter
// wraps exactly one provider API call with a bounded timeout and no internal
// retries; retry policy belongs to the dispatch queue, failure isolation to
// the circuit breakers.
package channel

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Channel names as stored on queued messages and conversations.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
)

// sendTimeout bounds every provider call. Adapters must not retry
// internally; a hung provider should surface as a single failed attempt.
const sendTimeout = 10 * time.Second

// Result carries the provider-assigned identifier of a delivered message.
type Result struct {
	MessageID string
}

// Sender is the unified interface for all delivery channels.
// Implementations: WhatsApp (Twilio), SMS (SNS), Telegram (Bot API),
// Email (SES).
type Sender interface {
	Send(ctx context.Context, target, body string) (*Result, error)
	Channel() string
}

// ServiceName maps a channel to the downstream service identity used for
// circuit breaking. Distinct channels on the same provider still get their
// own circuit so a WhatsApp outage does not blind SMS.
func ServiceName(channel string) string {
	switch channel {
	case ChannelWhatsApp:
		return "twilio-whatsapp"
	case ChannelSMS:
		return "sns-sms"
	case ChannelTelegram:
		return "telegram-bot"
	case ChannelEmail:
		return "ses-email"
	default:
		return channel
	}
}

// Registry routes sends to the adapter registered for a channel.
type Registry struct {
	senders map[string]Sender
	logger  *zap.Logger
}

// NewRegistry creates a registry over the given senders.
func NewRegistry(logger *zap.Logger, senders ...Sender) *Registry {
	reg := &Registry{
		senders: make(map[string]Sender, len(senders)),
		logger:  logger,
	}
	for _, s := range senders {
		reg.senders[s.Channel()] = s
	}
	return reg
}

// Register adds or replaces the adapter for a channel.
func (r *Registry) Register(s Sender) {
	r.senders[s.Channel()] = s
}

// Get returns the adapter for a channel.
func (r *Registry) Get(channel string) (Sender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel: %s", channel)
	}
	return s, nil
}

// Channels lists the registered channel names.
func (r *Registry) Channels() []string {
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	return out
}

// LogSender logs messages instead of delivering them (for development).
type LogSender struct {
	channel string
	logger  *zap.Logger
}

// NewLogSender creates a log-only sender for the given channel.
func NewLogSender(channel string, logger *zap.Logger) *LogSender {
	return &LogSender{channel: channel, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, target, body string) (*Result, error) {
	s.logger.Info("logging message (development mode)",
		zap.String("channel", s.channel),
		zap.String("target", target),
		zap.Int("body_length", len(body)),
	)
	return &Result{MessageID: fmt.Sprintf("log-%d", time.Now().UnixNano())}, nil
}

func (s *LogSender) Channel() string {
	return s.channel
}
