// Package bridge reroutes messages to an alternate channel when the primary
// delivery fails. WhatsApp falls back to SMS on the same phone number;
// Telegram falls back to email when the conversation has an address on file.
// SMS and email have no further fallback.
package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/auraops/relay/internal/channel"
)

// Request describes one message to deliver with fallback.
type Request struct {
	Channel string  // primary channel
	Target  string  // primary address
	Email   *string // fallback address for telegram conversations
	Body    string
}

// Delivery reports which route actually carried the message.
type Delivery struct {
	ChannelUsed string `json:"channel_used"`
	Target      string `json:"target"`
	MessageID   string `json:"message_id"`
	FellBack    bool   `json:"fell_back"`
}

// Sender delivers on a single channel. Satisfied by *channel.Guarded.
type Sender interface {
	Send(ctx context.Context, channelName, target, body string) (*channel.Result, error)
}

// Bridge attempts primary delivery, then at most one fallback route.
type Bridge struct {
	sender Sender
	logger *zap.Logger
}

// New creates a fallback bridge over the given sender.
func New(sender Sender, logger *zap.Logger) *Bridge {
	return &Bridge{sender: sender, logger: logger}
}

// Deliver sends on the primary channel and, if that fails for any reason
// including an open circuit, retries once on the fallback route. Both legs
// failing returns an error carrying both causes so the caller can queue the
// message for durable retry instead.
func (b *Bridge) Deliver(ctx context.Context, req Request) (*Delivery, error) {
	result, primaryErr := b.sender.Send(ctx, req.Channel, req.Target, req.Body)
	if primaryErr == nil {
		return &Delivery{
			ChannelUsed: req.Channel,
			Target:      req.Target,
			MessageID:   result.MessageID,
		}, nil
	}

	fbChannel, fbTarget, ok := fallbackRoute(req)
	if !ok {
		return nil, fmt.Errorf("delivery on %s failed with no fallback route: %w", req.Channel, primaryErr)
	}

	b.logger.Warn("rerouting to fallback channel",
		zap.String("primary_channel", req.Channel),
		zap.String("fallback_channel", fbChannel),
		zap.Error(primaryErr),
	)

	result, fallbackErr := b.sender.Send(ctx, fbChannel, fbTarget, req.Body)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary %s failed (%v); fallback %s failed: %w",
			req.Channel, primaryErr, fbChannel, fallbackErr)
	}

	return &Delivery{
		ChannelUsed: fbChannel,
		Target:      fbTarget,
		MessageID:   result.MessageID,
		FellBack:    true,
	}, nil
}

// fallbackRoute resolves the alternate channel and address for a request.
func fallbackRoute(req Request) (string, string, bool) {
	switch req.Channel {
	case channel.ChannelWhatsApp:
		return channel.ChannelSMS, channel.StripWhatsAppPrefix(req.Target), true
	case channel.ChannelTelegram:
		if req.Email != nil && *req.Email != "" {
			return channel.ChannelEmail, *req.Email, true
		}
		return "", "", false
	default:
		return "", "", false
	}
}
