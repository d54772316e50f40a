package bridge

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/auraops/relay/internal/channel"
)

type sendCall struct {
	channel string
	target  string
	body    string
}

// routeSender fails every channel listed in failing.
type routeSender struct {
	failing map[string]error
	calls   []sendCall
}

func (r *routeSender) Send(ctx context.Context, channelName, target, body string) (*channel.Result, error) {
	r.calls = append(r.calls, sendCall{channelName, target, body})
	if err, ok := r.failing[channelName]; ok {
		return nil, err
	}
	return &channel.Result{MessageID: "prov-" + channelName}, nil
}

func strPtr(s string) *string { return &s }

func TestDeliverPrimarySucceeds(t *testing.T) {
	sender := &routeSender{}
	b := New(sender, zap.NewNop())

	d, err := b.Deliver(context.Background(), Request{
		Channel: channel.ChannelWhatsApp,
		Target:  "whatsapp:+15551234567",
		Body:    "payment received",
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if d.ChannelUsed != channel.ChannelWhatsApp || d.FellBack {
		t.Errorf("delivery = %+v, want primary whatsapp", d)
	}
	if len(sender.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(sender.calls))
	}
}

func TestDeliverWhatsAppFallsBackToSMS(t *testing.T) {
	sender := &routeSender{failing: map[string]error{
		channel.ChannelWhatsApp: errors.New("circuit breaker is open"),
	}}
	b := New(sender, zap.NewNop())

	d, err := b.Deliver(context.Background(), Request{
		Channel: channel.ChannelWhatsApp,
		Target:  "whatsapp:+15551234567",
		Body:    "payment received",
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if d.ChannelUsed != channel.ChannelSMS || !d.FellBack {
		t.Errorf("delivery = %+v, want sms fallback", d)
	}
	if d.Target != "+15551234567" {
		t.Errorf("fallback target = %q, whatsapp prefix must be stripped", d.Target)
	}

	if len(sender.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(sender.calls))
	}
	if sender.calls[1].body != "payment received" {
		t.Errorf("fallback body = %q, must be unchanged", sender.calls[1].body)
	}
}

func TestDeliverTelegramFallsBackToEmail(t *testing.T) {
	sender := &routeSender{failing: map[string]error{
		channel.ChannelTelegram: errors.New("bot blocked"),
	}}
	b := New(sender, zap.NewNop())

	d, err := b.Deliver(context.Background(), Request{
		Channel: channel.ChannelTelegram,
		Target:  "987654",
		Email:   strPtr("lead@example.com"),
		Body:    "thanks for your payment",
	})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if d.ChannelUsed != channel.ChannelEmail || d.Target != "lead@example.com" {
		t.Errorf("delivery = %+v, want email fallback", d)
	}
}

func TestDeliverTelegramWithoutEmailFails(t *testing.T) {
	sender := &routeSender{failing: map[string]error{
		channel.ChannelTelegram: errors.New("bot blocked"),
	}}
	b := New(sender, zap.NewNop())

	_, err := b.Deliver(context.Background(), Request{
		Channel: channel.ChannelTelegram,
		Target:  "987654",
		Body:    "hi",
	})
	if err == nil {
		t.Fatal("Deliver() should fail when telegram has no email on file")
	}
	if len(sender.calls) != 1 {
		t.Errorf("calls = %d, want 1 (no fallback attempted)", len(sender.calls))
	}
}

func TestDeliverSMSHasNoFallback(t *testing.T) {
	sender := &routeSender{failing: map[string]error{
		channel.ChannelSMS: errors.New("sns down"),
	}}
	b := New(sender, zap.NewNop())

	if _, err := b.Deliver(context.Background(), Request{
		Channel: channel.ChannelSMS,
		Target:  "+15551234567",
		Body:    "hi",
	}); err == nil {
		t.Fatal("Deliver() should fail, sms has no fallback route")
	}
}

func TestDeliverBothLegsFail(t *testing.T) {
	sender := &routeSender{failing: map[string]error{
		channel.ChannelWhatsApp: errors.New("twilio down"),
		channel.ChannelSMS:      errors.New("sns down"),
	}}
	b := New(sender, zap.NewNop())

	_, err := b.Deliver(context.Background(), Request{
		Channel: channel.ChannelWhatsApp,
		Target:  "+15551234567",
		Body:    "hi",
	})
	if err == nil {
		t.Fatal("Deliver() should fail when both legs fail")
	}
	if len(sender.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(sender.calls))
	}
}
