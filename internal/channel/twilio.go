package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds the Twilio API credentials for WhatsApp delivery.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string // E.164 number enabled for WhatsApp
	BaseURL    string // overridden in tests
}

// TwilioSender delivers WhatsApp messages through the Twilio Messages API.
type TwilioSender struct {
	cfg    TwilioConfig
	client *http.Client
	logger *zap.Logger
}

// NewTwilioSender creates a WhatsApp sender backed by Twilio.
func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioBaseURL
	}
	return &TwilioSender{
		cfg:    cfg,
		client: &http.Client{Timeout: sendTimeout},
		logger: logger,
	}
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts one message to Twilio. The whatsapp: prefix is added to both
// endpoints if missing, so targets may be stored as bare E.164 numbers.
func (s *TwilioSender) Send(ctx context.Context, target, body string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("From", ensureWhatsAppPrefix(s.cfg.FromNumber))
	form.Set("To", ensureWhatsAppPrefix(target))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, s.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create twilio request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read twilio response: %w", err)
	}

	var tr twilioResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("invalid twilio response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("twilio error %d: %s (http %d)", tr.Code, tr.Message, resp.StatusCode)
	}

	s.logger.Info("whatsapp message sent",
		zap.String("sid", tr.SID),
		zap.String("status", tr.Status),
	)

	return &Result{MessageID: tr.SID}, nil
}

func (s *TwilioSender) Channel() string {
	return ChannelWhatsApp
}

func ensureWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// StripWhatsAppPrefix converts a WhatsApp address back to a bare phone
// number, for rerouting to SMS.
func StripWhatsAppPrefix(number string) string {
	return strings.TrimPrefix(number, "whatsapp:")
}
