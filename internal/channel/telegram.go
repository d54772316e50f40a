package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	BotToken string
	BaseURL  string // overridden in tests
}

// TelegramSender delivers messages through the Telegram Bot API. Targets are
// chat ids.
type TelegramSender struct {
	cfg    TelegramConfig
	client *http.Client
	logger *zap.Logger
}

// NewTelegramSender creates a Telegram sender.
func NewTelegramSender(cfg TelegramConfig, logger *zap.Logger) *TelegramSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = telegramBaseURL
	}
	return &TelegramSender{
		cfg:    cfg,
		client: &http.Client{Timeout: sendTimeout},
		logger: logger,
	}
}

type telegramRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (s *TelegramSender) Send(ctx context.Context, target, body string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	payload, err := json.Marshal(telegramRequest{ChatID: target, Text: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal telegram request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.BaseURL, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read telegram response: %w", err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("invalid telegram response (status %d): %w", resp.StatusCode, err)
	}

	if !tr.OK {
		return nil, fmt.Errorf("telegram error: %s (http %d)", tr.Description, resp.StatusCode)
	}

	s.logger.Info("telegram message sent",
		zap.String("chat_id", target),
		zap.Int64("message_id", tr.Result.MessageID),
	)

	return &Result{MessageID: strconv.FormatInt(tr.Result.MessageID, 10)}, nil
}

func (s *TelegramSender) Channel() string {
	return ChannelTelegram
}
