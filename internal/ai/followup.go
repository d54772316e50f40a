// Package ai generates follow-up copy for stale conversations through an
// OpenAI-compatible chat completions endpoint, degrading to a canned
// template when no API key is configured or the model call fails.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 15 * time.Second
)

// followupTemplate is the deterministic fallback. It must read naturally on
// every channel, including plain SMS.
const followupTemplate = "Hey! Just checking in - I know things get busy. Still interested? Happy to pick up where we left off."

// Lead describes the conversation the follow-up is written for.
type Lead struct {
	TenantID     string
	Channel      string
	DaysInactive int
}

// Config holds the generator settings.
type Config struct {
	APIKey  string // empty disables model calls entirely
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Generator produces follow-up message bodies.
type Generator struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewGenerator creates a follow-up generator.
func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Followup returns the body for a re-engagement message. Model failures are
// logged and absorbed; the caller always gets usable copy.
func (g *Generator) Followup(ctx context.Context, lead Lead) string {
	if g.cfg.APIKey == "" {
		return followupTemplate
	}

	body, err := g.generate(ctx, lead)
	if err != nil {
		g.logger.Warn("follow-up generation failed, using template",
			zap.Error(err),
			zap.String("tenant_id", lead.TenantID),
		)
		return followupTemplate
	}
	return body
}

func (g *Generator) generate(ctx context.Context, lead Lead) (string, error) {
	prompt := fmt.Sprintf(
		"Write a short, friendly re-engagement message for a sales lead who went quiet %d days ago. "+
			"It will be sent over %s, so keep it under 300 characters, no links, no subject line. "+
			"Do not sound desperate or pushy.",
		lead.DaysInactive, lead.Channel,
	)

	payload, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write concise, warm outreach messages."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   120,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("invalid chat response (status %d): %w", resp.StatusCode, err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("chat api error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat response content empty")
	}
	return content, nil
}
