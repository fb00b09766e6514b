package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SelaCrow/habit-forge/config"
	"go.uber.org/zap"
)

const systemPrompt = "You are a creative quest designer for a productivity RPG app."

const formatRules = `**Format exactly like this:**
[Short quest title that ends with either a period (.), exclamation mark (!), or colon (:)]
Description: [One to two whimsical, playful sentences encouraging action.]

**Important:**
- The quest title MUST end in a period, exclamation mark, or colon.
- Do NOT use quotation marks around the title or description.
- The description should be a full sentence, but do not repeat the title in it.`

// OpenAIClient calls a chat-completions endpoint to generate quest text.
type OpenAIClient struct {
	cfg    config.GeneratorConfig
	httpc  *http.Client
	logger *zap.Logger
}

// NewOpenAIClient creates a client for the configured chat-completions API.
func NewOpenAIClient(cfg config.GeneratorConfig, logger *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateDaily invents a daily quest for the given flavor and class.
func (c *OpenAIClient) GenerateDaily(ctx context.Context, flavor, class string) (string, error) {
	prompt := fmt.Sprintf(
		"Write a productivity task as a quest in a %s style for a %s character. "+
			"Make it funny, creative, and only 1 to 2 sentences long.\n\n%s",
		strings.ToLower(flavor), class, formatRules)
	return c.complete(ctx, prompt)
}

// Flavorize rewrites a raw user task as a quest narrative.
func (c *OpenAIClient) Flavorize(ctx context.Context, task, flavor, class string) (string, error) {
	prompt := fmt.Sprintf(
		"Rewrite the following productivity task as a quest in a %s style for a %s character. "+
			"Make it funny, creative, and only 1 to 2 sentences long.\n\n%s\n\nTask: %q",
		strings.ToLower(flavor), class, formatRules, task)
	return c.complete(ctx, prompt)
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.9,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("generator: bad response: %w", err)
	}
	if parsed.Error != nil {
		c.logger.Warn("generator API error", zap.String("message", parsed.Error.Message))
		return "", fmt.Errorf("generator: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generator: empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
