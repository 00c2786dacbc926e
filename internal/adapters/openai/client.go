// Package openai implements the classifier and notifier collaborators
// against any OpenAI-compatible chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/core"
)

// chatMessage is one turn in a chat completions conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape returned by the endpoint.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client implements core.Classifier and core.Notifier.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	background   string
	instructions string
	httpClient   *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client from configuration.
func NewClient(cfg config.ClassifierConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		background:   cfg.Background,
		instructions: cfg.Instructions,
		httpClient:   &http.Client{Timeout: timeout},
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.openai.com/v1"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// routerVerdict is the structured output the classifier prompt demands.
type routerVerdict struct {
	Classification string `json:"classification"`
	Reasoning      string `json:"reasoning"`
}

func routerResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "triage_verdict",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"classification":{"type":"string","enum":["ignore","notify","respond"]},
					"reasoning":{"type":"string"}
				},
				"required":["classification","reasoning"]
			}`),
		},
	}
}

// Classify decides the triage category for a message.
func (c *Client) Classify(ctx context.Context, req core.ClassifyRequest) (*core.ClassifyResult, error) {
	system := "You triage Slack messages for a busy engineer. Classify each message as " +
		"ignore (no action needed), notify (the engineer should see it but no reply is needed), " +
		"or respond (a reply is required)."
	if c.background != "" {
		system += "\n\nTeam background: " + c.background
	}
	if c.instructions != "" {
		system += "\n\nRouting instructions: " + c.instructions
	}

	user := fmt.Sprintf("Channel: %s\nSender: %s\nMessage: %s", req.Channel, req.Sender, req.Message)

	raw, err := c.chat(ctx, system, user, routerResponseFormat())
	if err != nil {
		return nil, core.ErrClassifierUnavailable(err)
	}

	var verdict routerVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, core.ErrClassifierUnavailable(fmt.Errorf("decode verdict: %w", err))
	}

	class := core.Classification(verdict.Classification)
	if !core.ValidClassification(class) {
		return nil, core.ErrState(core.CodeUnknownClassification,
			"classifier returned unknown category "+verdict.Classification)
	}

	return &core.ClassifyResult{
		Classification: class,
		Rationale:      verdict.Reasoning,
	}, nil
}

// ComposeNotification produces a short summary for a notify-classified message.
func (c *Client) ComposeNotification(ctx context.Context, nc core.NotificationContext) (string, error) {
	system := "You write one-line Slack notifications for a busy engineer. " +
		"Summarize why the message deserves their attention. Be concrete and under 30 words."
	if c.background != "" {
		system += "\n\nTeam background: " + c.background
	}

	user := fmt.Sprintf("Channel: %s\nSender: %s\nMessage: %s\nTriage rationale: %s",
		nc.Channel, nc.Sender, nc.Message, nc.Rationale)

	text, err := c.chat(ctx, system, user, nil)
	if err != nil {
		return "", core.ErrNotifierUnavailable(err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) chat(ctx context.Context, system, user string, format *responseFormat) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

// Verify interface compliance.
var (
	_ core.Classifier = (*Client)(nil)
	_ core.Notifier   = (*Client)(nil)
)
