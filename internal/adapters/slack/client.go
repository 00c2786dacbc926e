// Package slack provides the outbound message sender and the Socket Mode
// ingestion listener.
package slack

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

	"github.com/sriyan983/slack-triage/internal/core"
)

const defaultAPIBase = "https://slack.com/api"

// Client talks to the Slack Web API. It implements core.Messenger.
type Client struct {
	apiBase    string
	botToken   string
	botPrefix  string
	httpClient *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithAPIBase overrides the Web API base URL, mainly for tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Web API client. Every outbound message is stamped
// with botPrefix so the ingestion listener can drop our own traffic.
func NewClient(botToken, botPrefix string, opts ...ClientOption) (*Client, error) {
	if botToken == "" {
		return nil, errors.New("slack: bot token must not be empty")
	}
	if botPrefix == "" {
		return nil, errors.New("slack: bot prefix must not be empty")
	}
	c := &Client{
		apiBase:    defaultAPIBase,
		botToken:   botToken,
		botPrefix:  botPrefix,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiResponse is the common Slack Web API envelope.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// Send posts a message, prefixed with the bot marker, optionally as a
// thread reply.
func (c *Client) Send(ctx context.Context, msg core.OutboundMessage) error {
	text := msg.Text
	if !strings.HasPrefix(text, c.botPrefix) {
		text = c.botPrefix + " " + text
	}

	body, err := json.Marshal(postMessageRequest{
		Channel:  msg.Channel,
		Text:     text,
		ThreadTS: msg.ThreadTS,
	})
	if err != nil {
		return fmt.Errorf("slack: marshal postMessage: %w", err)
	}

	resp, err := c.call(ctx, "chat.postMessage", body)
	if err != nil {
		return core.ErrDispatchFailed(msg.Channel, err)
	}
	if !resp.OK {
		return core.ErrDispatchFailed(msg.Channel, fmt.Errorf("slack API error: %s", resp.Error))
	}
	return nil
}

// AuthTest verifies the bot token and returns the bot's user ID.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/auth.test", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()

	var payload struct {
		apiResponse
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("slack: decode auth.test: %w", err)
	}
	if !payload.OK {
		return "", fmt.Errorf("slack: auth.test failed: %s", payload.Error)
	}
	return payload.UserID, nil
}

// BotPrefix returns the outbound marker the client stamps on messages.
func (c *Client) BotPrefix() string {
	return c.botPrefix
}

func (c *Client) call(ctx context.Context, method string, body []byte) (*apiResponse, error) {
	url := c.apiBase + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d from %s: %s", res.StatusCode, url, string(buf))
	}

	var payload apiResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &payload, nil
}

var _ core.Messenger = (*Client)(nil)
