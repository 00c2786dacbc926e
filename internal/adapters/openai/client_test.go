package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/core"
)

func testConfig(baseURL string) config.ClassifierConfig {
	return config.ClassifierConfig{
		BaseURL: baseURL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}
}

func chatServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.APIKey = ""
	_, err := NewClient(cfg)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req chatRequest) {
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.NotNil(t, req.ResponseFormat)
		require.Equal(t, "json_schema", req.ResponseFormat.Type)
		_, _ = w.Write([]byte(completion(`{"classification":"respond","reasoning":"direct question to the engineer"}`)))
	})
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	result, err := c.Classify(context.Background(), core.ClassifyRequest{
		Channel: "C1",
		Sender:  "U1",
		Message: "can you sign off on the release?",
	})
	require.NoError(t, err)
	require.Equal(t, core.ClassificationRespond, result.Classification)
	require.Equal(t, "direct question to the engineer", result.Rationale)
}

func TestClassify_UpstreamDownIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), core.ClassifyRequest{Channel: "C1", Sender: "U1", Message: "hi"})
	require.Error(t, err)
	require.True(t, core.IsRetryable(err), "collaborator outage must be retryable")
	require.True(t, core.IsCategory(err, core.ErrCatUnavailable))
}

func TestClassify_UnknownCategoryIsNotRetryable(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req chatRequest) {
		_, _ = w.Write([]byte(completion(`{"classification":"escalate","reasoning":"?"}`)))
	})
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), core.ClassifyRequest{Channel: "C1", Sender: "U1", Message: "hi"})
	require.Error(t, err)
	require.False(t, core.IsRetryable(err))
	require.True(t, core.IsCategory(err, core.ErrCatState))
}

func TestClassify_BackgroundInPrompt(t *testing.T) {
	var gotSystem string
	srv := chatServer(t, func(w http.ResponseWriter, req chatRequest) {
		gotSystem = req.Messages[0].Content
		_, _ = w.Write([]byte(completion(`{"classification":"ignore","reasoning":"chatter"}`)))
	})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Background = "We run the payments platform."
	cfg.Instructions = "Always respond to release questions."
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), core.ClassifyRequest{Channel: "C1", Sender: "U1", Message: "lunch?"})
	require.NoError(t, err)
	require.Contains(t, gotSystem, "payments platform")
	require.Contains(t, gotSystem, "release questions")
}

func TestComposeNotification(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req chatRequest) {
		require.Nil(t, req.ResponseFormat)
		_, _ = w.Write([]byte(completion("  Deploy window moved to 3pm, no action needed.\n")))
	})
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	text, err := c.ComposeNotification(context.Background(), core.NotificationContext{
		Channel:        "C1",
		Sender:         "U1",
		Message:        "deploy window moved",
		Classification: core.ClassificationNotify,
		Rationale:      "schedule change",
	})
	require.NoError(t, err)
	require.Equal(t, "Deploy window moved to 3pm, no action needed.", text)
}

func TestComposeNotification_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.ComposeNotification(context.Background(), core.NotificationContext{Channel: "C1"})
	require.Error(t, err)
	require.True(t, core.IsRetryable(err))
}
