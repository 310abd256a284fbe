package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a client pointing at a local test server.
func newTestClient(baseURL string) Client {
	return NewClient("test-key", option.WithBaseURL(baseURL))
}

func writeMessage(w http.ResponseWriter, id, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":   id,
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     3,
		},
	})
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		writeMessage(w, "msg_test_001", `{"isEvent":true}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		System:    BuildCachedSystemBlocks("classify"),
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"isEvent":true}`, resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(3), resp.Usage.CacheReadInputTokens)
}

func TestSDKClient_CreateMessage_ImageBlock(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type   string `json:"type"`
				Text   string `json:"text"`
				Source struct {
					Type string `json:"type"`
					URL  string `json:"url"`
				} `json:"source"`
			} `json:"content"`
		} `json:"messages"`
		System []struct {
			Text         string `json:"text"`
			CacheControl struct {
				Type string `json:"type"`
			} `json:"cache_control"`
		} `json:"system"`
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeMessage(w, "msg_img", "{}")
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 256,
		System:    BuildCachedSystemBlocks("look at the poster"),
		Messages: []Message{{
			Role:      "user",
			Content:   "what is this?",
			ImageURLs: []string{"https://cdn.example.com/events/poster.jpg"},
		}},
	})
	require.NoError(t, err)

	require.Len(t, body.Messages, 1)
	content := body.Messages[0].Content
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].Type)
	assert.Equal(t, "url", content[0].Source.Type)
	assert.Equal(t, "https://cdn.example.com/events/poster.jpg", content[0].Source.URL)
	assert.Equal(t, "text", content[1].Type)
	assert.Equal(t, "what is this?", content[1].Text)

	require.Len(t, body.System, 1)
	assert.Equal(t, "ephemeral", body.System[0].CacheControl.Type)
}

func TestSDKClient_CreateMessage_RateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("retry-after", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, 12*time.Second, apiErr.RetryAfter)
}

func TestSDKClient_CreateMessage_ServerError(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "Internal server error"},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "sdk retries are disabled")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Zero(t, apiErr.RetryAfter)
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after-ms", "1500")
	h.Set("retry-after", "9")
	assert.Equal(t, 1500*time.Millisecond, retryAfter(h))

	h = http.Header{}
	h.Set("retry-after", "2")
	assert.Equal(t, 2*time.Second, retryAfter(h))

	assert.Zero(t, retryAfter(http.Header{}))
}

func TestSDKClient_CreateMessage_ForcedTool(t *testing.T) {
	var body struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"input_schema"`
		} `json:"tools"`
		ToolChoice struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"tool_choice"`
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_tool",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "tool_use", "id": "toolu_1", "name": "classify", "input": map[string]any{"isEvent": true}},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 256,
		Messages:  []Message{{Role: "user", Content: "classify this"}},
		Tool: &Tool{
			Name:        "classify",
			Description: "Report the classification",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"isEvent":{"type":"boolean"}},"required":["isEvent"],"additionalProperties":false}`),
		},
	})
	require.NoError(t, err)

	require.Len(t, body.Tools, 1)
	assert.Equal(t, "classify", body.Tools[0].Name)
	assert.Equal(t, "Report the classification", body.Tools[0].Description)
	assert.Equal(t, "object", body.Tools[0].InputSchema["type"])
	assert.Equal(t, []any{"isEvent"}, body.Tools[0].InputSchema["required"])
	assert.Equal(t, false, body.Tools[0].InputSchema["additionalProperties"])
	assert.Equal(t, "tool", body.ToolChoice.Type)
	assert.Equal(t, "classify", body.ToolChoice.Name)

	input, ok := resp.ToolInput("classify")
	require.True(t, ok)
	assert.JSONEq(t, `{"isEvent":true}`, string(input))
}

func TestSDKClient_CreateMessage_BadToolSchema(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:    "claude-haiku-4-5-20251001",
		Messages: []Message{{Role: "user", Content: "x"}},
		Tool:     &Tool{Name: "classify", InputSchema: json.RawMessage(`not json`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool classify schema")
}
