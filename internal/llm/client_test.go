package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolyte-tracking/dashboard/pkg/circuitbreaker"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeOpenAI(t *testing.T, status int, body string, seen *chatRequest, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		APIKey:      "test-key",
		BaseURL:     url + "/v1",
		Temperature: 0.3,
		MaxTokens:   500,
		Timeout:     5 * time.Second,
	})
}

func TestComplete(t *testing.T) {
	var seen chatRequest
	srv := fakeOpenAI(t, http.StatusOK, `{
		"id":"x","object":"chat.completion","model":"gpt-4o-mini",
		"choices":[{"index":0,"message":{"role":"assistant","content":"try_count: 2"}}],
		"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}
	}`, &seen, nil)

	resp, err := newTestClient(srv.URL).Complete(context.Background(), CompletionRequest{
		SystemPrompt: "sys",
		UserPrompt:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "try_count: 2", resp.Content)
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	assert.Equal(t, DefaultModel, seen.Model)
	assert.InDelta(t, 0.3, seen.Temperature, 0.0001)
	assert.Equal(t, 500, seen.MaxTokens)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "user", seen.Messages[1].Role)
	assert.Equal(t, "hello", seen.Messages[1].Content)
}

func TestComplete_NoChoices(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, `{"id":"x","choices":[],"usage":{}}`, nil, nil)

	resp, err := newTestClient(srv.URL).Complete(context.Background(), CompletionRequest{UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, NoResponse, resp.Content)
}

func TestComplete_ProviderErrorNotRetried(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, http.StatusInternalServerError,
		`{"error":{"message":"boom","type":"server_error"}}`, nil, &calls)

	_, err := newTestClient(srv.URL).Complete(context.Background(), CompletionRequest{UserPrompt: "hello"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestComplete_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, http.StatusBadGateway,
		`{"error":{"message":"bad gateway","type":"server_error"}}`, nil, &calls)
	c := newTestClient(srv.URL)

	for i := 0; i < 5; i++ {
		_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "hello"})
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), CompletionRequest{UserPrompt: "hello"})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestComplete_EmptyPrompt(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"}).Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}
