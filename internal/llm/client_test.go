package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func newTestClient(baseURL string, retries int) *Client {
	return New(Config{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "test-model",
		MaxRetries: retries,
	}, zap.NewNop())
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req["model"])
		require.Len(t, req["messages"], 2)
		rf, ok := req["response_format"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "json_object", rf["type"])

		_, _ = w.Write([]byte(completionBody(`{"ok": true}`)))
	}))
	defer srv.Close()

	text, err := newTestClient(srv.URL, 0).Complete(context.Background(), "sys", "user", true)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok": true}`, text)
}

func TestCompleteRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completionBody("recovered")))
	}))
	defer srv.Close()

	text, err := newTestClient(srv.URL, 2).Complete(context.Background(), "sys", "user", false)
	require.NoError(t, err)
	require.Equal(t, "recovered", text)
	require.Equal(t, int32(2), calls.Load())
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Complete(context.Background(), "sys", "user", false)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestCompleteUnconfigured(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	require.False(t, c.Configured())
	_, err := c.Complete(context.Background(), "sys", "user", false)
	require.Error(t, err)
}

func TestStripFences(t *testing.T) {
	require.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, StripFences("{\"a\":1}"))
}
