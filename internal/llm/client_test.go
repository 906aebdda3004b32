package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(content string) map[string]any {
	return map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"total_tokens": 18},
	}
}

func TestComplete_Success(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody(`{"score": 80}`))
	}))
	defer server.Close()

	var observed []error
	c := NewClient(server.URL+"/v1/", "sk-test", "gpt-test", time.Second, WithObserver(func(err error) { observed = append(observed, err) }))
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 80}`, resp.Content)
	assert.Equal(t, 18, resp.TotalTokens)
	assert.Equal(t, "gpt-test", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Equal(t, []error{nil}, observed)
}

func TestComplete_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk-test", "m", time.Second)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate limited")
}

func TestComplete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk-test", "m", 20*time.Millisecond)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.Error(t, err)
}

func TestComplete_NotConfigured(t *testing.T) {
	c := NewClient("", "", "m", 0)
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestExtractJSON(t *testing.T) {
	got, ok := ExtractJSON("Here you go:\n```json\n{\"a\": {\"b\": 1}}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}}`, got)

	_, ok = ExtractJSON("no json here")
	assert.False(t, ok)
	_, ok = ExtractJSON(strings.Repeat("{", 3))
	assert.False(t, ok)
}
