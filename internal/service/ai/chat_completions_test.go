package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletionsGenerateSuccess(t *testing.T) {
	var seen completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "https://example.test", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "botdialog", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there"}}]}`))
	}))
	defer server.Close()

	gen := NewChatCompletions(server.URL+"/api/v1/chat/completions", "test-key", "anthropic/claude-3-opus",
		WithAppInfo("https://example.test", "botdialog"))

	reply, err := gen.Generate(context.Background(), "You are a pirate.", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	assert.Equal(t, "anthropic/claude-3-opus", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: "You are a pirate."}, seen.Messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "Hello"}, seen.Messages[1])
}

func TestChatCompletionsGenerateFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "non-success status", status: http.StatusTooManyRequests, body: `{"error":{"message":"rate limited"}}`, wantMsg: "rate limited"},
		{name: "plain text error", status: http.StatusBadGateway, body: "upstream down", wantMsg: "upstream down"},
		{name: "malformed body", status: http.StatusOK, body: `{"choices":`, wantMsg: "decode response"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantMsg: "no choices"},
		{name: "empty content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"  "}}]}`, wantMsg: "no content"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			gen := NewChatCompletions(server.URL, "k", "m")
			_, err := gen.Generate(context.Background(), "", "hi")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestChatCompletionsStatusErrorIsExposed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewChatCompletions(server.URL, "bad", "m").Generate(context.Background(), "", "hi")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestChatCompletionsHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewChatCompletions(server.URL, "k", "m").Generate(ctx, "", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChatCompletionsRequiresModel(t *testing.T) {
	_, err := NewChatCompletions("http://127.0.0.1:0", "k", "").Generate(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestNewChatCompletionsDefaultEndpoint(t *testing.T) {
	gen := NewChatCompletions("", "k", "m")
	assert.Equal(t, DefaultEndpoint, gen.endpoint)
}
