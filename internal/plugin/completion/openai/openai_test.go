package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrycompletion "github.com/chirino/chat-service/internal/registry/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) registrycompletion.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.CompletionAPIKey = "test-key"
	cfg.CompletionBaseURL = srv.URL + "/v1"
	cfg.CompletionModel = "gpt-test"
	p, err := load(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)
	return p
}

func TestCompleteSendsHistory(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"It is sunny."}}]}`))
	})

	reply, err := p.Complete(context.Background(), []registrycompletion.Turn{
		{Role: model.RoleUser, Text: "hi"},
		{Role: model.RoleAssistant, Text: "hello"},
	}, "weather?")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", reply)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "weather?", got.Messages[2].Content)
}

func TestCompleteQuota(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
	})
	_, err := p.Complete(context.Background(), nil, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registrycompletion.ErrQuotaExceeded))
}

func TestCompleteContentFilter(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`))
	})
	_, err := p.Complete(context.Background(), nil, "x")
	assert.True(t, errors.Is(err, registrycompletion.ErrContentFiltered))
}

func TestLoadRequiresKey(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := load(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}
