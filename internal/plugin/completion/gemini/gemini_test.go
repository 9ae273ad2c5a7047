package gemini

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
	cfg.CompletionBaseURL = srv.URL
	cfg.CompletionModel = "gemini-test"
	p, err := load(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)
	return p
}

func TestCompleteMapsRoles(t *testing.T) {
	var got generateRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"It is "},{"text":"sunny."}]},"finishReason":"STOP"}]}`))
	})

	reply, err := p.Complete(context.Background(), []registrycompletion.Turn{
		{Role: model.RoleAssistant, Text: "orphan"},
		{Role: model.RoleUser, Text: "hi"},
		{Role: model.RoleAssistant, Text: "hello"},
	}, "weather?")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", reply)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "weather?", got.Contents[2].Parts[0].Text)
}

func TestCompleteSafetyBlock(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	})
	_, err := p.Complete(context.Background(), nil, "x")
	assert.True(t, errors.Is(err, registrycompletion.ErrContentFiltered))
}

func TestCompleteQuota(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	})
	_, err := p.Complete(context.Background(), nil, "x")
	assert.True(t, errors.Is(err, registrycompletion.ErrQuotaExceeded))
}

func TestCompleteServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := p.Complete(context.Background(), nil, "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, registrycompletion.ErrQuotaExceeded))
	assert.False(t, errors.Is(err, registrycompletion.ErrContentFiltered))
}
