package apierror_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-service/internal/apierror"
	"github.com/chirino/chat-service/internal/registry/completion"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		kind   string
	}{
		{"validation", &registrystore.ValidationError{Field: "message", Message: "Message cannot be empty"}, http.StatusBadRequest, "validation_error", ""},
		{"not found", fmt.Errorf("load: %w", &registrystore.NotFoundError{Resource: "conversation", ID: "x"}), http.StatusNotFound, "not_found", ""},
		{"conflict", &registrystore.ConflictError{Message: "email already registered"}, http.StatusConflict, "conflict", ""},
		{"unauthenticated", fmt.Errorf("token expired: %w", apierror.ErrUnauthenticated), http.StatusUnauthorized, "unauthenticated", ""},
		{"rate limited", apierror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", ""},
		{"timeout", &completion.FailureError{Kind: completion.FailureTimeout}, http.StatusBadGateway, "gateway_failure", "timeout"},
		{"quota", &completion.FailureError{Kind: completion.FailureQuotaExceeded, Err: completion.ErrQuotaExceeded}, http.StatusBadGateway, "gateway_failure", "quota_exceeded"},
		{"internal", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := apierror.Classify(tc.err)
			assert.Equal(t, tc.status, p.Status)
			assert.Equal(t, tc.code, p.Code)
			assert.Equal(t, tc.kind, p.Kind)
		})
	}
}

func TestGatewayFailureHidesProviderDetail(t *testing.T) {
	p := apierror.Classify(&completion.FailureError{Kind: completion.FailureUnknown, Err: errors.New("upstream 503 secret-project-id")})
	assert.Equal(t, completion.FailureUnknown.Message(), p.Message)
	assert.NotContains(t, p.Message, "secret")
}

func TestInternalErrorIsGeneric(t *testing.T) {
	p := apierror.Classify(errors.New("dial tcp 10.0.0.3:5432"))
	assert.Equal(t, "internal server error", p.Message)
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	apierror.Respond(c, apierror.Validation("title", "Title cannot be empty"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"code": "validation_error", "error": "Title cannot be empty", "field": "title"}, body)
}
