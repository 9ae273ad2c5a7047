// Package gateway wraps a completion provider with session reuse, a fixed
// call timeout and failure classification.
package gateway

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/completion"
	registrysession "github.com/chirino/chat-service/internal/registry/session"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Result is a successful completion.
type Result struct {
	Text          string
	TokenEstimate int
}

// Gateway produces assistant replies for conversations.
type Gateway struct {
	provider completion.Provider
	sessions registrysession.Cache
	timeout  time.Duration
}

// New builds a Gateway. A non-positive timeout uses DefaultTimeout.
func New(provider completion.Provider, sessions registrysession.Cache, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{provider: provider, sessions: sessions, timeout: timeout}
}

// Complete generates the reply to userText. history holds the persisted
// messages preceding userText (oldest first) and only seeds a new session
// when none is cached for the conversation.
//
// Callers must hold the conversation's lock. On any failure the cached session
// is dropped and a *completion.FailureError is returned.
func (g *Gateway) Complete(ctx context.Context, conversationID uuid.UUID, userText string, history []model.Message) (*Result, error) {
	sess, ok := g.sessions.Get(conversationID)
	if ok {
		countCache(true)
	} else {
		countCache(false)
		sess = g.sessions.CreateFrom(conversationID, completion.TurnsFromMessages(history))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := sess.Send(callCtx, userText)
	if security.CompletionLatency != nil {
		security.CompletionLatency.Observe(time.Since(start).Seconds())
	}
	if err == nil && callCtx.Err() != nil {
		// Reply arrived after the deadline; treat as timed out.
		err = callCtx.Err()
	}
	if err != nil {
		g.sessions.Invalidate(conversationID)
		kind := Classify(err)
		countOutcome(g.provider.Name(), string(kind))
		log.Warn("Completion failed", "conversationId", conversationID, "provider", g.provider.Name(), "kind", kind, "err", err)
		return nil, &completion.FailureError{Kind: kind, Err: err}
	}

	countOutcome(g.provider.Name(), "ok")
	return &Result{Text: text, TokenEstimate: EstimateTokens(text)}, nil
}

// Invalidate drops the cached session for the conversation. Callers must hold
// the conversation's lock.
func (g *Gateway) Invalidate(conversationID uuid.UUID) {
	g.sessions.Invalidate(conversationID)
}

// Classify maps a provider error onto a failure kind.
func Classify(err error) completion.FailureKind {
	var fe *completion.FailureError
	switch {
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, completion.ErrContentFiltered):
		return completion.FailureContentFiltered
	case errors.Is(err, completion.ErrQuotaExceeded):
		return completion.FailureQuotaExceeded
	case errors.Is(err, context.DeadlineExceeded):
		return completion.FailureTimeout
	default:
		return completion.FailureUnknown
	}
}

// EstimateTokens approximates token usage as ceil(characters / 4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

func countCache(hit bool) {
	if hit {
		if security.SessionCacheHitsTotal != nil {
			security.SessionCacheHitsTotal.Inc()
		}
		return
	}
	if security.SessionCacheMissesTotal != nil {
		security.SessionCacheMissesTotal.Inc()
	}
}

func countOutcome(provider, outcome string) {
	if security.CompletionsTotal != nil {
		security.CompletionsTotal.WithLabelValues(provider, outcome).Inc()
	}
}
