package completion

import (
	"context"
	"slices"
	"sync"

	"github.com/chirino/chat-service/internal/model"
)

// Session is a provider chat seeded with prior turns. A successful Send
// extends the history with the exchange; a failed Send leaves it unchanged.
type Session struct {
	mu       sync.Mutex
	provider Provider
	history  []Turn
	maxTurns int
}

// NewSession seeds a session. maxTurns caps the retained history; zero keeps everything.
func NewSession(provider Provider, history []Turn, maxTurns int) *Session {
	s := &Session{
		provider: provider,
		history:  slices.Clone(history),
		maxTurns: maxTurns,
	}
	s.trim()
	return s
}

// Send submits text as the next user turn and returns the reply.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := s.provider.Complete(ctx, slices.Clone(s.history), text)
	if err != nil {
		return "", err
	}
	s.history = append(s.history,
		Turn{Role: model.RoleUser, Text: text},
		Turn{Role: model.RoleAssistant, Text: reply},
	)
	s.trim()
	return reply, nil
}

// History returns a copy of the retained turns.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Session) trim() {
	if s.maxTurns > 0 && len(s.history) > s.maxTurns {
		s.history = slices.Clone(s.history[len(s.history)-s.maxTurns:])
	}
}
