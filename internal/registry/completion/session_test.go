package completion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	seen [][]completion.Turn
	err  error
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Complete(_ context.Context, history []completion.Turn, prompt string) (string, error) {
	p.seen = append(p.seen, history)
	if p.err != nil {
		return "", p.err
	}
	return "re: " + prompt, nil
}

func TestSessionExtendsHistoryOnSuccess(t *testing.T) {
	p := &recordingProvider{}
	s := completion.NewSession(p, []completion.Turn{{Role: model.RoleUser, Text: "a"}, {Role: model.RoleAssistant, Text: "b"}}, 0)

	reply, err := s.Send(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "re: c", reply)
	require.Len(t, p.seen[0], 2)

	_, err = s.Send(context.Background(), "d")
	require.NoError(t, err)
	require.Len(t, p.seen[1], 4)
	assert.Equal(t, "re: c", p.seen[1][3].Text)
	assert.Len(t, s.History(), 6)
}

func TestSessionUnchangedOnFailure(t *testing.T) {
	p := &recordingProvider{err: errors.New("boom")}
	s := completion.NewSession(p, nil, 0)
	_, err := s.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Empty(t, s.History())
}

func TestSessionTrimsToMaxTurns(t *testing.T) {
	var seed []completion.Turn
	for i := 0; i < 30; i++ {
		seed = append(seed, completion.Turn{Role: model.RoleUser, Text: fmt.Sprint(i)})
	}
	s := completion.NewSession(&recordingProvider{}, seed, 20)
	h := s.History()
	require.Len(t, h, 20)
	assert.Equal(t, "10", h[0].Text)

	_, err := s.Send(context.Background(), "next")
	require.NoError(t, err)
	h = s.History()
	require.Len(t, h, 20)
	assert.Equal(t, "re: next", h[19].Text)
}

func TestTurnsFromMessages(t *testing.T) {
	turns := completion.TurnsFromMessages([]model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	})
	assert.Equal(t, []completion.Turn{{Role: model.RoleUser, Text: "hi"}, {Role: model.RoleAssistant, Text: "hello"}}, turns)
}

func TestFailureMessages(t *testing.T) {
	assert.Equal(t, "Request timeout. Please try again.", completion.FailureTimeout.Message())
	err := error(&completion.FailureError{Kind: completion.FailureQuotaExceeded, Err: completion.ErrQuotaExceeded})
	var fe *completion.FailureError
	require.True(t, errors.As(err, &fe))
	assert.True(t, errors.Is(err, completion.ErrQuotaExceeded))
}
