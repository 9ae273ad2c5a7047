package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/session/memory"
	"github.com/chirino/chat-service/internal/registry/completion"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }
func (echoProvider) Complete(_ context.Context, _ []completion.Turn, prompt string) (string, error) {
	return prompt, nil
}

func TestCreateGetInvalidate(t *testing.T) {
	c, err := memory.New(echoProvider{}, memory.Options{MaxEntries: 100, TTL: time.Hour, MaxTurns: 20})
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	_, ok := c.Get(id)
	assert.False(t, ok)

	created := c.CreateFrom(id, []completion.Turn{{Role: model.RoleUser, Text: "hi"}})
	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Same(t, created, got)
	assert.Len(t, got.History(), 1)

	c.Invalidate(id)
	_, ok = c.Get(id)
	assert.False(t, ok)

	// Invalidating an unknown conversation is a no-op.
	c.Invalidate(uuid.New())
}

func TestCreateFromReplaces(t *testing.T) {
	c, err := memory.New(echoProvider{}, memory.Options{MaxEntries: 100})
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	first := c.CreateFrom(id, nil)
	second := c.CreateFrom(id, []completion.Turn{{Role: model.RoleUser, Text: "x"}})
	got, ok := c.Get(id)
	require.True(t, ok)
	assert.NotSame(t, first, got)
	assert.Same(t, second, got)
}

func TestEntriesExpire(t *testing.T) {
	c, err := memory.New(echoProvider{}, memory.Options{MaxEntries: 100, TTL: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	c.CreateFrom(id, nil)
	require.Eventually(t, func() bool {
		_, ok := c.Get(id)
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}
