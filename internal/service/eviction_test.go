package service

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testsqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (registrystore.ChatStore, context.Context) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = testsqlite.DSN(t)
	ctx := config.WithContext(context.Background(), &cfg)
	_ = sqlite.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	return store, ctx
}

func TestEvictionRemovesOnlyArchivedPastRetention(t *testing.T) {
	store, ctx := newStore(t)
	user, err := store.CreateUser(ctx, "alice", "alice@example.com", "hash")
	require.NoError(t, err)

	msg := "hello"
	archived, _, err := store.CreateConversation(ctx, user.ID, &msg)
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteConversation(ctx, user.ID, archived.ID))
	kept, _, err := store.CreateConversation(ctx, user.ID, &msg)
	require.NoError(t, err)

	svc := NewEvictionService(store, time.Hour, time.Minute, 1)

	// Not yet past retention.
	assert.Equal(t, 0, svc.RunOnce(ctx))

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, svc.RunOnce(ctx))
	assert.Equal(t, 0, svc.RunOnce(ctx))

	_, err = store.GetConversation(ctx, user.ID, kept.ID)
	require.NoError(t, err)
	ids, err := store.FindEvictableConversationIDs(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEvictionDisabled(t *testing.T) {
	store, _ := newStore(t)
	svc := NewEvictionService(store, 0, time.Minute, 10)
	assert.False(t, svc.Enabled())

	done := make(chan struct{})
	go func() {
		svc.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled eviction service did not return")
	}
}
