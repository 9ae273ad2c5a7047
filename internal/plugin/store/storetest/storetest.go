// Package storetest holds behavior tests shared by every ChatStore backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a store backed by a fresh, migrated database.
type Factory func(t *testing.T) (registrystore.ChatStore, context.Context)

// Run exercises the ChatStore contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store registrystore.ChatStore, ctx context.Context)
	}{
		{"Users", testUsers},
		{"CreateWithoutInitialMessage", testCreateWithoutInitialMessage},
		{"CreateWithInitialMessage", testCreateWithInitialMessage},
		{"Ownership", testOwnership},
		{"AppendOrdering", testAppendOrdering},
		{"RecentMessages", testRecentMessages},
		{"ListConversations", testListConversations},
		{"Rename", testRename},
		{"BootstrapTitle", testBootstrapTitle},
		{"ClearThenAppend", testClearThenAppend},
		{"SoftDelete", testSoftDelete},
		{"Eviction", testEviction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, ctx := newStore(t)
			tc.fn(t, store, ctx)
		})
	}
}

func newUser(t *testing.T, store registrystore.ChatStore, ctx context.Context) *model.User {
	t.Helper()
	name := "u" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	user, err := store.CreateUser(ctx, name, name+"@example.com", "hash")
	require.NoError(t, err)
	return user
}

func ptr(s string) *string { return &s }

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	var nf *registrystore.NotFoundError
	require.Truef(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
}

func testUsers(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user, err := store.CreateUser(ctx, "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	byEmail, err := store.FindUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
	assert.Equal(t, "hash", byEmail.PasswordHash)

	_, err = store.CreateUser(ctx, "alice", "other@example.com", "hash")
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "username", conflict.Field)

	_, err = store.CreateUser(ctx, "bob", "alice@example.com", "hash")
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)

	_, err = store.GetUser(ctx, uuid.New())
	requireNotFound(t, err)
	_, err = store.FindUserByEmail(ctx, "nobody@example.com")
	requireNotFound(t, err)
}

func testCreateWithoutInitialMessage(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)

	conv, msgs, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
	assert.Equal(t, model.StateActive, conv.State)
	assert.Empty(t, msgs)

	conv, msgs, err = store.CreateConversation(ctx, user.ID, ptr("   "))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
	assert.Empty(t, msgs)
}

func testCreateWithInitialMessage(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)

	long := strings.Repeat("abcdefghij", 8)
	conv, msgs, err := store.CreateConversation(ctx, user.ID, ptr("  "+long+"  "))
	require.NoError(t, err)
	assert.Equal(t, long[:model.MaxTitleLength], conv.Title)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, long, msgs[0].Content)

	listed, err := store.ListMessages(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, msgs[0].ID, listed[0].ID)
}

func testOwnership(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	owner := newUser(t, store, ctx)
	other := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, owner.ID, ptr("mine"))
	require.NoError(t, err)

	_, err = store.GetConversation(ctx, other.ID, conv.ID)
	requireNotFound(t, err)
	_, err = store.ListMessages(ctx, other.ID, conv.ID)
	requireNotFound(t, err)
	_, err = store.RenameConversation(ctx, other.ID, conv.ID, "stolen")
	requireNotFound(t, err)
	requireNotFound(t, store.SoftDeleteConversation(ctx, other.ID, conv.ID))
	requireNotFound(t, store.ClearConversation(ctx, other.ID, conv.ID))

	list, err := store.ListConversations(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.GetConversation(ctx, owner.ID, uuid.New())
	requireNotFound(t, err)
	_, err = store.AppendMessage(ctx, uuid.New(), model.RoleUser, "x", nil)
	requireNotFound(t, err)
}

func testAppendOrdering(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)

	tokens := 7
	var appended []model.Message
	for i := 0; i < 10; i++ {
		role := model.RoleUser
		var tk *int
		if i%2 == 1 {
			role = model.RoleAssistant
			tk = &tokens
		}
		msg, err := store.AppendMessage(ctx, conv.ID, role, fmt.Sprintf("m%d", i), tk)
		require.NoError(t, err)
		appended = append(appended, *msg)
	}

	listed, err := store.ListMessages(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	require.Len(t, listed, 10)
	for i := range listed {
		assert.Equal(t, appended[i].ID, listed[i].ID)
		assert.Equal(t, fmt.Sprintf("m%d", i), listed[i].Content)
		if i > 0 {
			assert.True(t, listed[i].CreatedAt.After(listed[i-1].CreatedAt), "timestamps must strictly increase")
		}
	}
	require.NotNil(t, listed[1].Tokens)
	assert.Equal(t, 7, *listed[1].Tokens)
	assert.Nil(t, listed[0].Tokens)

	_, err = store.AppendMessage(ctx, conv.ID, model.Role("system"), "x", nil)
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))
}

func testRecentMessages(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := store.AppendMessage(ctx, conv.ID, model.RoleUser, fmt.Sprintf("m%02d", i), nil)
		require.NoError(t, err)
	}

	recent, err := store.RecentMessages(ctx, conv.ID, 20)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	assert.Equal(t, "m05", recent[0].Content)
	assert.Equal(t, "m24", recent[19].Content)

	none, err := store.RecentMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListConversations(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	first, _, err := store.CreateConversation(ctx, user.ID, ptr("first"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, _, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	archived, _, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteConversation(ctx, user.ID, archived.ID))

	list, err := store.ListConversations(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, int64(0), list[0].MessageCount)

	// Appending moves a conversation to the front.
	time.Sleep(5 * time.Millisecond)
	_, err = store.AppendMessage(ctx, first.ID, model.RoleAssistant, "reply", nil)
	require.NoError(t, err)
	list, err = store.ListConversations(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, int64(2), list[0].MessageCount)
	assert.Equal(t, "first", list[0].Title)
}

func testRename(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)

	renamed, err := store.RenameConversation(ctx, user.ID, conv.ID, "  "+strings.Repeat("t", 70)+" ")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("t", model.MaxTitleLength), renamed.Title)

	_, err = store.RenameConversation(ctx, user.ID, conv.ID, "   ")
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))

	got, err := store.GetConversation(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, renamed.Title, got.Title)
}

func testBootstrapTitle(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, user.ID, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	changed := make([]bool, 5)
	for i := range changed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.BootstrapTitle(ctx, conv.ID, fmt.Sprintf("title %d", i))
			assert.NoError(t, err)
			changed[i] = ok
		}(i)
	}
	wg.Wait()
	count := 0
	for _, ok := range changed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "title bootstraps exactly once")

	ok, err := store.BootstrapTitle(ctx, conv.ID, "later")
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := store.GetConversation(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Title, "title "))
}

func testClearThenAppend(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, user.ID, ptr("hello"))
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, model.RoleAssistant, "hi", nil)
	require.NoError(t, err)

	require.NoError(t, store.ClearConversation(ctx, user.ID, conv.ID))
	got, err := store.GetConversation(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCleared, got.State)
	assert.Equal(t, "hello", got.Title)
	msgs, err := store.ListMessages(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = store.AppendMessage(ctx, conv.ID, model.RoleUser, "again", nil)
	require.NoError(t, err)
	got, err = store.GetConversation(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, got.State)
	msgs, err = store.ListMessages(ctx, user.ID, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testSoftDelete(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	conv, _, err := store.CreateConversation(ctx, user.ID, ptr("bye"))
	require.NoError(t, err)

	require.NoError(t, store.SoftDeleteConversation(ctx, user.ID, conv.ID))
	_, err = store.GetConversation(ctx, user.ID, conv.ID)
	requireNotFound(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, model.RoleUser, "x", nil)
	requireNotFound(t, err)
	requireNotFound(t, store.SoftDeleteConversation(ctx, user.ID, conv.ID))
	ok, err := store.BootstrapTitle(ctx, conv.ID, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testEviction(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	user := newUser(t, store, ctx)
	live, _, err := store.CreateConversation(ctx, user.ID, ptr("keep"))
	require.NoError(t, err)
	gone, _, err := store.CreateConversation(ctx, user.ID, ptr("drop"))
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteConversation(ctx, user.ID, gone.ID))

	ids, err := store.FindEvictableConversationIDs(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = store.FindEvictableConversationIDs(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	require.Contains(t, ids, gone.ID)
	require.NotContains(t, ids, live.ID)

	require.NoError(t, store.HardDeleteConversations(ctx, []uuid.UUID{gone.ID, live.ID}))
	ids, err = store.FindEvictableConversationIDs(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.NotContains(t, ids, gone.ID)

	// Only archived conversations are hard deleted.
	_, err = store.GetConversation(ctx, user.ID, live.ID)
	require.NoError(t, err)
}
