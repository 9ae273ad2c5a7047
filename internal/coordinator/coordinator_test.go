package coordinator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/coordinator"
	"github.com/chirino/chat-service/internal/gateway"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/session/memory"
	"github.com/chirino/chat-service/internal/plugin/store/sqlite"
	"github.com/chirino/chat-service/internal/registry/completion"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/rooms"
	"github.com/chirino/chat-service/internal/testutil/testsqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu       sync.Mutex
	reply    func(prompt string) (string, error)
	started  chan struct{}
	release  chan struct{}
	prompts  []string
	contexts [][]completion.Turn
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, history []completion.Turn, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.contexts = append(p.contexts, append([]completion.Turn(nil), history...))
	p.mu.Unlock()
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.reply == nil {
		return "ok:" + prompt, nil
	}
	return p.reply(prompt)
}

type published struct {
	event  string
	except string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Broadcast(_ context.Context, _ uuid.UUID, event string, _ any, except string) error {
	r.mu.Lock()
	r.events = append(r.events, published{event: event, except: except})
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

type harness struct {
	ctx       context.Context
	store     registrystore.ChatStore
	cache     *memory.Cache
	provider  *stubProvider
	publisher *recordingPublisher
	coord     *coordinator.Coordinator
}

func newHarness(t *testing.T, p *stubProvider, timeout time.Duration) *harness {
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
	return newHarnessWithStore(t, ctx, store, p, timeout)
}

func newHarnessWithStore(t *testing.T, ctx context.Context, store registrystore.ChatStore, p *stubProvider, timeout time.Duration) *harness {
	t.Helper()
	cache, err := memory.New(p, memory.Options{MaxEntries: 100, MaxTurns: 40})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	pub := &recordingPublisher{}
	gw := gateway.New(p, cache, timeout)
	return &harness{
		ctx:       ctx,
		store:     store,
		cache:     cache,
		provider:  p,
		publisher: pub,
		coord:     coordinator.New(store, gw, pub, 20),
	}
}

func (h *harness) user(t *testing.T, name string) *model.User {
	t.Helper()
	u, err := h.store.CreateUser(h.ctx, name, name+"@example.com", "hash")
	require.NoError(t, err)
	return u
}

func (h *harness) messages(t *testing.T, userID, convID uuid.UUID) []model.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(h.ctx, userID, convID)
	require.NoError(t, err)
	return msgs
}

func strptr(s string) *string { return &s }

func TestSendScenario(t *testing.T) {
	p := &stubProvider{reply: func(string) (string, error) { return "It is sunny.", nil }}
	h := newHarness(t, p, time.Second)
	alice := h.user(t, "alice")

	conv, initial, err := h.coord.CreateConversation(h.ctx, alice.ID, strptr("Hello there, how are you"))
	require.NoError(t, err)
	assert.Equal(t, "Hello there, how are you", conv.Title)
	require.Len(t, initial, 1)

	ex, err := h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "What's the weather?"})
	require.NoError(t, err)
	assert.Equal(t, "What's the weather?", ex.UserMessage.Content)
	assert.Equal(t, model.RoleUser, ex.UserMessage.Role)
	assert.Equal(t, "It is sunny.", ex.AssistantMessage.Content)
	require.NotNil(t, ex.AssistantMessage.Tokens)
	assert.Equal(t, 3, *ex.AssistantMessage.Tokens)

	// The initial message seeds the session; the new text is the prompt.
	require.Len(t, p.contexts, 1)
	assert.Equal(t, []completion.Turn{{Role: model.RoleUser, Text: "Hello there, how are you"}}, p.contexts[0])
	assert.Equal(t, []string{"What's the weather?"}, p.prompts)

	msgs := h.messages(t, alice.ID, conv.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.Equal(t, model.RoleAssistant, msgs[2].Role)

	got, err := h.store.GetConversation(h.ctx, alice.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello there, how are you", got.Title)
}

func TestEmptyMessageRejected(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: text})
		var ve *registrystore.ValidationError
		require.True(t, errors.As(err, &ve), "text %q", text)
	}
	assert.Empty(t, h.messages(t, alice.ID, conv.ID))
	assert.Empty(t, h.provider.prompts)
}

func TestSendToOtherUsersConversation(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	mallory := h.user(t, "mallory")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: mallory.ID, ConversationID: conv.ID, Text: "hi"})
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Empty(t, h.messages(t, alice.ID, conv.ID))

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: uuid.New(), Text: "hi"})
	require.True(t, errors.As(err, &nf))
}

func TestTimeoutKeepsUserMessageAndDropsSession(t *testing.T) {
	p := &stubProvider{release: make(chan struct{})}
	h := newHarness(t, p, 50*time.Millisecond)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "slow question"})
	var fe *completion.FailureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, completion.FailureTimeout, fe.Kind)

	msgs := h.messages(t, alice.ID, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	_, ok := h.cache.Get(conv.ID)
	assert.False(t, ok)

	// The next send reseeds from the stored history.
	close(p.release)
	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "again"})
	require.NoError(t, err)
	require.Len(t, p.contexts, 2)
	assert.Equal(t, []completion.Turn{{Role: model.RoleUser, Text: "slow question"}}, p.contexts[1])

	// assistant_typing is always cleared, even on failure.
	var typing []published
	for _, ev := range h.publisher.all() {
		if ev.event == rooms.EventAssistantTyping {
			typing = append(typing, ev)
		}
	}
	assert.Len(t, typing, 4)
}

func TestContentFilteredFailure(t *testing.T) {
	p := &stubProvider{reply: func(string) (string, error) { return "", completion.ErrContentFiltered }}
	h := newHarness(t, p, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "bad"})
	var fe *completion.FailureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, completion.FailureContentFiltered, fe.Kind)
	assert.Len(t, h.messages(t, alice.ID, conv.ID), 1)
}

func TestTitleBootstrapOnlyOnce(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConversationTitle, conv.Title)

	first := "This first message is definitely longer than fifty characters in total"
	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: first})
	require.NoError(t, err)
	got, err := h.store.GetConversation(h.ctx, alice.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, first[:50], got.Title)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "second"})
	require.NoError(t, err)
	got, err = h.store.GetConversation(h.ctx, alice.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, first[:50], got.Title)
}

func TestRenamedTitleIsNotOverwritten(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)
	_, err = h.coord.RenameConversation(h.ctx, alice.ID, conv.ID, "Trip planning")
	require.NoError(t, err)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "where to?"})
	require.NoError(t, err)
	got, err := h.store.GetConversation(h.ctx, alice.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", got.Title)
}

func TestSenderExcludedFromExchangeBroadcast(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "hi", Origin: "conn-a"})
	require.NoError(t, err)

	assert.Equal(t, []published{
		{event: rooms.EventUserMessage, except: "conn-a"},
		{event: rooms.EventAssistantTyping, except: "conn-a"},
		{event: rooms.EventAssistantTyping, except: "conn-a"},
		{event: rooms.EventAssistantMessage, except: "conn-a"},
	}, h.publisher.all())
}

func TestConcurrentSendsToSameConversationSerialize(t *testing.T) {
	h := newHarness(t, &stubProvider{}, 5*time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, text := range []string{"first", "second"} {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			_, errs[i] = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: text})
		}(i, text)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	msgs := h.messages(t, alice.ID, conv.ID)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt), "message %d not after %d", i, i-1)
	}
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant},
		[]model.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role})

	// The second call saw the complete first exchange.
	require.Len(t, h.provider.contexts, 2)
	second := h.provider.contexts[1]
	require.Len(t, second, 2)
	assert.Equal(t, msgs[0].Content, second[0].Text)
	assert.Equal(t, msgs[1].Content, second[1].Text)
}

func TestSendsToDifferentConversationsRunInParallel(t *testing.T) {
	p := &stubProvider{started: make(chan struct{}, 2), release: make(chan struct{})}
	h := newHarness(t, p, 5*time.Second)
	alice := h.user(t, "alice")
	c1, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)
	c2, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{c1.ID, c2.ID} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: id, Text: "hi"})
			assert.NoError(t, err)
		}(id)
	}

	// Both provider calls must be in flight at once.
	for i := 0; i < 2; i++ {
		select {
		case <-p.started:
		case <-time.After(3 * time.Second):
			t.Fatal("sends to different conversations did not overlap")
		}
	}
	close(p.release)
	wg.Wait()
}

type failingAssistantStore struct {
	registrystore.ChatStore
}

func (s failingAssistantStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, role model.Role, content string, tokens *int) (*model.Message, error) {
	if role == model.RoleAssistant {
		return nil, errors.New("disk full")
	}
	return s.ChatStore.AppendMessage(ctx, conversationID, role, content, tokens)
}

func TestAssistantPersistFailure(t *testing.T) {
	base := newHarness(t, &stubProvider{}, time.Second)
	h := newHarnessWithStore(t, base.ctx, failingAssistantStore{base.store}, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "hi"})
	require.ErrorIs(t, err, coordinator.ErrReplyNotStored)
	_, ok := h.cache.Get(conv.ID)
	assert.False(t, ok)
	assert.Len(t, h.messages(t, alice.ID, conv.ID), 1)
}

func TestClearDropsSession(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, strptr("remember me"))
	require.NoError(t, err)
	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "one"})
	require.NoError(t, err)
	_, ok := h.cache.Get(conv.ID)
	require.True(t, ok)

	require.NoError(t, h.coord.ClearConversation(h.ctx, alice.ID, conv.ID))
	_, ok = h.cache.Get(conv.ID)
	assert.False(t, ok)
	assert.Empty(t, h.messages(t, alice.ID, conv.ID))

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "fresh"})
	require.NoError(t, err)
	assert.Empty(t, h.provider.contexts[len(h.provider.contexts)-1])
}

func TestDeleteHidesConversation(t *testing.T) {
	h := newHarness(t, &stubProvider{}, time.Second)
	alice := h.user(t, "alice")
	conv, _, err := h.coord.CreateConversation(h.ctx, alice.ID, nil)
	require.NoError(t, err)
	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "one"})
	require.NoError(t, err)

	require.NoError(t, h.coord.DeleteConversation(h.ctx, alice.ID, conv.ID))
	_, ok := h.cache.Get(conv.ID)
	assert.False(t, ok)

	_, err = h.coord.Send(h.ctx, coordinator.SendRequest{UserID: alice.ID, ConversationID: conv.ID, Text: "two"})
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
}
