package rooms_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/chirino/chat-service/internal/plugin/broadcast/local"
	"github.com/chirino/chat-service/internal/rooms"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	conn   string
	user   uuid.UUID
	name   string
	mu     sync.Mutex
	events []rooms.Event
}

func newMember(conn string) *fakeMember {
	return &fakeMember{conn: conn, user: uuid.New(), name: conn + "-user"}
}

func (f *fakeMember) ConnectionID() string { return f.conn }
func (f *fakeMember) UserID() uuid.UUID    { return f.user }
func (f *fakeMember) Username() string     { return f.name }
func (f *fakeMember) Deliver(ev rooms.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeMember) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Name
	}
	return out
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := rooms.New(local.New())
	conv := uuid.New()
	a, b, outsider := newMember("a"), newMember("b"), newMember("c")
	r.Join(conv, a)
	r.Join(conv, b)
	r.Join(uuid.New(), outsider)

	require.NoError(t, r.Broadcast(context.Background(), conv, rooms.EventUserMessage, map[string]string{"content": "hi"}, "a"))
	require.NoError(t, r.Broadcast(context.Background(), conv, rooms.EventAssistantMessage, map[string]string{"content": "yo"}, ""))

	assert.Equal(t, []string{rooms.EventAssistantMessage}, a.names())
	assert.Equal(t, []string{rooms.EventUserMessage, rooms.EventAssistantMessage}, b.names())
	assert.Empty(t, outsider.names())
}

func TestJoinLeave(t *testing.T) {
	r := rooms.New(local.New())
	conv := uuid.New()
	a := newMember("a")

	r.Join(conv, a)
	r.Join(conv, a)
	assert.True(t, r.IsMember(conv, "a"))
	assert.Equal(t, 1, r.MemberCount(conv))

	r.Leave(conv, "a")
	assert.False(t, r.IsMember(conv, "a"))
	assert.Equal(t, 0, r.MemberCount(conv))

	// Leaving a room never joined is harmless.
	r.Leave(conv, "nobody")
}

func TestTypingRequiresMembership(t *testing.T) {
	r := rooms.New(local.New())
	conv := uuid.New()
	a, b, stranger := newMember("a"), newMember("b"), newMember("s")
	r.Join(conv, a)
	r.Join(conv, b)

	sent, err := r.Typing(context.Background(), conv, stranger, true)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, b.names())

	sent, err = r.Typing(context.Background(), conv, a, true)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Empty(t, a.names())
	require.Equal(t, []string{rooms.EventUserTyping}, b.names())

	var payload rooms.TypingPayload
	require.NoError(t, json.Unmarshal(b.events[0].Data, &payload))
	assert.Equal(t, a.user, payload.UserID)
	assert.Equal(t, conv, payload.ConversationID)
	assert.True(t, payload.IsTyping)
}

func TestDisconnectAnnouncesOfflineInEveryRoom(t *testing.T) {
	r := rooms.New(local.New())
	conv1, conv2 := uuid.New(), uuid.New()
	a, b, c := newMember("a"), newMember("b"), newMember("c")
	r.Join(conv1, a)
	r.Join(conv2, a)
	r.Join(conv1, b)
	r.Join(conv2, c)

	r.Disconnect(context.Background(), a)

	assert.False(t, r.IsMember(conv1, "a"))
	assert.False(t, r.IsMember(conv2, "a"))
	assert.Equal(t, []string{rooms.EventUserOffline}, b.names())
	assert.Equal(t, []string{rooms.EventUserOffline}, c.names())
	assert.Empty(t, a.names())

	var payload rooms.OfflinePayload
	require.NoError(t, json.Unmarshal(c.events[0].Data, &payload))
	assert.Equal(t, conv2, payload.ConversationID)
	assert.Equal(t, a.user, payload.UserID)
}

func TestConcurrentJoinAndBroadcast(t *testing.T) {
	r := rooms.New(local.New())
	conv := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newMember(uuid.NewString())
			r.Join(conv, m)
			_ = r.Broadcast(context.Background(), conv, rooms.EventUserTyping, map[string]bool{"isTyping": true}, m.conn)
			r.Disconnect(context.Background(), m)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.MemberCount(conv))
}
