// Package rooms tracks which live connections have joined which
// conversations and fans events out to them.
package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	registrybroadcast "github.com/chirino/chat-service/internal/registry/broadcast"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Event names emitted to room members.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventAssistantTyping  = "assistant_typing"
	EventUserTyping       = "user_typing"
	EventUserOffline      = "user_offline"
)

// Event is a named payload delivered to a member.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Member is one live connection.
type Member interface {
	ConnectionID() string
	UserID() uuid.UUID
	Username() string
	// Deliver queues an event for the connection. It must not block.
	Deliver(Event)
}

// TypingPayload is the data of a user_typing event.
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Username       string    `json:"username"`
	IsTyping       bool      `json:"isTyping"`
}

// OfflinePayload is the data of a user_offline event.
type OfflinePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	Username       string    `json:"username"`
}

// Registry holds room membership for this replica. Events travel through the
// bus so members connected to other replicas receive them too.
type Registry struct {
	bus registrybroadcast.Bus

	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[string]Member
	joined map[string]map[uuid.UUID]struct{}
}

// New creates a Registry delivering events published on bus.
func New(bus registrybroadcast.Bus) *Registry {
	r := &Registry{
		bus:    bus,
		rooms:  make(map[uuid.UUID]map[string]Member),
		joined: make(map[string]map[uuid.UUID]struct{}),
	}
	bus.Subscribe(r.deliver)
	return r
}

// Join adds m to the conversation's room. Joining twice is a no-op.
func (r *Registry) Join(conversationID uuid.UUID, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[string]Member)
		r.rooms[conversationID] = room
	}
	room[m.ConnectionID()] = m
	convs, ok := r.joined[m.ConnectionID()]
	if !ok {
		convs = make(map[uuid.UUID]struct{})
		r.joined[m.ConnectionID()] = convs
	}
	convs[conversationID] = struct{}{}
}

// Leave removes the connection from the conversation's room.
func (r *Registry) Leave(conversationID uuid.UUID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conversationID, connectionID)
}

func (r *Registry) removeLocked(conversationID uuid.UUID, connectionID string) {
	if room, ok := r.rooms[conversationID]; ok {
		delete(room, connectionID)
		if len(room) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	if convs, ok := r.joined[connectionID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.joined, connectionID)
		}
	}
}

// IsMember reports whether the connection has joined the conversation.
func (r *Registry) IsMember(conversationID uuid.UUID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][connectionID]
	return ok
}

// MemberCount returns the number of local connections in the room.
func (r *Registry) MemberCount(conversationID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

// Disconnect drops every membership of m in one step and tells the rooms it
// was in that the user went offline.
func (r *Registry) Disconnect(ctx context.Context, m Member) {
	r.mu.Lock()
	var left []uuid.UUID
	for convID := range r.joined[m.ConnectionID()] {
		left = append(left, convID)
	}
	for _, convID := range left {
		r.removeLocked(convID, m.ConnectionID())
	}
	r.mu.Unlock()

	for _, convID := range left {
		payload := OfflinePayload{ConversationID: convID, UserID: m.UserID(), Username: m.Username()}
		if err := r.Broadcast(ctx, convID, EventUserOffline, payload, m.ConnectionID()); err != nil {
			log.Warn("Failed to announce user offline", "conversationId", convID, "err", err)
		}
	}
}

// Typing relays a typing indicator from m to the rest of the room. Indicators
// from connections that have not joined the room are dropped and false is returned.
func (r *Registry) Typing(ctx context.Context, conversationID uuid.UUID, m Member, isTyping bool) (bool, error) {
	if !r.IsMember(conversationID, m.ConnectionID()) {
		return false, nil
	}
	payload := TypingPayload{
		ConversationID: conversationID,
		UserID:         m.UserID(),
		Username:       m.Username(),
		IsTyping:       isTyping,
	}
	return true, r.Broadcast(ctx, conversationID, EventUserTyping, payload, m.ConnectionID())
}

// Broadcast sends an event to every member of the room except the named
// connection. An empty except reaches everyone.
func (r *Registry) Broadcast(ctx context.Context, conversationID uuid.UUID, event string, payload any, except string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if security.RoomEventsTotal != nil {
		security.RoomEventsTotal.WithLabelValues(event).Inc()
	}
	return r.bus.Publish(ctx, registrybroadcast.Envelope{
		ConversationID: conversationID,
		Event:          event,
		Data:           data,
		Except:         except,
	})
}

func (r *Registry) deliver(env registrybroadcast.Envelope) {
	r.mu.RLock()
	room := r.rooms[env.ConversationID]
	targets := make([]Member, 0, len(room))
	for id, m := range room {
		if id != env.Except {
			targets = append(targets, m)
		}
	}
	r.mu.RUnlock()

	ev := Event{Name: env.Event, Data: env.Data}
	for _, m := range targets {
		m.Deliver(ev)
	}
}
