// Package coordinator runs the persist, complete and publish sequence for a
// chat message, whichever transport it arrived on.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/gateway"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/rooms"
	"github.com/google/uuid"
)

// DefaultHistoryWindow is the number of stored messages used to seed a session.
const DefaultHistoryWindow = 20

// ErrReplyNotStored reports an assistant reply that was generated but could not be persisted.
var ErrReplyNotStored = errors.New("assistant reply could not be stored")

// Publisher fans events out to the live members of a conversation.
type Publisher interface {
	Broadcast(ctx context.Context, conversationID uuid.UUID, event string, payload any, except string) error
}

// SendRequest is one message-send attempt.
type SendRequest struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	Text           string
	// Origin is the live connection of the sender, if any. It never receives
	// broadcasts for this exchange.
	Origin string
}

// Exchange is a completed user/assistant turn pair.
type Exchange struct {
	ConversationID   uuid.UUID     `json:"conversationId"`
	UserMessage      model.Message `json:"userMessage"`
	AssistantMessage model.Message `json:"assistantMessage"`
}

// MessagePayload is the data of a user_message event.
type MessagePayload struct {
	ConversationID uuid.UUID     `json:"conversationId"`
	Message        model.Message `json:"message"`
}

// TypingPayload is the data of an assistant_typing event.
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
}

// Coordinator owns every mutation that touches a conversation's session.
type Coordinator struct {
	store     registrystore.ChatStore
	gateway   *gateway.Gateway
	publisher Publisher
	window    int
	locks     *keyLock
}

// New builds a Coordinator. A non-positive window uses DefaultHistoryWindow.
func New(store registrystore.ChatStore, gw *gateway.Gateway, publisher Publisher, window int) *Coordinator {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Coordinator{
		store:     store,
		gateway:   gw,
		publisher: publisher,
		window:    window,
		locks:     newKeyLock(),
	}
}

// CreateConversation creates a conversation, optionally with its first user
// message, and returns the stored messages.
func (c *Coordinator) CreateConversation(ctx context.Context, userID uuid.UUID, initialMessage *string) (*model.Conversation, []model.Message, error) {
	return c.store.CreateConversation(ctx, userID, initialMessage)
}

// Send runs one message through the full exchange. Sends to the same
// conversation are serialized; sends to different conversations run in parallel.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (*Exchange, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &registrystore.ValidationError{Field: "message", Message: "Message cannot be empty"}
	}

	unlock, err := c.locks.Lock(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The exchange completes even if the caller goes away once it holds the lock.
	ctx = context.WithoutCancel(ctx)

	conv, err := c.store.GetConversation(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	if conv.Title == model.DefaultConversationTitle {
		if _, err := c.store.BootstrapTitle(ctx, conv.ID, model.DeriveTitle(text)); err != nil {
			return nil, fmt.Errorf("bootstrap title: %w", err)
		}
	}

	userMsg, err := c.store.AppendMessage(ctx, conv.ID, model.RoleUser, text, nil)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	c.publish(ctx, conv.ID, rooms.EventUserMessage, MessagePayload{ConversationID: conv.ID, Message: *userMsg}, req.Origin)

	history, err := c.history(ctx, conv.ID, userMsg.ID)
	if err != nil {
		return nil, err
	}

	c.publish(ctx, conv.ID, rooms.EventAssistantTyping, TypingPayload{ConversationID: conv.ID, IsTyping: true}, req.Origin)
	result, err := c.gateway.Complete(ctx, conv.ID, text, history)
	c.publish(ctx, conv.ID, rooms.EventAssistantTyping, TypingPayload{ConversationID: conv.ID, IsTyping: false}, req.Origin)
	if err != nil {
		return nil, err
	}

	tokens := result.TokenEstimate
	assistantMsg, err := c.store.AppendMessage(ctx, conv.ID, model.RoleAssistant, result.Text, &tokens)
	if err != nil {
		c.gateway.Invalidate(conv.ID)
		log.Error("Assistant reply lost", "conversationId", conv.ID, "replyLength", len(result.Text), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrReplyNotStored, err)
	}

	ex := &Exchange{ConversationID: conv.ID, UserMessage: *userMsg, AssistantMessage: *assistantMsg}
	c.publish(ctx, conv.ID, rooms.EventAssistantMessage, ex, req.Origin)
	return ex, nil
}

// history returns up to window messages preceding the message just stored.
func (c *Coordinator) history(ctx context.Context, conversationID, justStored uuid.UUID) ([]model.Message, error) {
	recent, err := c.store.RecentMessages(ctx, conversationID, c.window+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if n := len(recent); n > 0 && recent[n-1].ID == justStored {
		recent = recent[:n-1]
	}
	if len(recent) > c.window {
		recent = recent[len(recent)-c.window:]
	}
	return recent, nil
}

// RenameConversation sets a user-chosen title.
func (c *Coordinator) RenameConversation(ctx context.Context, userID, conversationID uuid.UUID, title string) (*model.Conversation, error) {
	return c.store.RenameConversation(ctx, userID, conversationID, title)
}

// DeleteConversation archives the conversation and drops its session.
func (c *Coordinator) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	unlock, err := c.locks.Lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := c.store.SoftDeleteConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	c.gateway.Invalidate(conversationID)
	return nil
}

// ClearConversation removes all messages and drops the session so the next
// send starts from an empty history.
func (c *Coordinator) ClearConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	unlock, err := c.locks.Lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := c.store.ClearConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	c.gateway.Invalidate(conversationID)
	return nil
}

func (c *Coordinator) publish(ctx context.Context, conversationID uuid.UUID, event string, payload any, except string) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Broadcast(ctx, conversationID, event, payload, except); err != nil {
		log.Warn("Failed to publish room event", "conversationId", conversationID, "event", event, "err", err)
	}
}
