package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// ConversationSummary is a lightweight conversation representation for lists.
type ConversationSummary struct {
	ID           uuid.UUID               `json:"id"`
	Title        string                  `json:"title"`
	State        model.ConversationState `json:"state"`
	MessageCount int64                   `json:"messageCount"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// ChatStore is the durable source of truth for users, conversations and messages.
//
// Every method that takes a userID enforces ownership: a conversation that
// does not exist, is archived, or belongs to someone else yields NotFoundError.
type ChatStore interface {
	// Users
	CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)

	// Conversations
	// CreateConversation stores a new conversation. A non-blank initialMessage
	// seeds the title and becomes the first user message.
	CreateConversation(ctx context.Context, userID uuid.UUID, initialMessage *string) (*model.Conversation, []model.Message, error)
	GetConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) (*model.Conversation, error)
	// ListConversations returns non-archived conversations, most recently updated first.
	ListConversations(ctx context.Context, userID uuid.UUID) ([]ConversationSummary, error)
	RenameConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID, title string) (*model.Conversation, error)
	// BootstrapTitle replaces the title only while it is still the default.
	// Returns true when the title was changed.
	BootstrapTitle(ctx context.Context, conversationID uuid.UUID, title string) (bool, error)
	SoftDeleteConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error
	ClearConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error

	// Messages
	// AppendMessage adds a message with a timestamp strictly greater than every
	// existing message of the conversation, and reactivates a cleared conversation.
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role model.Role, content string, tokens *int) (*model.Message, error)
	ListMessages(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) ([]model.Message, error)
	// RecentMessages returns up to limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]model.Message, error)

	// Eviction
	FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
