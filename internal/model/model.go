package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationState tracks the conversation lifecycle.
//
//	active -> cleared   (clear)
//	cleared -> active   (next append)
//	active|cleared -> archived (delete, terminal)
type ConversationState string

const (
	StateActive   ConversationState = "active"
	StateCleared  ConversationState = "cleared"
	StateArchived ConversationState = "archived"
)

const (
	// DefaultConversationTitle marks a conversation whose title has not been derived yet.
	DefaultConversationTitle = "New Conversation"
	// MaxTitleLength is measured in characters.
	MaxTitleLength = 50
)

// TruncateTitle trims s and cuts it to MaxTitleLength characters.
func TruncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxTitleLength {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxTitleLength]))
}

// DeriveTitle builds a conversation title from message text, falling back to
// DefaultConversationTitle when nothing remains after trimming.
func DeriveTitle(text string) string {
	if t := TruncateTitle(text); t != "" {
		return t
	}
	return DefaultConversationTitle
}

// User is a registered account. Conversations reference their owner by ID.
type User struct {
	ID           uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Username     string    `json:"username"  gorm:"not null;uniqueIndex"`
	Email        string    `json:"email"     gorm:"not null;uniqueIndex"`
	PasswordHash string    `json:"-"         gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Conversation is an ordered thread of messages owned by one user.
type Conversation struct {
	ID        uuid.UUID         `json:"id"        gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID         `json:"userId"    gorm:"not null;type:uuid;index"`
	Title     string            `json:"title"     gorm:"not null"`
	State     ConversationState `json:"state"     gorm:"not null;index"`
	CreatedAt time.Time         `json:"createdAt" gorm:"not null"`
	UpdatedAt time.Time         `json:"updatedAt" gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// IsActive reports whether the conversation is visible to its owner.
func (c Conversation) IsActive() bool {
	return c.State != StateArchived
}

// Message is an immutable conversation turn.
type Message struct {
	ID             uuid.UUID `json:"id"               gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID `json:"conversationId"   gorm:"not null;type:uuid;index:idx_messages_conversation_created,priority:1"`
	Role           Role      `json:"role"             gorm:"not null"`
	Content        string    `json:"content"          gorm:"not null"`
	Tokens         *int      `json:"tokens,omitempty"`
	CreatedAt      time.Time `json:"createdAt"        gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}

func (Message) TableName() string { return "messages" }
