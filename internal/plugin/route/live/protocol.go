package live

import (
	"encoding/json"

	"github.com/chirino/chat-service/internal/apierror"
	"github.com/google/uuid"
)

// Client events.
const (
	EventCreateConversation = "create_conversation"
	EventSendMessage        = "send_message"
	EventJoinConversation   = "join_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventTypingStart        = "typing_start"
	EventTypingStop         = "typing_stop"
)

// Server events, on top of the room events in package rooms.
const (
	EventConnected           = "connected"
	EventAck                 = "ack"
	EventError               = "error"
	EventConversationCreated = "conversation_created"
	EventConversationJoined  = "conversation_joined"
	EventConversationLeft    = "conversation_left"
)

// Frame is the envelope of every message in either direction.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack answers exactly one client frame.
type Ack struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   *apierror.Problem `json:"error,omitempty"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	apierror.Problem
	Success        bool       `json:"success"`
	Event          string     `json:"event,omitempty"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}

// ConnectedPayload greets a new connection.
type ConnectedPayload struct {
	ConnectionID string        `json:"connectionId"`
	User         ConnectedUser `json:"user"`
}

// ConnectedUser identifies the authenticated user of a connection.
type ConnectedUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

// RoomPayload is the data of conversation_joined and conversation_left.
type RoomPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type createRequest struct {
	InitialMessage *string `json:"initialMessage"`
	Title          *string `json:"title"`
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type roomRequest struct {
	ConversationID string `json:"conversationId"`
}
