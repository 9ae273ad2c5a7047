package session

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/registry/completion"
	"github.com/google/uuid"
)

// Cache keeps provider sessions keyed by conversation. It is an optimization
// only: a miss is always recoverable by reseeding from the store.
//
// Callers serialize operations on one conversation; implementations must be
// safe for concurrent use across conversations.
type Cache interface {
	// Get returns the live session for the conversation, if any.
	Get(conversationID uuid.UUID) (*completion.Session, bool)
	// CreateFrom seeds a new session from history (oldest first), replacing any existing one.
	CreateFrom(conversationID uuid.UUID, history []completion.Turn) *completion.Session
	// Invalidate drops the session. Unknown conversations are a no-op.
	Invalidate(conversationID uuid.UUID)
	// Close releases resources held by the cache.
	Close()
}

// Loader creates a Cache whose sessions talk to provider.
type Loader func(ctx context.Context, provider completion.Provider) (Cache, error)

// Plugin represents a session cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a session cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered session cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named session cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown session cache %q; valid: %v", name, Names())
}
