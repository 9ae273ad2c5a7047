package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Envelope is a room event in transit between replicas.
type Envelope struct {
	ConversationID uuid.UUID       `json:"conversationId"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	// Except names the originating connection, which must not receive the event.
	Except string `json:"except,omitempty"`
}

// Handler delivers an envelope to the local members of its room.
type Handler func(Envelope)

// Bus fans room events out to every replica, including the publishing one.
// Envelopes published by one goroutine are handed to handlers in publish order.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe installs the local delivery handler. It is called once, before any Publish.
	Subscribe(handler Handler)
	Close() error
}

// Loader creates a Bus from config.
type Loader func(ctx context.Context) (Bus, error)

// Plugin represents a broadcast bus plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a broadcast bus plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered broadcast bus plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named broadcast bus plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown broadcast bus %q; valid: %v", name, Names())
}
