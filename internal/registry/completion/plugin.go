package completion

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
)

// Turn is one entry of the context submitted to a provider.
type Turn struct {
	Role model.Role
	Text string
}

// TurnsFromMessages converts stored messages, oldest first, into provider turns.
func TurnsFromMessages(messages []model.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		role := model.RoleAssistant
		if m.Role == model.RoleUser {
			role = model.RoleUser
		}
		turns = append(turns, Turn{Role: role, Text: m.Content})
	}
	return turns
}

// Provider generates assistant replies. Implementations are stateless; the
// conversational state lives in a Session.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Complete returns the reply to prompt given the prior turns, oldest first.
	// Implementations return ErrContentFiltered or ErrQuotaExceeded (wrapped)
	// when the provider reports those conditions.
	Complete(ctx context.Context, history []Turn, prompt string) (string, error)
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents a completion provider plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a completion provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered completion plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named completion plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown completion provider %q; valid: %v", name, Names())
}
