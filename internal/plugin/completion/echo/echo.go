// Package echo provides a deterministic completion provider for local
// development and tests. It never calls out of process.
package echo

import (
	"context"

	"github.com/chirino/chat-service/internal/config"
	registrycompletion "github.com/chirino/chat-service/internal/registry/completion"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycompletion.Register(registrycompletion.Plugin{
		Name: "echo",
		Loader: func(ctx context.Context) (registrycompletion.Provider, error) {
			var reply string
			if cfg := config.FromContext(ctx); cfg != nil {
				reply = cfg.EchoReply
			}
			return &Provider{Reply: reply}, nil
		},
	})
}

// Provider replies with Reply, or with the prompt itself when Reply is empty.
type Provider struct {
	Reply string
}

func (p *Provider) Name() string { return "echo" }

func (p *Provider) Complete(ctx context.Context, _ []registrycompletion.Turn, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Reply != "" {
		return p.Reply, nil
	}
	return prompt, nil
}
