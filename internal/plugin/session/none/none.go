package none

import (
	"context"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/registry/completion"
	registrysession "github.com/chirino/chat-service/internal/registry/session"
	"github.com/google/uuid"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrysession.Register(registrysession.Plugin{
		Name: "none",
		Loader: func(ctx context.Context, provider completion.Provider) (registrysession.Cache, error) {
			maxTurns := 0
			if cfg := config.FromContext(ctx); cfg != nil {
				maxTurns = cfg.HistoryWindow
			}
			return &noopCache{provider: provider, maxTurns: maxTurns}, nil
		},
	})
}

// noopCache never retains sessions, so every send reseeds from the store.
type noopCache struct {
	provider completion.Provider
	maxTurns int
}

func (n *noopCache) Get(uuid.UUID) (*completion.Session, bool) { return nil, false }
func (n *noopCache) CreateFrom(_ uuid.UUID, history []completion.Turn) *completion.Session {
	return completion.NewSession(n.provider, history, n.maxTurns)
}
func (n *noopCache) Invalidate(uuid.UUID) {}
func (n *noopCache) Close()               {}

var _ registrysession.Cache = (*noopCache)(nil)
