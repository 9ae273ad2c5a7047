package local

import (
	"context"
	"sync"

	registrybroadcast "github.com/chirino/chat-service/internal/registry/broadcast"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrybroadcast.Register(registrybroadcast.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrybroadcast.Bus, error) {
			return New(), nil
		},
	})
}

// Bus delivers envelopes synchronously within the process.
type Bus struct {
	mu      sync.RWMutex
	handler registrybroadcast.Handler
}

// New returns an in-process bus.
func New() *Bus { return &Bus{} }

func (b *Bus) Publish(_ context.Context, env registrybroadcast.Envelope) error {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h != nil {
		h(env)
	}
	return nil
}

func (b *Bus) Subscribe(handler registrybroadcast.Handler) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

func (b *Bus) Close() error { return nil }

var _ registrybroadcast.Bus = (*Bus)(nil)
