package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/registry/completion"
	registrysession "github.com/chirino/chat-service/internal/registry/session"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrysession.Register(registrysession.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context, provider completion.Provider) (registrysession.Cache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		d := config.DefaultConfig()
		cfg = &d
	}
	return New(provider, Options{
		MaxEntries: cfg.SessionCacheMaxEntries,
		TTL:        cfg.SessionCacheTTL,
		MaxTurns:   cfg.HistoryWindow,
	})
}

// Options bound the cache.
type Options struct {
	MaxEntries int64
	TTL        time.Duration
	// MaxTurns caps each session's retained history.
	MaxTurns int
}

// Cache is a size and TTL bounded in-process session cache.
type Cache struct {
	provider completion.Provider
	items    *ristretto.Cache[string, *completion.Session]
	ttl      time.Duration
	maxTurns int
}

// New builds a Cache backed by ristretto.
func New(provider completion.Provider, opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	items, err := ristretto.NewCache(&ristretto.Config[string, *completion.Session]{
		NumCounters:        opts.MaxEntries * 10,
		MaxCost:            opts.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	return &Cache{provider: provider, items: items, ttl: opts.TTL, maxTurns: opts.MaxTurns}, nil
}

func (c *Cache) Get(conversationID uuid.UUID) (*completion.Session, bool) {
	return c.items.Get(conversationID.String())
}

func (c *Cache) CreateFrom(conversationID uuid.UUID, history []completion.Turn) *completion.Session {
	s := completion.NewSession(c.provider, history, c.maxTurns)
	key := conversationID.String()
	// A rejected admission only means the next send reseeds.
	if c.ttl > 0 {
		c.items.SetWithTTL(key, s, 1, c.ttl)
	} else {
		c.items.Set(key, s, 1)
	}
	c.items.Wait()
	return s
}

func (c *Cache) Invalidate(conversationID uuid.UUID) {
	c.items.Del(conversationID.String())
}

func (c *Cache) Close() {
	c.items.Close()
}

var _ registrysession.Cache = (*Cache)(nil)
