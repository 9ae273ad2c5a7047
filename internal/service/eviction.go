package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
)

// EvictionService periodically hard-deletes archived conversations past retention.
type EvictionService struct {
	store     registrystore.ChatStore
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewEvictionService creates a new eviction service. A non-positive retention disables it.
func NewEvictionService(store registrystore.ChatStore, retention, interval time.Duration, batchSize int) *EvictionService {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &EvictionService{
		store:     store,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Enabled reports whether a retention period is configured.
func (e *EvictionService) Enabled() bool { return e.retention > 0 }

// Start begins the periodic eviction loop. Returns when ctx is cancelled.
func (e *EvictionService) Start(ctx context.Context) {
	if !e.Enabled() {
		return
	}
	log.Info("Eviction: enabled", "retention", e.retention, "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce evicts everything currently past retention and returns the number of
// conversations removed.
func (e *EvictionService) RunOnce(ctx context.Context) int {
	cutoff := e.now().Add(-e.retention)
	evicted := 0
	for {
		ids, err := e.store.FindEvictableConversationIDs(ctx, cutoff, e.batchSize)
		if err != nil {
			log.Error("Eviction: find IDs failed", "err", err)
			return evicted
		}
		if len(ids) == 0 {
			break
		}
		if err := e.store.HardDeleteConversations(ctx, ids); err != nil {
			log.Error("Eviction: hard delete failed", "err", err)
			return evicted
		}
		evicted += len(ids)
		if len(ids) < e.batchSize {
			break
		}
		if ctx.Err() != nil {
			return evicted
		}
	}
	if evicted > 0 {
		log.Info("Eviction: completed", "evicted", evicted, "cutoff", cutoff)
	}
	return evicted
}
