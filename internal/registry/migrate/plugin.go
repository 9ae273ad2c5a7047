package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
)

// Migrator brings one backend's schema up to date. Migrate must be safe to
// run against an already migrated database.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin is a migrator bound to the store backend it prepares.
type Plugin struct {
	Order int
	// Datastore is the store plugin name this migrator serves. Empty runs for every backend.
	Datastore string
	Migrator  Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// For returns the migrators that apply to the named datastore, in run order.
func For(datastore string) []Migrator {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var out []Migrator
	for _, p := range sorted {
		if p.Datastore == "" || p.Datastore == datastore {
			out = append(out, p.Migrator)
		}
	}
	return out
}

// RunAll executes the migrators of the configured datastore, unless
// migrations at start are disabled.
func RunAll(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return errors.New("migrate: no config in context")
	}
	if !cfg.DatastoreMigrateAtStart {
		log.Info("Skipping migrations", "db", cfg.DatastoreType)
		return nil
	}
	for _, m := range For(cfg.DatastoreType) {
		start := time.Now()
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name(), err)
		}
		log.Info("Migration complete", "name", m.Name(), "took", time.Since(start))
	}
	return nil
}
