package postgres_test

import (
	"context"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/store/postgres"
	"github.com/chirino/chat-service/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testpg"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a container runtime")
	}
	dbURL := testpg.StartPostgres(t)

	storetest.Run(t, func(t *testing.T) (registrystore.ChatStore, context.Context) {
		cfg := config.DefaultConfig()
		cfg.DBURL = dbURL
		ctx := config.WithContext(context.Background(), &cfg)

		// Ensure postgres store plugin is registered
		_ = postgres.ForceImport

		require.NoError(t, registrymigrate.RunAll(ctx))
		loader, err := registrystore.Select("postgres")
		require.NoError(t, err)
		store, err := loader(ctx)
		require.NoError(t, err)
		return store, ctx
	})
}
