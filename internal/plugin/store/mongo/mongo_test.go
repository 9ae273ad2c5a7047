package mongo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/store/mongo"
	"github.com/chirino/chat-service/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testmongo"
	"github.com/stretchr/testify/require"
)

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a container runtime")
	}
	uri := testmongo.StartMongo(t)
	n := 0

	storetest.Run(t, func(t *testing.T) (registrystore.ChatStore, context.Context) {
		n++
		cfg := config.DefaultConfig()
		cfg.DatastoreType = "mongo"
		cfg.DBURL = uri
		cfg.MongoDatabase = fmt.Sprintf("chat_test_%d", n)
		ctx := config.WithContext(context.Background(), &cfg)

		_ = mongo.ForceImport

		require.NoError(t, registrymigrate.RunAll(ctx))
		loader, err := registrystore.Select("mongo")
		require.NoError(t, err)
		store, err := loader(ctx)
		require.NoError(t, err)
		return store, ctx
	})
}
