package testmongo

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chirino/chat-service/internal/testutil"
)

// StartMongo starts a disposable MongoDB and returns a URI that answers pings.
// Callers pick their own database names so one server can back many tests.
func StartMongo(tb testing.TB) string {
	tb.Helper()
	container := testutil.StartContainer(tb, "mongodb", func(ctx context.Context) (*mongodb.MongoDBContainer, error) {
		return mongodb.Run(ctx, "mongo:7")
	})

	uri, err := container.ConnectionString(context.Background())
	if err != nil {
		tb.Fatalf("build mongodb connection string: %v", err)
	}
	err = testutil.WaitFor(20*time.Second, func(ctx context.Context) error {
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		return client.Ping(ctx, nil)
	})
	if err != nil {
		tb.Fatalf("mongodb is not answering pings: %v", err)
	}
	return uri
}
