package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoTestDB reaches the mongo store's collections directly. Collections
// carry the same names as the SQL tables.
type MongoTestDB struct {
	DBURL    string
	Database string
}

var _ cucumber.TestDB = (*MongoTestDB)(nil)

func (m *MongoTestDB) withDB(ctx context.Context, fn func(*mongo.Database) error) error {
	client, err := mongo.Connect(options.Client().ApplyURI(m.DBURL))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer func() { _ = client.Disconnect(ctx) }()
	return fn(client.Database(m.Database))
}

func (m *MongoTestDB) ClearAll(ctx context.Context) error {
	return m.withDB(ctx, func(db *mongo.Database) error {
		for _, coll := range scenarioTables {
			if _, err := db.Collection(coll).DeleteMany(ctx, bson.M{}); err != nil {
				return fmt.Errorf("cleanup: failed to clear %s: %w", coll, err)
			}
		}
		return nil
	})
}

// ExecSQL returns nil rows, which turns the SQL assertions into no-ops.
func (m *MongoTestDB) ExecSQL(context.Context, string) ([]map[string]interface{}, error) {
	return nil, nil
}

func (m *MongoTestDB) AgeConversation(ctx context.Context, conversationID string, days int) error {
	return m.withDB(ctx, func(db *mongo.Database) error {
		res, err := db.Collection("conversations").UpdateByID(ctx, conversationID,
			bson.M{"$set": bson.M{"updated_at": time.Now().AddDate(0, 0, -days).UTC()}})
		if err != nil {
			return fmt.Errorf("failed to age conversation: %w", err)
		}
		if res.MatchedCount != 1 {
			return fmt.Errorf("conversation %s not found", conversationID)
		}
		return nil
	})
}
