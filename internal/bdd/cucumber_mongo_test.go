package bdd

import (
	"testing"

	mongoplugin "github.com/chirino/chat-service/internal/plugin/store/mongo"
	"github.com/chirino/chat-service/internal/testutil/testmongo"
)

func TestFeaturesMongo(t *testing.T) {
	_ = mongoplugin.ForceImport

	cfg := testConfig()
	cfg.DatastoreType = "mongo"
	cfg.DBURL = testmongo.StartMongo(t)
	cfg.BroadcastType = "local"
	cfg.SessionCacheType = "none"

	runFeatures(t, &cfg, &MongoTestDB{DBURL: cfg.DBURL, Database: cfg.MongoDatabase})
}
