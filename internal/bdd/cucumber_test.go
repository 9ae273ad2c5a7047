package bdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/cmd/serve"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/store/sqlite"
	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/chirino/chat-service/internal/testutil/testsqlite"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

// testConfig returns a server config for feature runs. The echo provider
// answers every message with a fixed reply so scenarios can assert on it.
func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.CompletionType = "echo"
	cfg.EchoReply = "It is sunny."
	cfg.Listener.Port = 0
	cfg.Listener.EnableTLS = false
	cfg.RateLimitGeneral = 0
	cfg.RateLimitAuth = 0
	cfg.RateLimitChat = 0
	return cfg
}

func TestFeatures(t *testing.T) {
	_ = sqlite.ForceImport

	cfg := testConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = testsqlite.DSN(t)
	cfg.BroadcastType = "local"

	runFeatures(t, &cfg, &SQLiteTestDB{DSN: cfg.DBURL})
}

// runFeatures starts a server for cfg and runs every feature file against it.
func runFeatures(t *testing.T, cfg *config.Config, db cucumber.TestDB) {
	t.Helper()
	ctx := config.WithContext(context.Background(), cfg)

	srv, err := serve.StartServer(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(drainCtx)
	})

	apiURL := fmt.Sprintf("http://localhost:%d", srv.Running.Port)

	featuresDir := filepath.Join("testdata", "features")
	if _, err := os.Stat(featuresDir); os.IsNotExist(err) {
		t.Skipf("Feature files directory not found: %s", featuresDir)
	}
	featureFiles, err := filepath.Glob(filepath.Join(featuresDir, "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "No feature files found in %s", featuresDir)

	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite(apiURL)
			suite.TestingT = t
			suite.DB = db
			suite.Extra["store"] = srv.Store

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
