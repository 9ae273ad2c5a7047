package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMigrator struct {
	name string
	runs *[]string
	err  error
}

func (m recordingMigrator) Name() string { return m.name }

func (m recordingMigrator) Migrate(context.Context) error {
	*m.runs = append(*m.runs, m.name)
	return m.err
}

func withPlugins(t *testing.T, ps ...Plugin) {
	t.Helper()
	saved := plugins
	plugins = ps
	t.Cleanup(func() { plugins = saved })
}

func configured(datastore string, atStart bool) context.Context {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = datastore
	cfg.DatastoreMigrateAtStart = atStart
	return config.WithContext(context.Background(), &cfg)
}

func TestRunAllOnlyRunsTheConfiguredDatastore(t *testing.T) {
	var runs []string
	withPlugins(t,
		Plugin{Order: 20, Datastore: "postgres", Migrator: recordingMigrator{name: "pg-indexes", runs: &runs}},
		Plugin{Order: 10, Datastore: "postgres", Migrator: recordingMigrator{name: "pg-schema", runs: &runs}},
		Plugin{Order: 10, Datastore: "mongo", Migrator: recordingMigrator{name: "mongo-indexes", runs: &runs}},
		Plugin{Order: 5, Migrator: recordingMigrator{name: "shared", runs: &runs}},
	)

	require.NoError(t, RunAll(configured("postgres", true)))
	assert.Equal(t, []string{"shared", "pg-schema", "pg-indexes"}, runs)
}

func TestRunAllHonorsMigrateAtStart(t *testing.T) {
	var runs []string
	withPlugins(t, Plugin{Datastore: "sqlite", Migrator: recordingMigrator{name: "sqlite", runs: &runs}})

	require.NoError(t, RunAll(configured("sqlite", false)))
	assert.Empty(t, runs)
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	var runs []string
	boom := errors.New("boom")
	withPlugins(t,
		Plugin{Order: 1, Datastore: "sqlite", Migrator: recordingMigrator{name: "first", runs: &runs, err: boom}},
		Plugin{Order: 2, Datastore: "sqlite", Migrator: recordingMigrator{name: "second", runs: &runs}},
	)

	err := RunAll(configured("sqlite", true))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "first")
	assert.Equal(t, []string{"first"}, runs)
}

func TestRunAllRequiresConfig(t *testing.T) {
	assert.Error(t, RunAll(context.Background()))
}
