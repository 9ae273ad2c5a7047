// Package postgres stores chat data in PostgreSQL through GORM on the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed db/schema.sql
var schemaSQL string

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// poolSampleInterval is how often the open-connection gauge is refreshed.
const poolSampleInterval = 15 * time.Second

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, sqlDB, err := open(cfg, true)
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}
			go samplePool(ctx, sqlDB)
			return sqlstore.New(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Datastore: "postgres", Migrator: schemaMigrator{}})
}

// open connects with GORM. translate maps driver errors onto gorm.ErrDuplicatedKey
// and friends, which the store relies on for unique violations.
func open(cfg *config.Config, translate bool) (*gorm.DB, *sql.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{TranslateError: translate})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	return db, sqlDB, nil
}

func samplePool(ctx context.Context, sqlDB *sql.DB) {
	ticker := time.NewTicker(poolSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if security.DBPoolOpenConnections != nil {
				security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
			}
		}
	}
}

// schemaMigrator applies db/schema.sql, which is written to be re-runnable.
type schemaMigrator struct{}

func (schemaMigrator) Name() string { return "postgres-schema" }

func (schemaMigrator) Migrate(ctx context.Context) error {
	_, sqlDB, err := open(config.FromContext(ctx), false)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	return nil
}
