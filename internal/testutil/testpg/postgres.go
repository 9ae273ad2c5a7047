package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chirino/chat-service/internal/testutil"
)

// Image is the server version the postgres store is tested against.
const Image = "postgres:17-alpine"

// StartPostgres starts a disposable Postgres with an empty "chat" database
// and returns a DSN that accepts connections.
func StartPostgres(tb testing.TB) string {
	tb.Helper()
	container := testutil.StartContainer(tb, "postgres", func(ctx context.Context) (*postgres.PostgresContainer, error) {
		return postgres.Run(ctx, Image,
			postgres.WithDatabase("chat"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			// The server restarts once after initdb, so the ready line shows up twice.
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
	})

	dsn, err := container.ConnectionString(context.Background(), "sslmode=disable")
	if err != nil {
		tb.Fatalf("build postgres connection string: %v", err)
	}
	err = testutil.WaitFor(20*time.Second, func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		return conn.Ping(ctx)
	})
	if err != nil {
		tb.Fatalf("postgres is not accepting connections: %v", err)
	}
	return dsn
}
