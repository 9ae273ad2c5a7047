package testredis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chirino/chat-service/internal/testutil"
)

// StartRedis starts a disposable Redis for the pub/sub broadcaster and
// returns a redis:// URL.
func StartRedis(tb testing.TB) string {
	tb.Helper()
	container := testutil.StartContainer(tb, "redis", func(ctx context.Context) (testcontainers.Container, error) {
		return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
	})

	endpoint, err := container.Endpoint(context.Background(), "")
	if err != nil {
		tb.Fatalf("get redis endpoint: %v", err)
	}
	url := fmt.Sprintf("redis://%s", endpoint)

	opts, err := redis.ParseURL(url)
	if err != nil {
		tb.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	if err := testutil.WaitFor(10*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		tb.Fatalf("redis is not answering pings: %v", err)
	}
	return url
}
