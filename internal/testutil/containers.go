// Package testutil holds helpers shared by the container-backed fixtures in
// its subpackages.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/testcontainers/testcontainers-go"
)

// StartContainer runs start and terminates the container when tb ends. Tests
// are skipped when no container runtime is reachable.
func StartContainer[C testcontainers.Container](tb testing.TB, name string, start func(ctx context.Context) (C, error)) C {
	tb.Helper()
	if t, ok := tb.(*testing.T); ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}

	container, err := start(context.Background())
	if err != nil {
		tb.Fatalf("start %s container: %v", name, err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate %s container: %v", name, err)
		}
	})
	return container
}

// WaitFor calls probe with exponential backoff until it succeeds or timeout
// passes, returning the last probe error. It covers the gap between a
// container logging readiness and accepting client sessions.
func WaitFor(timeout time.Duration, probe func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = timeout
	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return probe(ctx)
	}, policy)
}
