package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a disposable PostgreSQL container and returns its URL.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("webhookinbox_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresStore(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	// each subtest gets a clean schema
	open := func(t *testing.T) Store {
		s, err := NewPostgres(ctx, url)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		_, err = s.pool.Exec(ctx, `DROP TABLE IF EXISTS delivery_attempts, endpoints, events, schema_migrations`)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		return s
	}

	runStoreSuite(t, open)
}
