package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OpenRedis connects to the Redis instance that backs the shared
// reservation store, the admission counters and the circuit breaker.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// Open builds the Store selected by driver.
func Open(ctx context.Context, driver, postgresURL, sqlitePath string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, postgresURL)
	case "sqlite":
		return NewSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", driver)
	}
}
