package kv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name    string
	store   Store
	advance func(d time.Duration)
}

func backends(t *testing.T) []backend {
	t.Helper()

	mem := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	mem.Now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return []backend{
		{
			name:  "memory",
			store: mem,
			advance: func(d time.Duration) {
				clockMu.Lock()
				now = now.Add(d)
				clockMu.Unlock()
			},
		},
		{
			name:    "redis",
			store:   NewRedisStore(client),
			advance: mr.FastForward,
		},
	}
}

func TestStore_SetIfAbsent(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			stored, current, err := b.store.SetIfAbsent(ctx, "idem:github:req-1", "evt-1", time.Minute)
			require.NoError(t, err)
			assert.True(t, stored)
			assert.Equal(t, "evt-1", current)

			stored, current, err = b.store.SetIfAbsent(ctx, "idem:github:req-1", "evt-2", time.Minute)
			require.NoError(t, err)
			assert.False(t, stored)
			assert.Equal(t, "evt-1", current)

			v, ok, err := b.store.Get(ctx, "idem:github:req-1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "evt-1", v)
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			_, _, err := b.store.SetIfAbsent(ctx, "k", "first", 10*time.Second)
			require.NoError(t, err)

			b.advance(11 * time.Second)

			_, ok, err := b.store.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok, "entry should have expired")

			stored, current, err := b.store.SetIfAbsent(ctx, "k", "second", 10*time.Second)
			require.NoError(t, err)
			assert.True(t, stored)
			assert.Equal(t, "second", current)
		})
	}
}

func TestStore_DeleteIfEquals(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			_, _, err := b.store.SetIfAbsent(ctx, "lease:e:p", "owner-a", time.Minute)
			require.NoError(t, err)

			require.NoError(t, b.store.DeleteIfEquals(ctx, "lease:e:p", "owner-b"))
			_, ok, _ := b.store.Get(ctx, "lease:e:p")
			assert.True(t, ok, "a different owner must not release the key")

			require.NoError(t, b.store.DeleteIfEquals(ctx, "lease:e:p", "owner-a"))
			_, ok, _ = b.store.Get(ctx, "lease:e:p")
			assert.False(t, ok)

			require.NoError(t, b.store.DeleteIfEquals(ctx, "missing", "x"))
		})
	}
}

func TestStore_ConcurrentSetIfAbsent(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			const callers = 50

			var created atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					stored, _, err := b.store.SetIfAbsent(ctx, "race", fmt.Sprintf("evt-%d", i), time.Minute)
					if err == nil && stored {
						created.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), created.Load())
		})
	}
}

func TestMemoryStore_SweepsExpired(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < sweepEvery-1; i++ {
		_, _, _ = m.SetIfAbsent(ctx, fmt.Sprintf("old-%d", i), "v", time.Second)
	}
	now = now.Add(2 * time.Second)
	_, _, _ = m.SetIfAbsent(ctx, "fresh", "v", time.Minute)

	assert.Equal(t, 1, m.Len())
}
