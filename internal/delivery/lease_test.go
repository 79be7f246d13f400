package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/webhook-inbox/internal/kv"
)

func TestLeaseTTL(t *testing.T) {
	assert.Equal(t, 50*time.Second, LeaseTTL(15*time.Second, 2))
	assert.Equal(t, 15*time.Second, LeaseTTL(10*time.Second, 0))
}

func TestLeases_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	leases := NewLeases(kv.NewMemoryStore(), time.Minute, testLogger())

	release, ok, err := leases.Acquire(ctx, "evt-1", "ep-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = leases.Acquire(ctx, "evt-1", "ep-1")
	require.NoError(t, err)
	assert.False(t, ok, "pair is already leased")

	_, ok, err = leases.Acquire(ctx, "evt-1", "ep-2")
	require.NoError(t, err)
	assert.True(t, ok, "other pairs are independent")

	release()

	_, ok, err = leases.Acquire(ctx, "evt-1", "ep-1")
	require.NoError(t, err)
	assert.True(t, ok, "released lease can be taken again")
}

func TestLeases_ReleaseKeepsForeignLease(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	clock := &fakeClock{t: t0}
	store.Now = clock.Now
	leases := NewLeases(store, time.Second, testLogger())

	release, ok, err := leases.Acquire(ctx, "evt-1", "ep-1")
	require.NoError(t, err)
	require.True(t, ok)

	// The lease expires and another worker takes the pair.
	clock.Advance(2 * time.Second)
	_, ok, err = leases.Acquire(ctx, "evt-1", "ep-1")
	require.NoError(t, err)
	require.True(t, ok)

	release()

	_, held, err := store.Get(ctx, leaseKey("evt-1", "ep-1"))
	require.NoError(t, err)
	assert.True(t, held, "a stale release must not drop the new holder's lease")
}
