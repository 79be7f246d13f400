package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/webhook-inbox/internal/kv"
)

// Leases keeps two workers from sending the same pair at once. A lease
// outlives the longest possible send so a crashed holder frees it.
type Leases struct {
	store  kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// LeaseTTL covers every inline try of one attempt plus a margin.
func LeaseTTL(httpTimeout time.Duration, inlineRetries int) time.Duration {
	return httpTimeout*time.Duration(inlineRetries+1) + 5*time.Second
}

func NewLeases(store kv.Store, ttl time.Duration, logger *slog.Logger) *Leases {
	return &Leases{store: store, ttl: ttl, logger: logger}
}

func leaseKey(eventID, endpointID string) string {
	return fmt.Sprintf("lease:%s:%s", eventID, endpointID)
}

// Acquire takes the pair lease. When ok is false another worker holds it.
// release must be called once the attempt is recorded.
func (l *Leases) Acquire(ctx context.Context, eventID, endpointID string) (release func(), ok bool, err error) {
	key := leaseKey(eventID, endpointID)
	token := uuid.NewString()

	stored, _, err := l.store.SetIfAbsent(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !stored {
		return nil, false, nil
	}

	release = func() {
		if err := l.store.DeleteIfEquals(context.WithoutCancel(ctx), key, token); err != nil {
			l.logger.Warn("failed to release lease", "key", key, "error", err)
		}
	}
	return release, true, nil
}
