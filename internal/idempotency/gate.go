package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Priya8975/webhook-inbox/internal/kv"
)

const DefaultTTL = 24 * time.Hour

// Gate reserves idempotency keys in a kv.Store.
type Gate struct {
	store kv.Store
	ttl   time.Duration
}

func NewGate(store kv.Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{store: store, ttl: ttl}
}

// TTL is the reservation lifetime used by Admit.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Reserve atomically binds key to candidateEventID unless a live reservation
// exists. created is true for exactly one of any set of concurrent callers;
// eventID is the id now bound to key.
func (g *Gate) Reserve(ctx context.Context, key, candidateEventID string, ttl time.Duration) (created bool, eventID string, err error) {
	stored, current, err := g.store.SetIfAbsent(ctx, key, candidateEventID, ttl)
	if err != nil {
		return false, "", fmt.Errorf("reserving idempotency key: %w", err)
	}
	return stored, current, nil
}

// Admit resolves and reserves the key for one inbound request.
func (g *Gate) Admit(ctx context.Context, source string, headers http.Header, payload []byte, candidateEventID string) (created bool, eventID string, err error) {
	key := Namespaced(source, ResolveKey(headers, payload))
	return g.Reserve(ctx, key, candidateEventID, g.ttl)
}

// Release drops a reservation still bound to eventID, so a request whose
// event could not be stored may be retried.
func (g *Gate) Release(ctx context.Context, source string, headers http.Header, payload []byte, eventID string) error {
	key := Namespaced(source, ResolveKey(headers, payload))
	if err := g.store.DeleteIfEquals(ctx, key, eventID); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}
