package delivery

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestCB(t *testing.T) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(client, 5, 30*time.Second, testLogger())
	cb.now = clock.Now
	return cb, clock
}

// openCircuitAndExpireCooldown opens the circuit for an endpoint and moves
// the clock past the cooldown.
func openCircuitAndExpireCooldown(t *testing.T, cb *CircuitBreaker, clock *fakeClock, endpointID string) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, endpointID)
	}
	clock.Advance(31 * time.Second)
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := setupTestCB(t)

	state, allowed := cb.AllowRequest(context.Background(), "ep-1")

	if state != StateClosed {
		t.Errorf("expected state %q, got %q", StateClosed, state)
	}
	if !allowed {
		t.Error("new endpoint should be allowed (circuit closed)")
	}
}

func TestCircuitBreaker_GetState_Default(t *testing.T) {
	cb, _ := setupTestCB(t)

	state := cb.GetState(context.Background(), "unknown-ep")

	if state.State != StateClosed {
		t.Errorf("expected state %q, got %q", StateClosed, state.State)
	}
	if state.Failures != 0 {
		t.Errorf("expected 0 failures, got %d", state.Failures)
	}
	if state.LastFailedAt != "" {
		t.Errorf("expected no last failure, got %q", state.LastFailedAt)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "ep-1")
	}

	state, allowed := cb.AllowRequest(ctx, "ep-1")
	if state != StateOpen {
		t.Errorf("expected state %q, got %q", StateOpen, state)
	}
	if allowed {
		t.Error("should NOT be allowed when circuit is open")
	}

	cs := cb.GetState(ctx, "ep-1")
	if cs.Failures != 5 {
		t.Errorf("expected 5 failures, got %d", cs.Failures)
	}
	if cs.LastFailedAt != "2026-01-01T12:00:00Z" {
		t.Errorf("unexpected last failure time %q", cs.LastFailedAt)
	}
}

func TestCircuitBreaker_ConfigurableThreshold(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cb := NewCircuitBreaker(client, 2, time.Minute, testLogger())
	ctx := context.Background()

	cb.RecordFailure(ctx, "ep-1")
	if _, allowed := cb.AllowRequest(ctx, "ep-1"); !allowed {
		t.Fatal("one failure should not open a threshold-2 circuit")
	}
	cb.RecordFailure(ctx, "ep-1")
	if state, allowed := cb.AllowRequest(ctx, "ep-1"); allowed || state != StateOpen {
		t.Errorf("expected open circuit, got %q allowed=%v", state, allowed)
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "ep-1")
	}

	state, allowed := cb.AllowRequest(ctx, "ep-1")
	if state != StateClosed {
		t.Errorf("expected state %q, got %q", StateClosed, state)
	}
	if !allowed {
		t.Error("should be allowed when below threshold")
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cb.RecordFailure(ctx, "ep-1")
	}
	cb.RecordSuccess(ctx, "ep-1")

	cs := cb.GetState(ctx, "ep-1")
	if cs.State != StateClosed {
		t.Errorf("expected state %q after success, got %q", StateClosed, cs.State)
	}
	if cs.Failures != 0 {
		t.Errorf("expected 0 failures after success, got %d", cs.Failures)
	}
}

func TestCircuitBreaker_TransitionsToHalfOpen(t *testing.T) {
	cb, clock := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "ep-1")
	}

	state, allowed := cb.AllowRequest(ctx, "ep-1")
	if state != StateOpen || allowed {
		t.Fatal("circuit should be open and blocking")
	}

	clock.Advance(29 * time.Second)
	if _, allowed := cb.AllowRequest(ctx, "ep-1"); allowed {
		t.Fatal("circuit should stay open during the cooldown")
	}

	clock.Advance(2 * time.Second)
	if got := cb.GetState(ctx, "ep-1").State; got != StateHalfOpen {
		t.Errorf("GetState after cooldown: expected %q, got %q", StateHalfOpen, got)
	}

	state, allowed = cb.AllowRequest(ctx, "ep-1")
	if state != StateHalfOpen {
		t.Errorf("expected state %q, got %q", StateHalfOpen, state)
	}
	if !allowed {
		t.Error("should allow a trial request in half-open state")
	}
}

func TestCircuitBreaker_HalfOpenSuccess_ClosesCircuit(t *testing.T) {
	cb, clock := setupTestCB(t)
	ctx := context.Background()

	openCircuitAndExpireCooldown(t, cb, clock, "ep-1")
	cb.AllowRequest(ctx, "ep-1")

	cb.RecordSuccess(ctx, "ep-1")

	state := cb.GetState(ctx, "ep-1")
	if state.State != StateClosed {
		t.Errorf("expected %q after half-open success, got %q", StateClosed, state.State)
	}
}

func TestCircuitBreaker_HalfOpenFailure_ReopensCircuit(t *testing.T) {
	cb, clock := setupTestCB(t)
	ctx := context.Background()

	openCircuitAndExpireCooldown(t, cb, clock, "ep-1")
	cb.AllowRequest(ctx, "ep-1")

	cb.RecordFailure(ctx, "ep-1")

	state, allowed := cb.AllowRequest(ctx, "ep-1")
	if state != StateOpen {
		t.Errorf("expected %q after half-open failure, got %q", StateOpen, state)
	}
	if allowed {
		t.Error("should NOT be allowed after half-open failure")
	}
}

func TestCircuitBreaker_IsolationBetweenEndpoints(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.RecordFailure(ctx, "ep-1")
	}

	state, allowed := cb.AllowRequest(ctx, "ep-2")
	if state != StateClosed {
		t.Errorf("ep-2 should be closed, got %q", state)
	}
	if !allowed {
		t.Error("ep-2 should be allowed, circuit breakers are per endpoint")
	}
}

func TestCircuitBreaker_RedisDownAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cb := NewCircuitBreaker(client, 1, time.Minute, testLogger())
	mr.Close()

	state, allowed := cb.AllowRequest(context.Background(), "ep-1")
	if state != StateClosed || !allowed {
		t.Errorf("expected closed and allowed with redis down, got %q allowed=%v", state, allowed)
	}
}
