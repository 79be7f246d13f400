package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// Breaker gates deliveries per endpoint.
type Breaker interface {
	AllowRequest(ctx context.Context, endpointID string) (string, bool)
	RecordSuccess(ctx context.Context, endpointID string)
	RecordFailure(ctx context.Context, endpointID string)
	GetState(ctx context.Context, endpointID string) CircuitState
}

// CircuitBreaker implements a per-endpoint circuit breaker using Redis.
// State transitions: closed → open → half-open → closed
//
// - Closed: deliveries proceed and failed attempts are counted.
// - Open: deliveries are skipped until the cooldown elapses.
// - Half-Open: a trial delivery is allowed. Success closes, failure re-opens.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	now              func() time.Time
}

// CircuitState is the breaker view exposed on the endpoint health route.
type CircuitState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, failureThreshold int, cooldown time.Duration, logger *slog.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldown,
		now:              time.Now,
	}
}

func cbKey(endpointID string) string {
	return fmt.Sprintf("cb:%s", endpointID)
}

func (cb *CircuitBreaker) cooledDown(lastFailedAt int64) bool {
	return cb.now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds())
}

// AllowRequest reports the current state and whether a delivery to the
// endpoint may proceed. Redis errors leave the circuit closed.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, endpointID string) (string, bool) {
	key := cbKey(endpointID)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		cb.logger.Warn("circuit breaker unavailable, allowing delivery", "endpoint_id", endpointID, "error", err)
		return StateClosed, true
	}
	if len(data) == 0 {
		return StateClosed, true
	}

	switch data["state"] {
	case StateOpen:
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if !cb.cooledDown(lastFailedAt) {
			return StateOpen, false
		}
		if err := cb.redisClient.HSet(ctx, key, "state", StateHalfOpen).Err(); err != nil {
			cb.logger.Error("failed to move circuit to half-open", "endpoint_id", endpointID, "error", err)
		}
		cb.logger.Info("circuit breaker half-open", "endpoint_id", endpointID)
		return StateHalfOpen, true

	case StateHalfOpen:
		return StateHalfOpen, true

	default:
		return StateClosed, true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, endpointID string) {
	key := cbKey(endpointID)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	if err := cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0).Err(); err != nil {
		cb.logger.Error("failed to record circuit breaker success", "endpoint_id", endpointID, "error", err)
		return
	}

	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "endpoint_id", endpointID)
	}
}

// RecordFailure counts a failed attempt and opens the circuit once the
// threshold is reached or a half-open trial fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, endpointID string) {
	key := cbKey(endpointID)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "endpoint_id", endpointID, "error", err)
		return
	}

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()
	next := state
	switch {
	case state == StateHalfOpen:
		next = StateOpen
		cb.logger.Warn("circuit breaker re-opened (half-open trial failed)", "endpoint_id", endpointID)
	case failures >= int64(cb.failureThreshold) && state != StateOpen:
		next = StateOpen
		cb.logger.Warn("circuit breaker opened",
			"endpoint_id", endpointID,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		next = StateClosed
	}

	if err := cb.redisClient.HSet(ctx, key, "state", next, "last_failed_at", cb.now().Unix()).Err(); err != nil {
		cb.logger.Error("failed to update circuit breaker", "endpoint_id", endpointID, "error", err)
	}
}

// GetState returns the breaker state for an endpoint without changing it.
func (cb *CircuitBreaker) GetState(ctx context.Context, endpointID string) CircuitState {
	data, err := cb.redisClient.HGetAll(ctx, cbKey(endpointID)).Result()
	if err != nil || len(data) == 0 {
		return CircuitState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	state := data["state"]
	if state == "" {
		state = StateClosed
	}
	if state == StateOpen && cb.cooledDown(lastFailedAt) {
		state = StateHalfOpen
	}

	result := CircuitState{
		State:    state,
		Failures: failures,
	}
	if lastFailedAt > 0 {
		result.LastFailedAt = time.Unix(lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return result
}
