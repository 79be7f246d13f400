// Package admission applies fixed-window request quotas per source.
package admission

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Window is the length of every admission window.
const Window = time.Minute

const DefaultRequestsPerMinute = 60

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Counter counts hits against a fixed window keyed by an arbitrary string.
// Implemented by MemoryCounter and RedisCounter.
type Counter interface {
	Take(ctx context.Context, key string, limit int) (Decision, error)
}

// Quotas maps sources to requests per minute. A quota <= 0 is unlimited.
type Quotas struct {
	Default   int
	PerSource map[string]int
}

func (q Quotas) For(source string) int {
	if n, ok := q.PerSource[strings.ToLower(source)]; ok {
		return n
	}
	return q.Default
}

// Limiter admits requests against per-source quotas. Counter errors fail
// open with a warning.
type Limiter struct {
	counter Counter
	quotas  Quotas
	logger  *slog.Logger
}

func NewLimiter(counter Counter, quotas Quotas, logger *slog.Logger) *Limiter {
	normalized := make(map[string]int, len(quotas.PerSource))
	for k, v := range quotas.PerSource {
		normalized[strings.ToLower(k)] = v
	}
	quotas.PerSource = normalized
	return &Limiter{counter: counter, quotas: quotas, logger: logger}
}

// Configured reports whether source has its own quota override.
func (l *Limiter) Configured(source string) bool {
	_, ok := l.quotas.PerSource[strings.ToLower(source)]
	return ok
}

// Admit checks the quota of source.
func (l *Limiter) Admit(ctx context.Context, source string) (Decision, error) {
	return l.Take(ctx, "source:"+strings.ToLower(source), l.quotas.For(source))
}

// Take checks an arbitrary key against limit. The delivery engine uses it for
// per-endpoint outbound quotas.
func (l *Limiter) Take(ctx context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	d, err := l.counter.Take(ctx, key, limit)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	if !d.Allowed {
		l.logger.Debug("rate limited", "key", key, "limit", limit, "retry_after", d.RetryAfter)
	}
	return d, nil
}
