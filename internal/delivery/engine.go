// Package delivery fans admitted events out to active endpoints, retrying
// failed pairs on a backoff schedule until they succeed or dead-letter.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Priya8975/webhook-inbox/internal/admission"
	"github.com/Priya8975/webhook-inbox/internal/domain"
	"github.com/Priya8975/webhook-inbox/internal/metrics"
	"github.com/Priya8975/webhook-inbox/internal/notify"
	"github.com/Priya8975/webhook-inbox/internal/store"
	"github.com/Priya8975/webhook-inbox/internal/websocket"
)

// Broadcaster receives every recorded attempt. Implemented by websocket.Hub.
type Broadcaster interface {
	Broadcast(evt websocket.DeliveryEvent)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(websocket.DeliveryEvent) {}

type EngineConfig struct {
	BatchSize   int
	Concurrency int
	Policy      RetryPolicy
	// SkipDelay defers a pair skipped because its endpoint circuit is open.
	SkipDelay time.Duration
}

// Engine processes one batch of due events per ProcessBatch call.
type Engine struct {
	store     store.Store
	leases    *Leases
	deliverer *Deliverer
	cfg       EngineConfig
	logger    *slog.Logger

	breaker     Breaker
	limiter     *admission.Limiter
	recorder    metrics.Recorder
	broadcaster Broadcaster
	notifier    notify.Notifier
	now         func() time.Time
}

type EngineOption func(*Engine)

// WithBreaker skips endpoints whose circuit is open.
func WithBreaker(b Breaker) EngineOption {
	return func(e *Engine) { e.breaker = b }
}

// WithEndpointLimiter enforces Endpoint.RateLimitPerMinute.
func WithEndpointLimiter(l *admission.Limiter) EngineOption {
	return func(e *Engine) { e.limiter = l }
}

func WithRecorder(r metrics.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

func WithBroadcaster(b Broadcaster) EngineOption {
	return func(e *Engine) { e.broadcaster = b }
}

func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st store.Store, leases *Leases, deliverer *Deliverer, cfg EngineConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Policy.Schedule == nil {
		cfg.Policy.Schedule = DefaultSchedule
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SkipDelay <= 0 {
		cfg.SkipDelay = 30 * time.Second
	}

	e := &Engine{
		store:       st,
		leases:      leases,
		deliverer:   deliverer,
		cfg:         cfg,
		logger:      logger,
		recorder:    metrics.Nop{},
		broadcaster: nopBroadcaster{},
		notifier:    notify.Nop{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pairJob is one due pair of the current batch. slot is written only by
// the goroutine delivering the pair.
type pairJob struct {
	event    *domain.Event
	endpoint *domain.Endpoint
	try      int
	slot     *pairOutcome
	recorded bool
}

// postpone keeps a skipped pair pending until at.
func (j *pairJob) postpone(at time.Time) {
	at = at.UTC()
	j.slot.next = &at
}

// ProcessBatch attempts every due pair of up to BatchSize due events and
// returns the number of attempts recorded.
func (e *Engine) ProcessBatch(ctx context.Context) (int, error) {
	now := e.now()

	events, err := e.store.DueEvents(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("loading due events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	endpoints, err := e.store.ListEndpoints(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("loading active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return 0, nil
	}

	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	latest, err := e.store.LatestAttempts(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("loading latest attempts: %w", err)
	}

	outcomes := make([][]pairOutcome, len(events))
	var jobs []*pairJob
	for i := range events {
		ev := &events[i]
		outcomes[i] = make([]pairOutcome, len(endpoints))
		for j := range endpoints {
			ep := &endpoints[j]

			var last *domain.DeliveryAttempt
			if a, ok := latest[domain.PairKey{EventID: ev.ID, EndpointID: ep.ID}]; ok {
				last = &a
			}
			state, try := e.cfg.Policy.Classify(last, now)

			slot := &outcomes[i][j]
			slot.state = state
			slot.attempted = last != nil
			if state == PairWaiting {
				slot.next = last.NextAttemptAt
			}
			if state == PairDue {
				jobs = append(jobs, &pairJob{event: ev, endpoint: ep, try: try, slot: slot})
			}
		}
	}

	p := pool.New().WithMaxGoroutines(e.cfg.Concurrency)
	for _, job := range jobs {
		p.Go(func() {
			e.deliverPair(ctx, job)
		})
	}
	p.Wait()

	processed := 0
	for _, job := range jobs {
		if job.recorded {
			processed++
		}
	}

	var errs []error
	for i := range events {
		ev := &events[i]
		status, next := aggregateStatus(outcomes[i])
		if status == ev.Status && sameTime(next, ev.NextAttemptAt) {
			continue
		}
		if err := e.store.UpdateEventStatus(ctx, ev.ID, status, next); err != nil {
			errs = append(errs, fmt.Errorf("updating event %s: %w", ev.ID, err))
		}
	}

	return processed, errors.Join(errs...)
}

func (e *Engine) deliverPair(ctx context.Context, job *pairJob) {
	ev, ep := job.event, job.endpoint
	logger := e.logger.With("event_id", ev.ID, "endpoint_id", ep.ID, "try", job.try)

	release, ok, err := e.leases.Acquire(ctx, ev.ID, ep.ID)
	if err != nil {
		logger.Error("failed to acquire lease", "error", err)
		return
	}
	if !ok {
		logger.Debug("pair leased by another worker")
		return
	}
	defer release()

	// The batch snapshot may predate an attempt another worker recorded
	// before this lease was taken.
	fresh, err := e.store.LatestAttempt(ctx, ev.ID, ep.ID)
	if err != nil {
		logger.Error("failed to reload pair state", "error", err)
		return
	}
	if state, try := e.cfg.Policy.Classify(fresh, e.now()); state != PairDue || try != job.try {
		logger.Info("pair already attempted by another worker", "state", state.String(), "next_try", try)
		job.slot.state = state
		job.slot.attempted = fresh != nil
		job.slot.next = nil
		if state == PairWaiting {
			job.slot.next = fresh.NextAttemptAt
		}
		return
	}

	if e.breaker != nil {
		if state, allowed := e.breaker.AllowRequest(ctx, ep.ID); !allowed {
			logger.Debug("skipping endpoint", "circuit", state)
			job.postpone(e.now().Add(e.cfg.SkipDelay))
			return
		}
	}

	if e.limiter != nil && ep.RateLimitPerMinute != nil {
		d, _ := e.limiter.Take(ctx, "endpoint:"+ep.ID, *ep.RateLimitPerMinute)
		if !d.Allowed {
			logger.Debug("endpoint rate limit reached", "retry_after", d.RetryAfter)
			job.postpone(e.now().Add(d.RetryAfter))
			return
		}
	}

	sentAt := e.now().UTC()
	res := e.deliverer.Deliver(ctx, ep.URL, ev.ContentType(), ev.Payload)
	if ctx.Err() != nil {
		logger.Info("delivery interrupted by shutdown, leaving pair due")
		return
	}

	body := res.ResponseBody()
	attempt := domain.DeliveryAttempt{
		EventID:      ev.ID,
		EndpointID:   ep.ID,
		Try:          job.try,
		SentAt:       sentAt,
		ResponseCode: res.StatusCode,
		ResponseBody: &body,
		Success:      res.Success,
		DurationMs:   res.Duration.Milliseconds(),
	}
	if !res.Success {
		attempt.NextAttemptAt = e.cfg.Policy.NextAttempt(job.try, e.now())
	}

	if err := e.store.AppendAttempt(ctx, &attempt); err != nil {
		if errors.Is(err, store.ErrDuplicateAttempt) {
			logger.Info("attempt already recorded by another worker")
		} else {
			logger.Error("failed to record delivery attempt", "error", err)
		}
		return
	}
	job.recorded = true
	job.slot.attempted = true

	e.observe(ctx, logger, job, &attempt, res)
}

// observe updates the pair slot and reports the recorded attempt.
func (e *Engine) observe(ctx context.Context, logger *slog.Logger, job *pairJob, a *domain.DeliveryAttempt, res Result) {
	ev, ep := job.event, job.endpoint

	code := 0
	if a.ResponseCode != nil {
		code = *a.ResponseCode
	}

	evt := websocket.DeliveryEvent{
		EventID:       ev.ID,
		Source:        ev.Source,
		EndpointID:    ep.ID,
		EndpointURL:   ep.URL,
		Try:           a.Try,
		StatusCode:    a.ResponseCode,
		DurationMs:    a.DurationMs,
		NextAttemptAt: a.NextAttemptAt,
		Timestamp:     a.SentAt,
	}
	if res.ErrorKind != "" {
		evt.Error = res.ErrorKind
	}

	var outcome string
	switch {
	case a.Success:
		job.slot.state = PairDelivered
		outcome = metrics.DeliverySucceeded
		evt.Type = websocket.TypeDelivered
		logger.Info("delivery successful", "status_code", code, "duration_ms", a.DurationMs)

	case a.NextAttemptAt != nil:
		job.slot.state = PairWaiting
		job.slot.next = a.NextAttemptAt
		outcome = metrics.DeliveryFailed
		evt.Type = websocket.TypeRetrying
		logger.Warn("delivery failed",
			"status_code", code,
			"error_kind", res.ErrorKind,
			"duration_ms", a.DurationMs,
			"next_attempt_at", a.NextAttemptAt,
		)

	default:
		job.slot.state = PairDeadLettered
		outcome = metrics.DeliveryDeadLetter
		evt.Type = websocket.TypeDeadLetter
		logger.Warn("delivery dead-lettered",
			"status_code", code,
			"error_kind", res.ErrorKind,
		)
	}

	if e.breaker != nil {
		if a.Success {
			e.breaker.RecordSuccess(ctx, ep.ID)
		} else {
			e.breaker.RecordFailure(ctx, ep.ID)
		}
	}

	e.recorder.DeliveryRecorded(outcome, code, res.Duration)
	e.broadcaster.Broadcast(evt)

	if job.slot.state == PairDeadLettered {
		err := e.notifier.DeadLettered(ctx, notify.DeadLetter{
			EventID:      ev.ID,
			Source:       ev.Source,
			EndpointID:   ep.ID,
			EndpointURL:  ep.URL,
			Tries:        a.Try,
			ResponseCode: a.ResponseCode,
			DeadAt:       a.SentAt,
		})
		if err != nil {
			logger.Error("failed to publish dead letter", "error", err)
		}
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
