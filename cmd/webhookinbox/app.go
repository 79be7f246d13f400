package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/webhook-inbox/internal/admission"
	"github.com/Priya8975/webhook-inbox/internal/api"
	"github.com/Priya8975/webhook-inbox/internal/config"
	"github.com/Priya8975/webhook-inbox/internal/delivery"
	"github.com/Priya8975/webhook-inbox/internal/idempotency"
	"github.com/Priya8975/webhook-inbox/internal/kv"
	"github.com/Priya8975/webhook-inbox/internal/logging"
	"github.com/Priya8975/webhook-inbox/internal/metrics"
	"github.com/Priya8975/webhook-inbox/internal/notify"
	"github.com/Priya8975/webhook-inbox/internal/signature"
	"github.com/Priya8975/webhook-inbox/internal/store"
	"github.com/Priya8975/webhook-inbox/internal/websocket"
)

// app holds the process-wide components shared by serve and worker.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	redis    *redis.Client
	kv       kv.Store
	counter  admission.Counter
	breaker  delivery.Breaker
	recorder *metrics.Prometheus
	notifier notify.Notifier
	closers  []func()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.Postgres.URL, cfg.Storage.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	return st, nil
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logging.New(cfg.Logging.Level, cfg.Logging.Format),
		recorder: metrics.NewPrometheus(),
		notifier: notify.Nop{},
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, func() { st.Close() })

	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.logger.Info("database ready", "driver", cfg.Storage.Driver)

	if cfg.Redis.URL != "" {
		client, err := store.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, func() { client.Close() })
		a.kv = kv.NewRedisStore(client)
		a.counter = admission.NewRedisCounter(client)
		a.logger.Info("connected to Redis")
	} else {
		a.kv = kv.NewMemoryStore()
		a.counter = admission.NewMemoryCounter()
		a.logger.Info("redis not configured, using in-process reservations and counters")
	}

	if cb := cfg.Delivery.CircuitBreaker; cb.Enabled {
		if a.redis == nil {
			a.logger.Warn("circuit breaker requires redis, disabled")
		} else {
			a.breaker = delivery.NewCircuitBreaker(a.redis, cb.FailureThreshold, cb.Cooldown(), a.logger)
		}
	}

	if cfg.Notify.NatsURL != "" {
		js, err := notify.NewJetStream(ctx, cfg.Notify.NatsURL, cfg.Notify.Subject, a.logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.notifier = js
		a.closers = append(a.closers, js.Close)
		a.logger.Info("publishing dead letters", "subject", cfg.Notify.Subject)
	}

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) limiter() *admission.Limiter {
	perSource := make(map[string]int, len(a.cfg.RateLimit.Sources))
	for _, s := range a.cfg.RateLimit.Sources {
		perSource[strings.TrimSpace(s.Source)] = s.RequestsPerMinute
	}
	return admission.NewLimiter(a.counter, admission.Quotas{
		Default:   a.cfg.RateLimit.DefaultRequestsPerMinute,
		PerSource: perSource,
	}, a.logger)
}

// Engine wires the delivery engine. hub may be nil.
func (a *app) Engine(hub *websocket.Hub) *delivery.Engine {
	d := a.cfg.Delivery

	opts := []delivery.EngineOption{
		delivery.WithEndpointLimiter(a.limiter()),
		delivery.WithRecorder(a.recorder),
		delivery.WithNotifier(a.notifier),
	}
	if a.breaker != nil {
		opts = append(opts, delivery.WithBreaker(a.breaker))
	}
	if hub != nil {
		opts = append(opts, delivery.WithBroadcaster(hub))
	}

	leases := delivery.NewLeases(a.kv, delivery.LeaseTTL(d.HTTPTimeout(), d.InlineRetryCount), a.logger)
	deliverer := delivery.NewDeliverer(d.HTTPTimeout(), d.InlineRetryCount, a.logger)

	return delivery.NewEngine(a.store, leases, deliverer, delivery.EngineConfig{
		BatchSize:   d.BatchSize,
		Concurrency: d.Concurrency,
		Policy: delivery.RetryPolicy{
			Schedule:    d.BackoffSchedule(),
			MaxAttempts: d.MaxAttempts,
		},
		SkipDelay: d.CircuitBreaker.Cooldown(),
	}, a.logger, opts...)
}

func (a *app) RouterDeps(hub *websocket.Hub) api.Dependencies {
	sources := make([]signature.SourceConfig, 0, len(a.cfg.Signatures.Sources))
	for _, s := range a.cfg.Signatures.Sources {
		sources = append(sources, signature.SourceConfig{
			Source:    s.Source,
			Provider:  s.Provider,
			Secret:    s.Secret,
			Require:   s.Require,
			Tolerance: s.Tolerance(),
		})
	}

	ready := map[string]api.Pinger{"store": a.store}
	if a.redis != nil {
		ready["redis"] = a.kv
	}

	return api.Dependencies{
		Store:          a.store,
		Verifier:       signature.NewVerifier(sources),
		Gate:           idempotency.NewGate(a.kv, a.cfg.Idempotency.KeyTTL()),
		Limiter:        a.limiter(),
		Recorder:       a.recorder,
		Breaker:        a.breaker,
		Hub:            hub,
		MetricsHandler: a.recorder.Handler(),
		Ready:          ready,
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		Version:        version,
		Logger:         a.logger,
	}
}
