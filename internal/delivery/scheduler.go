package delivery

import (
	"context"
	"log/slog"
	"time"
)

// BatchProcessor is implemented by Engine.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// Scheduler drives a BatchProcessor until its context is cancelled.
type Scheduler struct {
	engine       BatchProcessor
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewScheduler(engine BatchProcessor, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Scheduler{
		engine:       engine,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run processes batches back to back while work is found and waits one
// poll interval after an empty or failed batch.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("delivery scheduler started", "poll_interval", s.pollInterval)

	for {
		if ctx.Err() != nil {
			s.logger.Info("delivery scheduler stopping")
			return
		}

		processed, err := s.engine.ProcessBatch(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("delivery batch failed", "error", err)
		}
		if err == nil && processed > 0 {
			s.logger.Debug("delivery batch processed", "attempts", processed)
			continue
		}

		if sleepContext(ctx, s.pollInterval) != nil {
			s.logger.Info("delivery scheduler stopping")
			return
		}
	}
}
