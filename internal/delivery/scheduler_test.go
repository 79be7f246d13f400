package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedProcessor struct {
	calls   atomic.Int32
	results []int
	errs    []error
}

func (p *scriptedProcessor) ProcessBatch(ctx context.Context) (int, error) {
	n := int(p.calls.Add(1)) - 1
	var err error
	if n < len(p.errs) {
		err = p.errs[n]
	}
	if n < len(p.results) {
		return p.results[n], err
	}
	return 0, err
}

func runScheduler(t *testing.T, s *Scheduler, ctx context.Context) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return done
}

func TestScheduler_DrainsBacklogWithoutWaiting(t *testing.T) {
	proc := &scriptedProcessor{results: []int{3, 2, 1}}
	s := NewScheduler(proc, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(t, s, ctx)

	deadline := time.After(2 * time.Second)
	for proc.calls.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("expected 4 batches without sleeping, got %d", proc.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	// The fourth batch was empty, so the scheduler waits an hour.
	if got := proc.calls.Load(); got != 4 {
		t.Errorf("expected 4 calls, got %d", got)
	}
}

func TestScheduler_ContinuesAfterError(t *testing.T) {
	proc := &scriptedProcessor{errs: []error{errors.New("db down"), errors.New("db down")}}
	s := NewScheduler(proc, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(t, s, ctx)

	deadline := time.After(2 * time.Second)
	for proc.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("scheduler stopped after errors, %d calls", proc.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	proc := &scriptedProcessor{}
	s := NewScheduler(proc, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := runScheduler(t, s, ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
