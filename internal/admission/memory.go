package admission

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type window struct {
	start time.Time
	count int
}

// MemoryCounter keeps one window per key in process memory. Expired windows
// are swept every sweepEvery takes, so keys that stop arriving do not pile up.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	takes   int

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		Now:     time.Now,
	}
}

func (m *MemoryCounter) Take(_ context.Context, key string, limit int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()

	m.takes++
	if m.takes%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.start.Add(Window)) {
		w = &window{start: now}
		m.windows[key] = w
	}

	if w.count >= limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: w.start.Add(Window).Sub(now),
		}, nil
	}

	w.count++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - w.count}, nil
}

// Len returns the number of windows held, expired but unswept ones included.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryCounter) sweepLocked(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.start.Add(Window)) {
			delete(m.windows, k)
		}
	}
}
