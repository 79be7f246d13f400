package kv

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a process-local Store guarded by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	writes  int

	// Now is the clock used for expiry; tests replace it.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		Now:     time.Now,
	}
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return false, e.value, nil
	}

	m.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}

	m.writes++
	if m.writes%sweepEvery == 0 {
		m.sweepLocked(now)
	}
	return true, value, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.Now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) DeleteIfEquals(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.value == value {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of entries, live or expired but not yet swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}
