package storage

import (
	"context"
	"sync"
	"time"

	"workerwatch/collector"
)

// Memory is the default Store: a map guarded by one mutex. It never
// returns an error.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory registry.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		entries: make(map[string]Entry),
		now:     o.now,
	}
}

func (m *Memory) Upsert(_ context.Context, key string, metrics []collector.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()
	if prev, ok := m.entries[key]; ok && ts.Before(prev.LastUpdate) {
		ts = prev.LastUpdate
	}
	m.entries[key] = Entry{
		Key:        key,
		Metrics:    collector.Clone(metrics),
		LastUpdate: ts,
	}
	return nil
}

func (m *Memory) Snapshot(_ context.Context) (map[string]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Entry, len(m.entries))
	for k, e := range m.entries {
		e.Metrics = collector.Clone(e.Metrics)
		out[k] = e
	}
	return out, nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if now.Sub(e.LastUpdate) > ttl {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) Close() error { return nil }
