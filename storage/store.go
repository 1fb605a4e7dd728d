package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"workerwatch/collector"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Entry is the latest report accepted for one worker.
type Entry struct {
	Key        string
	Metrics    []collector.Metric // len(collector.Specs), in spec order
	LastUpdate time.Time
}

// Store is the registry of live workers. Every implementation serializes
// Upsert, Snapshot and Sweep against a single lock covering the whole
// registry.
type Store interface {
	// Upsert replaces the entry for key wholesale and stamps it with the
	// store's current time. LastUpdate never moves backwards for a key.
	Upsert(ctx context.Context, key string, metrics []collector.Metric) error

	// Snapshot returns a point-in-time copy of every entry. The returned
	// map and slices are owned by the caller.
	Snapshot(ctx context.Context) (map[string]Entry, error)

	// Sweep removes every entry with now - LastUpdate > ttl and returns
	// how many were removed.
	Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error)

	// Len reports the number of entries currently held.
	Len(ctx context.Context) (int, error)

	// Close releases any resources (e.g. DB connections).
	Close() error
}

// WorkerKey derives the registry key of a worker from its server and
// container names.
func WorkerKey(server, container string) string {
	return server + "_" + container
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp LastUpdate.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open returns the Store named by backend. dbPath is only used by the
// sqlite backend.
func Open(backend, dbPath string, log *zap.Logger, opts ...Option) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemory(opts...), nil
	case BackendSQLite:
		return NewSQLite(dbPath, log, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
