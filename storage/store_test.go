package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workerwatch/collector"
)

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sampleMetrics(running string) []collector.Metric {
	ms := make([]collector.Metric, 0, len(collector.Specs))
	for _, s := range collector.Specs {
		ms = append(ms, collector.Metric{Name: s.Name, Unit: s.Unit, Value: "0"})
	}
	ms[2].Value = running
	return ms
}

type backend struct {
	name string
	open func(t *testing.T, clock *fakeClock) Store
}

var backends = []backend{
	{
		name: BackendMemory,
		open: func(t *testing.T, clock *fakeClock) Store {
			return NewMemory(WithClock(clock.Now))
		},
	},
	{
		name: BackendSQLite,
		open: func(t *testing.T, clock *fakeClock) Store {
			s, err := NewSQLite(":memory:", zap.NewNop(), WithClock(clock.Now))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, b.open(t, clock), clock)
		})
	}
}

func TestWorkerKey(t *testing.T) {
	assert.Equal(t, "node-1_vllm-0", WorkerKey("node-1", "vllm-0"))
	assert.Equal(t, WorkerKey("a", "b"), WorkerKey("a", "b"))
	assert.NotEqual(t, WorkerKey("a", "b"), WorkerKey("a", "c"))
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(BackendSQLite, ":memory:", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", "", zap.NewNop())
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestStore_UpsertThenSnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		ms := sampleMetrics("5")
		require.NoError(t, s.Upsert(ctx, "a_b", ms))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Contains(t, snap, "a_b")
		e := snap["a_b"]
		assert.Equal(t, "a_b", e.Key)
		assert.Equal(t, ms, e.Metrics)
		assert.True(t, clock.Now().Equal(e.LastUpdate), "got %v", e.LastUpdate)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_EmptySnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *fakeClock) {
		snap, err := s.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Empty(t, snap)
	})
}

func TestStore_OverwriteReplacesWholly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "k", sampleMetrics("1")))
		first := clock.Now()
		clock.Add(3 * time.Second)
		require.NoError(t, s.Upsert(ctx, "k", sampleMetrics("2")))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap, 1)
		assert.Equal(t, sampleMetrics("2"), snap["k"].Metrics)
		assert.False(t, snap["k"].LastUpdate.Before(first))
	})
}

func TestStore_LastUpdateNeverDecreases(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "k", sampleMetrics("1")))
		first := clock.Now()
		clock.Add(-time.Minute)
		require.NoError(t, s.Upsert(ctx, "k", sampleMetrics("2")))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.True(t, first.Equal(snap["k"].LastUpdate))
		assert.Equal(t, "2", snap["k"].Metrics[2].Value)
	})
}

func TestStore_SweepRemovesStaleKeepsFresh(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		now := clock.Now()

		clock.Set(now.Add(-15 * time.Second))
		require.NoError(t, s.Upsert(ctx, "stale", sampleMetrics("1")))
		clock.Set(now.Add(-2 * time.Second))
		require.NoError(t, s.Upsert(ctx, "fresh", sampleMetrics("2")))

		removed, err := s.Sweep(ctx, now, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.NotContains(t, snap, "stale")
		assert.Contains(t, snap, "fresh")
	})
}

func TestStore_SweepBoundaryIsStrict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, "k", sampleMetrics("1")))

		removed, err := s.Sweep(ctx, clock.Now().Add(10*time.Second), 10*time.Second)
		require.NoError(t, err)
		assert.Zero(t, removed)

		removed, err = s.Sweep(ctx, clock.Now().Add(10*time.Second+time.Nanosecond), 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		ms := sampleMetrics("1")
		require.NoError(t, s.Upsert(ctx, "k", ms))
		ms[2].Value = "mutated by caller"

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		snap["k"].Metrics[0].Value = "mutated by reader"
		delete(snap, "k")

		again, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, sampleMetrics("1"), again["k"].Metrics)
	})
}

func TestStore_ConcurrentDistinctKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		const workers = 16

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := WorkerKey(fmt.Sprintf("server-%d", i), "c")
				for j := 0; j < 20; j++ {
					assert.NoError(t, s.Upsert(ctx, key, sampleMetrics(fmt.Sprint(i))))
					_, err := s.Snapshot(ctx)
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := s.Sweep(ctx, clock.Now(), time.Hour)
				assert.NoError(t, err)
			}
		}()
		wg.Wait()

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap, workers)
		for i := 0; i < workers; i++ {
			e := snap[WorkerKey(fmt.Sprintf("server-%d", i), "c")]
			assert.Equal(t, sampleMetrics(fmt.Sprint(i)), e.Metrics)
		}
	})
}

func TestSQLite_TableClearedOnOpen(t *testing.T) {
	path := t.TempDir() + "/workers.db"
	ctx := context.Background()

	s, err := NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "k", sampleMetrics("1")))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
