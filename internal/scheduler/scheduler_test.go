package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-canvas/internal/grid"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func descriptors(keys ...grid.ChunkKey) []grid.ChunkDescriptor {
	descs := make([]grid.ChunkDescriptor, len(keys))
	for i, k := range keys {
		descs[i] = grid.ChunkDescriptor{Key: k, Priority: float64(i)}
	}
	return descs
}

func TestScheduler_FetchesEveryScheduledChunk(t *testing.T) {
	var mu sync.Mutex
	fetched := make(map[grid.ChunkKey]int)

	s, err := New(Options{
		Fetch: func(_ context.Context, d grid.ChunkDescriptor) error {
			mu.Lock()
			fetched[d.Key]++
			mu.Unlock()
			return nil
		},
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	keys := []grid.ChunkKey{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}
	added := s.Schedule(descriptors(keys...))
	assert.Equal(t, 4, added)

	require.Eventually(t, s.Idle, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, k := range keys {
		assert.Equal(t, 1, fetched[k], "chunk %s", k)
	}
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	release := make(chan struct{})

	s, err := New(Options{
		Fetch: func(_ context.Context, _ grid.ChunkDescriptor) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return nil
		},
		MaxInFlight:     3,
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	s.Start(context.Background())

	var descs []grid.ChunkDescriptor
	for i := 0; i < 10; i++ {
		descs = append(descs, grid.ChunkDescriptor{Key: grid.ChunkKey{X: i}, Priority: float64(i)})
	}
	s.Schedule(descs)

	require.Eventually(t, func() bool { return current.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), peak.Load(), "more than 3 fetches ran concurrently")

	close(release)
	require.Eventually(t, s.Idle, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(3), peak.Load())
}

func TestScheduler_DeduplicatesWhileQueuedOrInFlight(t *testing.T) {
	var fetches atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	s, err := New(Options{
		Fetch: func(_ context.Context, _ grid.ChunkDescriptor) error {
			fetches.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
		MaxInFlight:     1,
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	s.Start(context.Background())

	key := grid.ChunkKey{X: 2, Y: 2}
	assert.Equal(t, 1, s.Schedule(descriptors(key)))
	<-started

	// Re-scheduling an in-flight chunk is a no-op.
	assert.Equal(t, 0, s.Schedule(descriptors(key)))

	// Re-scheduling a queued chunk is a no-op too.
	other := grid.ChunkKey{X: 3, Y: 3}
	assert.Equal(t, 1, s.Schedule(descriptors(other)))
	assert.Equal(t, 0, s.Schedule(descriptors(other)))

	close(release)
	require.Eventually(t, s.Idle, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(2), fetches.Load())
}

func TestScheduler_NearestFirstDispatch(t *testing.T) {
	var mu sync.Mutex
	var order []grid.ChunkKey
	gate := make(chan struct{})

	s, err := New(Options{
		Fetch: func(_ context.Context, d grid.ChunkDescriptor) error {
			<-gate
			mu.Lock()
			order = append(order, d.Key)
			mu.Unlock()
			return nil
		},
		MaxInFlight:     1,
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	// Queue before starting so dispatch sees the full set.
	s.Schedule([]grid.ChunkDescriptor{
		{Key: grid.ChunkKey{X: 9}, Priority: 9},
		{Key: grid.ChunkKey{X: 1}, Priority: 1},
		{Key: grid.ChunkKey{X: 5}, Priority: 5},
	})
	s.Start(context.Background())
	close(gate)

	require.Eventually(t, s.Idle, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []grid.ChunkKey{{X: 1}, {X: 5}, {X: 9}}, order)
}

func TestScheduler_FailureLeavesChunkReschedulable(t *testing.T) {
	var attempts atomic.Int32
	s, err := New(Options{
		Fetch: func(_ context.Context, _ grid.ChunkDescriptor) error {
			if attempts.Add(1) == 1 {
				return errors.New("gateway unavailable")
			}
			return nil
		},
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	key := grid.ChunkKey{X: 4, Y: 4}
	s.Schedule(descriptors(key))
	require.Eventually(t, s.Idle, 2*time.Second, 10*time.Millisecond)

	// The failed chunk is accepted again on the next pass.
	assert.Equal(t, 1, s.Schedule(descriptors(key)))
	require.Eventually(t, s.Idle, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestScheduler_StopDrainsWithoutDispatchingMore(t *testing.T) {
	var fetches atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	s, err := New(Options{
		Fetch: func(_ context.Context, _ grid.ChunkDescriptor) error {
			fetches.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
		MaxInFlight:     1,
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
	})
	require.NoError(t, err)

	s.Start(context.Background())
	s.Schedule(descriptors(grid.ChunkKey{X: 0}, grid.ChunkKey{X: 1}, grid.ChunkKey{X: 2}))
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Stop waits for the running fetch but must not start new ones.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a fetch was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned after the fetch finished")
	}

	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, 2, s.QueueDepth())
	assert.Equal(t, 0, s.InFlight())
}

func TestScheduler_TrimDropsQueuedChunks(t *testing.T) {
	s, err := New(Options{
		Fetch:  func(_ context.Context, _ grid.ChunkDescriptor) error { return nil },
		Logger: testLogger(),
	})
	require.NoError(t, err)

	// Not started: everything stays queued.
	s.Schedule([]grid.ChunkDescriptor{
		{Key: grid.ChunkKey{X: 0}, Priority: 0},
		{Key: grid.ChunkKey{X: 8}, Priority: 8},
		{Key: grid.ChunkKey{X: 9}, Priority: 9},
	})
	require.Equal(t, 3, s.QueueDepth())

	dropped := s.Trim(func(k grid.ChunkKey) bool { return k.X < 5 })
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, s.QueueDepth())

	// Dropped chunks can be scheduled again.
	assert.Equal(t, 1, s.Schedule(descriptors(grid.ChunkKey{X: 8})))
}

func TestScheduler_ResultObserver(t *testing.T) {
	results := make(chan error, 2)
	s, err := New(Options{
		Fetch: func(_ context.Context, d grid.ChunkDescriptor) error {
			if d.Key.X == 1 {
				return errors.New("boom")
			}
			return nil
		},
		RequestInterval: time.Millisecond,
		Logger:          testLogger(),
		OnResult:        func(_ grid.ChunkKey, err error) { results <- err },
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	s.Schedule(descriptors(grid.ChunkKey{X: 0}, grid.ChunkKey{X: 1}))

	var errCount, okCount int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				errCount++
			} else {
				okCount++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}
	assert.Equal(t, 1, errCount)
	assert.Equal(t, 1, okCount)
}
