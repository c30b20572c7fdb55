// Package scheduler drives chunk fetches with bounded concurrency. Chunks
// queue by priority, duplicates collapse while a chunk is queued or in
// flight, and request starts are paced so the wallet gateway is never burst.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"golang.org/x/time/rate"

	"pixel-canvas/internal/grid"
)

// Defaults match the gateway's tolerated request profile.
const (
	DefaultMaxInFlight     = 3
	DefaultRequestInterval = 50 * time.Millisecond
)

// Fetch loads one chunk. A nil return means the chunk's data was merged;
// an error leaves the chunk unloaded so a later pass schedules it again.
type Fetch func(ctx context.Context, desc grid.ChunkDescriptor) error

// Options configures a Scheduler.
type Options struct {
	// Fetch is invoked for each dispatched chunk. Required.
	Fetch Fetch
	// MaxInFlight bounds concurrent fetches. Defaults to DefaultMaxInFlight.
	MaxInFlight int
	// RequestInterval is the minimum spacing between fetch starts.
	// Defaults to DefaultRequestInterval.
	RequestInterval time.Duration
	// Logger receives fetch failures. Required.
	Logger *log.Logger
	// OnResult, if set, observes each completed fetch.
	OnResult func(key grid.ChunkKey, err error)
}

// Scheduler dispatches queued chunk fetches nearest-first.
type Scheduler struct {
	fetch    Fetch
	limiter  *rate.Limiter
	swg      sizedwaitgroup.SizedWaitGroup
	logger   *log.Logger
	onResult func(grid.ChunkKey, error)

	mu       sync.Mutex
	queue    chunkQueue
	queued   map[grid.ChunkKey]*queueItem
	inflight map[grid.ChunkKey]struct{}
	seq      uint64

	wake    chan struct{}
	stop    chan struct{}
	cancel  context.CancelFunc
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a stopped scheduler; call Start to begin dispatching.
func New(opts Options) (*Scheduler, error) {
	if opts.Fetch == nil {
		return nil, errors.New("fetch function is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.RequestInterval <= 0 {
		opts.RequestInterval = DefaultRequestInterval
	}

	return &Scheduler{
		fetch:    opts.Fetch,
		limiter:  rate.NewLimiter(rate.Every(opts.RequestInterval), 1),
		swg:      sizedwaitgroup.New(opts.MaxInFlight),
		logger:   opts.Logger,
		onResult: opts.OnResult,
		queued:   make(map[grid.ChunkKey]*queueItem),
		inflight: make(map[grid.ChunkKey]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop. ctx cancellation stops dispatching and
// propagates to in-flight fetches.
func (s *Scheduler) Start(ctx context.Context) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.dispatchLoop(ctx, dispatchCtx)
}

// Stop halts dispatching and waits for in-flight fetches to finish. Chunks
// still queued stay queued.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stop)
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

// Schedule enqueues the chunks that are neither queued nor in flight.
// A chunk already queued has its priority tightened if the new one is
// better. Returns the number of newly enqueued chunks.
func (s *Scheduler) Schedule(descs []grid.ChunkDescriptor) int {
	s.mu.Lock()
	added := 0
	for _, d := range descs {
		if _, busy := s.inflight[d.Key]; busy {
			continue
		}
		if item, ok := s.queued[d.Key]; ok {
			if d.Priority < item.desc.Priority {
				item.desc = d
				heap.Fix(&s.queue, item.index)
			}
			continue
		}
		s.seq++
		item := &queueItem{desc: d, seq: s.seq}
		s.queued[d.Key] = item
		heap.Push(&s.queue, item)
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return added
}

// Trim drops queued chunks for which keep returns false. In-flight fetches
// are never interrupted. Returns the number of dropped chunks.
func (s *Scheduler) Trim(keep func(grid.ChunkKey) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, item := range s.queued {
		if keep(key) {
			continue
		}
		heap.Remove(&s.queue, item.index)
		delete(s.queued, key)
		dropped++
	}
	return dropped
}

// QueueDepth returns the number of queued chunks.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of fetches currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Idle reports whether nothing is queued or in flight.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len() == 0 && len(s.inflight) == 0
}

// dispatchLoop pops and runs queued fetches. dispatchCtx gates the pacing
// and concurrency waits so Stop interrupts them; fetches already launched
// run on ctx and are only drained, never cancelled, by Stop.
func (s *Scheduler) dispatchLoop(ctx, dispatchCtx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		item := heap.Pop(&s.queue).(*queueItem)
		delete(s.queued, item.desc.Key)
		s.inflight[item.desc.Key] = struct{}{}
		s.mu.Unlock()

		if err := s.limiter.Wait(dispatchCtx); err != nil {
			s.requeue(item)
			return
		}
		if err := s.swg.AddWithContext(dispatchCtx); err != nil {
			s.requeue(item)
			return
		}

		s.wg.Add(1)
		go func(desc grid.ChunkDescriptor) {
			defer s.wg.Done()
			defer s.swg.Done()
			defer s.finish(desc.Key)

			err := s.fetch(ctx, desc)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("chunk %s fetch failed: %v", desc.Key, err)
			}
			if s.onResult != nil {
				s.onResult(desc.Key, err)
			}
		}(item.desc)
	}
}

func (s *Scheduler) finish(key grid.ChunkKey) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// requeue returns a popped chunk to the queue when dispatch was interrupted
// before its fetch started.
func (s *Scheduler) requeue(item *queueItem) {
	s.mu.Lock()
	delete(s.inflight, item.desc.Key)
	s.queued[item.desc.Key] = item
	heap.Push(&s.queue, item)
	s.mu.Unlock()
}

// queueItem is one heap entry.
type queueItem struct {
	desc  grid.ChunkDescriptor
	seq   uint64
	index int
}

// chunkQueue orders by ascending priority, then by insertion order.
type chunkQueue []*queueItem

func (q chunkQueue) Len() int { return len(q) }

func (q chunkQueue) Less(i, j int) bool {
	if q[i].desc.Priority != q[j].desc.Priority {
		return q[i].desc.Priority < q[j].desc.Priority
	}
	return q[i].seq < q[j].seq
}

func (q chunkQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *chunkQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *chunkQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
