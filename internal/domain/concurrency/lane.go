// Package concurrency implements the bounded FIFO job lane that caps
// how many subagent operations may run at once.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/pkg/safego"
)

// ErrBackpressure is returned by Enqueue when the lane is bounded and
// already holds maxQueue pending jobs.
var ErrBackpressure = errors.New("concurrency: backpressure")

// ErrCancelled is the error a Handle resolves with when Cancel removed
// it before it started running.
var ErrCancelled = errors.New("concurrency: cancelled")

// Operation is the deferred work submitted to the lane. It MUST observe
// ctx cancellation between blocking steps and MUST NOT retain ctx past
// return.
type Operation func(ctx context.Context) (string, error)

// Handle resolves to the result or failure of one enqueued operation.
type Handle struct {
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	result string
	err    error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(result string, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.result, h.err = result, err
		h.mu.Unlock()
		close(h.done)
	})
}

// Wait blocks until the operation completes or ctx is done, whichever
// is first. Cancelling ctx here only stops this caller from waiting —
// it does not cancel the underlying job.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done reports whether the handle has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

type job struct {
	id     string
	op     Operation
	handle *Handle
	ctx    context.Context
	cancel context.CancelFunc
}

// Status is a consistent snapshot of the lane's occupancy.
type Status struct {
	Max        int
	Active     int
	Queued     int
	RunningIDs []string
}

// Lane is a bounded FIFO queue of jobs with at most Max concurrently
// executing, grounded on the original source's ConcurrencyQueue (a
// deque plus asyncio.Task bookkeeping processed by a single driver
// loop). Here the driver loop is drain, kicked whenever the
// occupancy changes, running under the lane's own mutex for queue
// bookkeeping but never while a job itself executes.
type Lane struct {
	max      int
	maxQueue int // 0 = unbounded
	logger   *zap.Logger

	mu         sync.Mutex
	waiting    []*job
	running    map[string]*job
	processing bool
}

// NewLane creates a lane that runs at most max operations concurrently.
// maxQueue bounds the pending (not yet running) job count; 0 means
// unbounded.
func NewLane(max, maxQueue int, logger *zap.Logger) *Lane {
	if max < 1 {
		max = 1
	}
	return &Lane{
		max:      max,
		maxQueue: maxQueue,
		logger:   logger,
		running:  make(map[string]*job),
	}
}

// Enqueue atomically appends a job and returns a handle that resolves
// to its result or failure. Dispatch is FIFO among queued jobs; ties
// from batch arrival are broken by enqueue order (slice append order).
func (l *Lane) Enqueue(jobID string, op Operation) (*Handle, error) {
	l.mu.Lock()
	if l.maxQueue > 0 && len(l.waiting) >= l.maxQueue {
		l.mu.Unlock()
		return nil, ErrBackpressure
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{id: jobID, op: op, handle: newHandle(), ctx: ctx, cancel: cancel}
	l.waiting = append(l.waiting, j)
	started := l.kickLocked()
	l.mu.Unlock()

	if started {
		safego.Go(l.logger, "concurrency-lane-drain", l.drain)
	}
	return j.handle, nil
}

// kickLocked marks the lane as actively draining if it is not already,
// returning true the caller should start a drain goroutine.
func (l *Lane) kickLocked() bool {
	if l.processing {
		return false
	}
	l.processing = true
	return true
}

// drain pops jobs off the front of the queue while a slot is free,
// running each in its own goroutine, until the queue is empty or the
// lane is saturated.
func (l *Lane) drain() {
	for {
		l.mu.Lock()
		if len(l.waiting) == 0 || len(l.running) >= l.max {
			l.processing = false
			l.mu.Unlock()
			return
		}
		j := l.waiting[0]
		l.waiting = l.waiting[1:]
		l.running[j.id] = j
		l.mu.Unlock()

		safego.Go(l.logger, "concurrency-lane-job:"+j.id, func() { l.execute(j) })
	}
}

func (l *Lane) execute(j *job) {
	defer func() {
		l.mu.Lock()
		delete(l.running, j.id)
		started := l.kickLocked()
		l.mu.Unlock()
		if started {
			l.drain()
		}
	}()
	defer j.cancel()

	result, err := l.safeInvoke(j)
	j.handle.resolve(result, err)
}

// safeInvoke runs the operation, turning a panic into a handle failure
// instead of crashing the lane.
func (l *Lane) safeInvoke(j *job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("concurrency lane: operation panicked",
				zap.String("job_id", j.id),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return j.op(j.ctx)
}

// Cancel cancels a job. If it is still queued, it is removed and its
// handle fails with ErrCancelled. If it is already running, its
// cancellation signal is asserted. Returns false if no such job is
// known.
func (l *Lane) Cancel(jobID string) bool {
	l.mu.Lock()
	for i, j := range l.waiting {
		if j.id == jobID {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			l.mu.Unlock()
			j.cancel()
			j.handle.resolve("", ErrCancelled)
			return true
		}
	}
	if j, ok := l.running[jobID]; ok {
		l.mu.Unlock()
		j.cancel()
		return true
	}
	l.mu.Unlock()
	return false
}

// Status returns a consistent snapshot of the lane's occupancy.
func (l *Lane) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	return Status{
		Max:        l.max,
		Active:     len(l.running),
		Queued:     len(l.waiting),
		RunningIDs: ids,
	}
}
