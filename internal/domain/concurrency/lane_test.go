package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLane_BoundRespected(t *testing.T) {
	lane := NewLane(2, 0, zap.NewNop())

	release := make(chan struct{})
	var active int32
	var maxSeen int32

	block := func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return "ok", nil
	}

	handles := make([]*Handle, 4)
	for i := 0; i < 4; i++ {
		h, err := lane.Enqueue(fmt.Sprintf("job-%d", i), block)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		handles[i] = h
	}

	time.Sleep(50 * time.Millisecond)
	st := lane.Status()
	if st.Active != 2 || st.Queued != 2 {
		t.Fatalf("expected active=2 queued=2, got active=%d queued=%d", st.Active, st.Queued)
	}

	close(release)
	for _, h := range handles {
		if _, err := h.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	if atomic.LoadInt32(&maxSeen) > 2 {
		t.Fatalf("lane exceeded bound: saw %d concurrent", maxSeen)
	}
}

func TestLane_CancelQueued(t *testing.T) {
	lane := NewLane(1, 0, zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	_, err := lane.Enqueue("blocker", func(ctx context.Context) (string, error) {
		<-release
		return "done", nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	h2, err := lane.Enqueue("queued", func(ctx context.Context) (string, error) {
		return "should not run", nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if !lane.Cancel("queued") {
		t.Fatalf("expected cancel to find queued job")
	}

	_, err = h2.Wait(context.Background())
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestLane_PanicBecomesFailure(t *testing.T) {
	lane := NewLane(1, 0, zap.NewNop())
	h, err := lane.Enqueue("panicky", func(ctx context.Context) (string, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	_, err = h.Wait(context.Background())
	if err == nil {
		t.Fatalf("expected panic to surface as handle error")
	}
}

func TestLane_Backpressure(t *testing.T) {
	lane := NewLane(1, 1, zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	if _, err := lane.Enqueue("a", func(ctx context.Context) (string, error) {
		<-release
		return "", nil
	}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := lane.Enqueue("b", func(ctx context.Context) (string, error) {
		<-release
		return "", nil
	}); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if _, err := lane.Enqueue("c", func(ctx context.Context) (string, error) {
		return "", nil
	}); err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}
