package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingPlanner struct {
	mu       sync.Mutex
	calls    int
	messages []string
}

func (p *countingPlanner) Run(ctx context.Context, combinedMessage string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.messages = append(p.messages, combinedMessage)
	p.mu.Unlock()
	return "ok:" + combinedMessage, nil
}

func (p *countingPlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestDebounceSession_CoalescesBurstIntoOnePlannerCall(t *testing.T) {
	planner := &countingPlanner{}
	sess := NewDebounceSession("s1", planner, 20, zap.NewNop())

	h1 := sess.HandleMessage("A")
	h2 := sess.HandleMessage("B")
	h3 := sess.HandleMessage("C")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v1, err1 := h1.Wait(ctx)
	v2, err2 := h2.Wait(ctx)
	v3, err3 := h3.Wait(ctx)

	if err1 != nil || err2 != nil || err3 != nil {
		t.Fatalf("unexpected errors: %v %v %v", err1, err2, err3)
	}
	if v1 != v2 || v2 != v3 {
		t.Fatalf("expected all handles to resolve to the same value, got %q %q %q", v1, v2, v3)
	}

	want := "ok:A\n\nB\n\nC"
	if v1 != want {
		t.Fatalf("expected combined message %q, got %q", want, v1)
	}
	if planner.callCount() != 1 {
		t.Fatalf("expected planner invoked exactly once, got %d", planner.callCount())
	}
}

func TestDebounceSession_NewBurstGetsFreshHandle(t *testing.T) {
	planner := &countingPlanner{}
	sess := NewDebounceSession("s1", planner, 10, zap.NewNop())

	h1 := sess.HandleMessage("first")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h1.Wait(ctx); err != nil {
		t.Fatalf("first burst: %v", err)
	}

	h2 := sess.HandleMessage("second")
	if h1 == h2 {
		t.Fatalf("expected a fresh handle for the second burst")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	v2, err := h2.Wait(ctx2)
	if err != nil {
		t.Fatalf("second burst: %v", err)
	}
	if v2 != "ok:second" {
		t.Fatalf("expected ok:second, got %q", v2)
	}
	if planner.callCount() != 2 {
		t.Fatalf("expected two separate planner invocations, got %d", planner.callCount())
	}
}

func TestDebounceSession_CancelFailsPendingHandle(t *testing.T) {
	planner := &countingPlanner{}
	sess := NewDebounceSession("s1", planner, 200, zap.NewNop())

	h := sess.HandleMessage("hello")
	sess.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := h.Wait(ctx)
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
