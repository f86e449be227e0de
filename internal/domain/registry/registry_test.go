package registry

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	runs map[string]*SubAgentRun
}

func newMemStore() *memStore { return &memStore{runs: make(map[string]*SubAgentRun)} }

func (s *memStore) Upsert(ctx context.Context, run *SubAgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run.clone()
	return nil
}

func (s *memStore) LoadNonTerminal(ctx context.Context) ([]*SubAgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SubAgentRun
	for _, r := range s.runs {
		if !isTerminal(r.Status) {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

func TestRegistry_Monotonicity(t *testing.T) {
	store := newMemStore()
	reg := New(store, zap.NewNop())

	run := &SubAgentRun{ParentSessionID: "s1", Task: "t1"}
	registered, err := reg.Register(context.Background(), run)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.Status != StatusPending {
		t.Fatalf("expected pending, got %s", registered.Status)
	}

	if _, err := reg.Update(context.Background(), registered.RunID, StatusCompleted, "done", ""); err == nil {
		t.Fatalf("expected invalid transition pending->completed to be rejected")
	}

	if _, err := reg.Update(context.Background(), registered.RunID, StatusRunning, "", ""); err != nil {
		t.Fatalf("pending->running: %v", err)
	}

	final, err := reg.Update(context.Background(), registered.RunID, StatusCompleted, "done", "")
	if err != nil {
		t.Fatalf("running->completed: %v", err)
	}
	if final.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	if _, err := reg.Update(context.Background(), registered.RunID, StatusRunning, "", ""); err == nil {
		t.Fatalf("expected transition out of terminal state to be rejected")
	}
}

func TestRegistry_EventPrecedence(t *testing.T) {
	store := newMemStore()
	reg := New(store, zap.NewNop())

	var events []string
	var mu sync.Mutex
	reg.Subscribe("s1", func(event string, run *SubAgentRun) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	run, err := reg.Register(context.Background(), &SubAgentRun{ParentSessionID: "s1", Task: "t"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Update(context.Background(), run.RunID, StatusRunning, "", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 || events[0] != "registered" || events[1] != "updated" {
		t.Fatalf("expected [registered updated], got %v", events)
	}
}
