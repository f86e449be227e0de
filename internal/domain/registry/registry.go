// Package registry tracks the lifecycle of every subagent run with a
// durable, monotonic state machine and per-session change
// notifications.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/relayforge/gateway/pkg/errors"
)

// RunStatus is the lifecycle status of a subagent run. Values mirror
// the original source's RunStatus(str, Enum) exactly.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
	StatusTimeout   RunStatus = "timeout"
)

// validTransitions is the DAG of allowed status transitions, the same
// shape as the teacher's state_machine.go validTransitions map.
var validTransitions = map[RunStatus]map[RunStatus]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusError:     true,
		StatusTimeout:   true,
	},
	StatusCompleted: {},
	StatusError:     {},
	StatusTimeout:   {},
}

func isTerminal(s RunStatus) bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// SubAgentRun is the durable record tracked by the Registry. Field set
// matches spec §3 exactly.
type SubAgentRun struct {
	RunID           string
	ParentSessionID string
	Task            string
	Label           string
	Status          RunStatus
	Result          string
	Error           string
	Model           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

func (r *SubAgentRun) clone() *SubAgentRun {
	c := *r
	return &c
}

// Store is the durable persistence boundary. Implementations must
// upsert keyed by RunID and support loading non-terminal runs for
// startup recovery.
type Store interface {
	Upsert(ctx context.Context, run *SubAgentRun) error
	LoadNonTerminal(ctx context.Context) ([]*SubAgentRun, error)
}

// Listener is notified of registry events for one session.
type Listener func(event string, run *SubAgentRun)

// Registry is the in-memory, durable-backed tracker of every
// SubAgentRun. Grounded on original_source/core/registry.py's
// SubAgentRegistry, with persistence delegated to a Store.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	runs      map[string]*SubAgentRun
	listeners map[string][]Listener
}

// New creates a Registry backed by store. Call Recover at startup to
// load non-terminal runs into memory.
func New(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:     store,
		logger:    logger,
		runs:      make(map[string]*SubAgentRun),
		listeners: make(map[string][]Listener),
	}
}

// Recover loads runs left in PENDING/RUNNING by a prior process into
// memory. RUNNING runs whose start time (or creation time, if never
// started) is older than orphanAfter are marked ERROR with reason
// "orphaned"; PENDING runs are left as they are (spec §4.4 recovery
// policy).
func (r *Registry) Recover(ctx context.Context, orphanAfter time.Duration) error {
	runs, err := r.store.LoadNonTerminal(ctx)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("registry: failed to load non-terminal runs", err)
	}

	r.mu.Lock()
	for _, run := range runs {
		r.runs[run.RunID] = run
	}
	r.mu.Unlock()

	if orphanAfter <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-orphanAfter)
	for _, run := range runs {
		if run.Status != StatusRunning {
			continue
		}
		ref := run.CreatedAt
		if run.StartedAt != nil {
			ref = *run.StartedAt
		}
		if ref.Before(cutoff) {
			r.logger.Warn("registry: marking stranded run orphaned",
				zap.String("run_id", run.RunID))
			if _, err := r.Update(ctx, run.RunID, StatusError, "", "orphaned"); err != nil {
				r.logger.Error("registry: failed to mark orphaned run", zap.Error(err))
			}
		}
	}
	return nil
}

// Register assigns an identity if missing, persists the run, and
// notifies the parent session's listeners of "registered".
func (r *Registry) Register(ctx context.Context, run *SubAgentRun) (*SubAgentRun, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	r.runs[run.RunID] = run.clone()
	r.mu.Unlock()

	if err := r.store.Upsert(ctx, run); err != nil {
		r.mu.Lock()
		delete(r.runs, run.RunID)
		r.mu.Unlock()
		return nil, apperrors.NewInternalErrorWithCause("registry: persist failed", err)
	}

	r.notify(run.ParentSessionID, "registered", run)
	return run, nil
}

// Update applies a status transition, persists it, and notifies
// "updated". Transitions violating the state DAG are rejected.
func (r *Registry) Update(ctx context.Context, runID string, status RunStatus, result, errMsg string) (*SubAgentRun, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return nil, apperrors.NewNotFoundError("registry: run not found: " + runID)
	}

	allowed := validTransitions[run.Status]
	if !allowed[status] {
		r.mu.Unlock()
		return nil, apperrors.NewInvalidTransitionError(
			"registry: invalid transition " + string(run.Status) + " -> " + string(status))
	}

	prev := run.clone()
	run.Status = status
	if result != "" {
		run.Result = result
	}
	if errMsg != "" {
		run.Error = errMsg
	}
	now := time.Now().UTC()
	if status == StatusRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if isTerminal(status) {
		run.CompletedAt = &now
	}
	snapshot := run.clone()
	r.mu.Unlock()

	if err := r.store.Upsert(ctx, snapshot); err != nil {
		// roll back in-memory state to the last durably persisted snapshot
		r.mu.Lock()
		r.runs[runID] = prev
		r.mu.Unlock()
		return nil, apperrors.NewInternalErrorWithCause("registry: persist failed", err)
	}

	r.notify(snapshot.ParentSessionID, "updated", snapshot)
	return snapshot, nil
}

// Get returns a copy of a run by id.
func (r *Registry) Get(runID string) (*SubAgentRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	return run.clone(), true
}

// ListBySession returns copies of all runs for a session.
func (r *Registry) ListBySession(sessionID string) []*SubAgentRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SubAgentRun
	for _, run := range r.runs {
		if run.ParentSessionID == sessionID {
			out = append(out, run.clone())
		}
	}
	return out
}

// ListActive returns copies of all pending/running runs.
func (r *Registry) ListActive() []*SubAgentRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SubAgentRun
	for _, run := range r.runs {
		if run.Status == StatusPending || run.Status == StatusRunning {
			out = append(out, run.clone())
		}
	}
	return out
}

// Subscribe registers a listener for a session's run events.
func (r *Registry) Subscribe(sessionID string, fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[sessionID] = append(r.listeners[sessionID], fn)
}

// Unsubscribe removes all listeners for a session. Callers that need
// fine-grained removal should track and discard their own Listener
// closures; the registry keys only by session.
func (r *Registry) Unsubscribe(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, sessionID)
}

func (r *Registry) notify(sessionID, event string, run *SubAgentRun) {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners[sessionID]...)
	r.mu.RUnlock()

	snapshot := run.clone()
	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("registry: listener panicked", zap.Any("panic", rec))
				}
			}()
			fn(event, snapshot)
		}()
	}
}
