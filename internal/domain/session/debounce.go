// Package session implements the debounce/coalescing session: bursts
// of user input on one session_id are joined into a single planner
// turn and share one completion handle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/pkg/safego"
)

// ErrCancelled is returned by a completion handle when the session was
// cancelled before the planner turn resolved.
var ErrCancelled = errors.New("session: cancelled")

// Planner is the minimal surface the Session needs from a planner
// turn. Run receives the joined burst text and returns the assistant's
// final response.
type Planner interface {
	Run(ctx context.Context, combinedMessage string) (string, error)
}

// ProviderSwitcher is implemented by a Planner that can redirect its
// LLM calls to a preferred provider ahead of the router's normal
// failover order. Optional: a Planner need not implement it, in which
// case Manager.SetProvider reports an error.
type ProviderSwitcher interface {
	SetProvider(name string) error
}

// Handle is the Go equivalent of the original's asyncio.Future: a
// value resolved exactly once, observable by any number of waiters.
type Handle struct {
	done chan struct{}
	once sync.Once
	val  string
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(val string, err error) {
	h.once.Do(func() {
		h.val, h.err = val, err
		close(h.done)
	})
}

// Wait blocks until the handle resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DebounceSession coalesces bursts of messages for one session_id into
// a single Planner invocation. Grounded on
// original_source/core/session.py's DebounceSession.
type DebounceSession struct {
	sessionID  string
	planner    Planner
	debounceMs int
	logger     *zap.Logger

	mu       sync.Mutex
	buffer   []string
	pending  *Handle
	timer    *time.Timer
	genID    uint64 // identifies the current debounce generation; guards stale timers
	cancelFn context.CancelFunc
}

// NewDebounceSession creates a session that will debounce for
// debounceMs of silence before invoking planner.
func NewDebounceSession(sessionID string, planner Planner, debounceMs int, logger *zap.Logger) *DebounceSession {
	return &DebounceSession{
		sessionID:  sessionID,
		planner:    planner,
		debounceMs: debounceMs,
		logger:     logger,
	}
}

// SetProvider delegates to the underlying planner if it implements
// ProviderSwitcher, reporting an error otherwise.
func (s *DebounceSession) SetProvider(name string) error {
	switcher, ok := s.planner.(ProviderSwitcher)
	if !ok {
		return fmt.Errorf("session: planner does not support provider override")
	}
	return switcher.SetProvider(name)
}

// HandleMessage appends text to the session's buffer, (re)arms the
// debounce timer, and returns a handle resolving to the burst's final
// planner response — the same handle for every caller coalesced into
// this burst.
func (s *DebounceSession) HandleMessage(text string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, text)

	// A fresh burst: no pending handle, or the previous one already
	// resolved. Each burst gets a brand new handle (spec §9 Open
	// Question (a)).
	if s.pending == nil || isResolved(s.pending) {
		s.pending = newHandle()
	}
	handle := s.pending

	if s.timer != nil {
		s.timer.Stop()
	}
	s.genID++
	gen := s.genID
	s.timer = time.AfterFunc(time.Duration(s.debounceMs)*time.Millisecond, func() {
		safego.Go(s.logger, "debounce-fire:"+s.sessionID, func() { s.fire(gen) })
	})

	return handle
}

func isResolved(h *Handle) bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// fire drains the buffer, joins it, and hands the combined text to the
// planner. If a newer arrival has already bumped genID past gen, this
// firing is stale (a fresh burst already started) and does nothing.
func (s *DebounceSession) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.genID {
		s.mu.Unlock()
		return
	}
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	combined := strings.Join(s.buffer, "\n\n")
	s.buffer = nil
	handle := s.pending
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel
	s.mu.Unlock()

	result, err := s.planner.Run(ctx, combined)
	handle.resolve(result, err)
}

// Cancel asserts the session's cancel signal: the in-flight planner
// turn (if any) is cancelled and its shared handle fails with
// ErrCancelled. Cancelling the session does NOT cancel a single
// caller's Wait — that is controlled by the ctx passed to Wait.
func (s *DebounceSession) Cancel() {
	s.mu.Lock()
	cancel := s.cancelFn
	handle := s.pending
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.resolve("", ErrCancelled)
	}
}
