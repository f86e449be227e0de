package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// SessionEvent is the structured event published by the Hub, matching
// spec §3's Event shape: { session_id, kind, payload, ts }.
type SessionEvent struct {
	SessionID string
	Kind      string
	Payload   map[string]any
}

// overflowKind marks a synthetic event inserted when a subscriber's
// buffer overflowed and the oldest queued event had to be dropped.
const overflowKind = "overflow"

// Sink receives events for one subscriber. Send must not block the
// Hub — implementations typically wrap a buffered channel.
type Sink interface {
	// Send delivers an event. Returning an error causes the Hub to
	// detach this sink.
	Send(event SessionEvent) error
}

// ChanSink is a Sink backed by a bounded channel with drop-oldest
// overflow behavior.
type ChanSink struct {
	mu     sync.Mutex
	ch     chan SessionEvent
	closed bool
}

// NewChanSink creates a ChanSink with the given buffer bound.
func NewChanSink(buffer int) *ChanSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanSink{ch: make(chan SessionEvent, buffer)}
}

// Events returns the channel to range over for delivery.
func (s *ChanSink) Events() <-chan SessionEvent { return s.ch }

// Send implements Sink. On a full buffer it drops the oldest queued
// event and inserts an overflow marker rather than blocking. When the
// buffer holds more than one event the next-oldest is dropped too, so
// the marker and the new event both fit; with a buffer of one only the
// marker fits and the new event is dropped.
func (s *ChanSink) Send(event SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	select {
	case s.ch <- event:
		return nil
	default:
		droppedKind := ""
		select {
		case old := <-s.ch:
			droppedKind = old.Kind
		default:
		}
		if cap(s.ch) > 1 {
			select {
			case <-s.ch:
			default:
			}
		}
		marker := SessionEvent{SessionID: event.SessionID, Kind: overflowKind, Payload: map[string]any{"dropped_kind": droppedKind}}
		select {
		case s.ch <- marker:
		default:
		}
		select {
		case s.ch <- event:
		default:
		}
		return nil
	}
}

// Close marks the sink closed; subsequent Send calls fail so the Hub
// detaches it.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type sinkErr string

func (e sinkErr) Error() string { return string(e) }

const errSinkClosed = sinkErr("eventbus: sink closed")

// Hub is the per-session multicast fan-out described in spec §4.5.
// It does not use InMemoryBus: it keeps its own subscriber bookkeeping
// so detach can remove an exact sink, and it delivers synchronously in
// the publisher's goroutine, recovering from a panicking sink.
type Hub struct {
	logger *zap.Logger

	mu        sync.RWMutex
	perSess   map[string]map[Sink]struct{}
	broadcast map[Sink]struct{}
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger,
		perSess:   make(map[string]map[Sink]struct{}),
		broadcast: make(map[Sink]struct{}),
	}
}

// Attach registers sink to receive events published for sessionID as
// well as broadcast events.
func (h *Hub) Attach(sessionID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.perSess[sessionID] == nil {
		h.perSess[sessionID] = make(map[Sink]struct{})
	}
	h.perSess[sessionID][sink] = struct{}{}
	h.broadcast[sink] = struct{}{}
}

// Detach removes sink from every session and from broadcast.
func (h *Hub) Detach(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, set := range h.perSess {
		delete(set, sink)
		if len(set) == 0 {
			delete(h.perSess, sessionID)
		}
	}
	delete(h.broadcast, sink)
}

// Publish delivers event to every sink attached to sessionID.
// Delivery is best-effort: a sink whose Send fails is detached.
func (h *Hub) Publish(sessionID string, event SessionEvent) {
	event.SessionID = sessionID
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.perSess[sessionID]))
	for s := range h.perSess[sessionID] {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	h.deliver(sinks, event)
}

// Broadcast delivers event to every attached sink across all sessions.
func (h *Hub) Broadcast(event SessionEvent) {
	h.mu.RLock()
	sinks := make([]Sink, 0, len(h.broadcast))
	for s := range h.broadcast {
		sinks = append(sinks, s)
	}
	h.mu.RUnlock()

	h.deliver(sinks, event)
}

func (h *Hub) deliver(sinks []Sink, event SessionEvent) {
	var failed []Sink
	for _, s := range sinks {
		if err := h.safeSend(s, event); err != nil {
			failed = append(failed, s)
		}
	}
	if len(failed) == 0 {
		return
	}
	for _, s := range failed {
		h.logger.Warn("eventbus hub: detaching sink after send failure")
		h.Detach(s)
	}
}

func (h *Hub) safeSend(s Sink, event SessionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("eventbus hub: sink panicked", zap.Any("panic", r))
			err = errSinkClosed
		}
	}()
	return s.Send(event)
}
