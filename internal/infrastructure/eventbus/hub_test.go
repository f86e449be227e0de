package eventbus

import (
	"testing"

	"go.uber.org/zap"
)

func TestHub_PublishOnlyToAttachedSession(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := NewChanSink(4)
	b := NewChanSink(4)
	hub.Attach("sess-a", a)
	hub.Attach("sess-b", b)

	hub.Publish("sess-a", SessionEvent{Kind: "thinking"})

	select {
	case ev := <-a.Events():
		if ev.Kind != "thinking" {
			t.Fatalf("unexpected kind %s", ev.Kind)
		}
	default:
		t.Fatalf("expected sess-a sink to receive event")
	}

	select {
	case ev := <-b.Events():
		t.Fatalf("sess-b should not receive sess-a's event, got %v", ev)
	default:
	}
}

func TestHub_BroadcastReachesAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := NewChanSink(4)
	b := NewChanSink(4)
	hub.Attach("sess-a", a)
	hub.Attach("sess-b", b)

	hub.Broadcast(SessionEvent{Kind: "status"})

	for _, sink := range []*ChanSink{a, b} {
		select {
		case ev := <-sink.Events():
			if ev.Kind != "status" {
				t.Fatalf("unexpected kind %s", ev.Kind)
			}
		default:
			t.Fatalf("expected broadcast to reach every sink")
		}
	}
}

func TestHub_OverflowDropsOldestWithMarker(t *testing.T) {
	sink := NewChanSink(1)
	if err := sink.Send(SessionEvent{Kind: "first"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Send(SessionEvent{Kind: "second"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ev := <-sink.Events()
	if ev.Kind != overflowKind {
		t.Fatalf("expected overflow marker first, got %s", ev.Kind)
	}
}

func TestHub_DetachStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sink := NewChanSink(4)
	hub.Attach("s1", sink)
	hub.Detach(sink)

	hub.Publish("s1", SessionEvent{Kind: "thinking"})
	select {
	case ev := <-sink.Events():
		t.Fatalf("expected no delivery after detach, got %v", ev)
	default:
	}
}
