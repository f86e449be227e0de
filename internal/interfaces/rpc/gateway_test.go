package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestGateway_UnknownMethodWithID(t *testing.T) {
	g := New(zap.NewNop())
	resp := g.Dispatch(context.Background(), "s1", []byte(`{"jsonrpc":"2.0","method":"nope","id":1}`))
	var r Response
	if err := json.Unmarshal(resp, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Error == nil || r.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found error, got %+v", r)
	}
}

func TestGateway_UnknownNotificationIsIgnored(t *testing.T) {
	g := New(zap.NewNop())
	resp := g.Dispatch(context.Background(), "s1", []byte(`{"jsonrpc":"2.0","method":"nope"}`))
	if resp != nil {
		t.Fatalf("expected nil response for unknown notification, got %s", resp)
	}
}

func TestGateway_ParseErrorAlwaysResponds(t *testing.T) {
	g := New(zap.NewNop())
	resp := g.Dispatch(context.Background(), "s1", []byte(`not json`))
	var r Response
	if err := json.Unmarshal(resp, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Error == nil || r.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", r)
	}
}

func TestGateway_SuccessfulCallReturnsResult(t *testing.T) {
	g := New(zap.NewNop())
	g.RegisterMethod("system.ping", func(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
		return "pong", nil
	})
	resp := g.Dispatch(context.Background(), "s1", []byte(`{"jsonrpc":"2.0","method":"system.ping","id":"abc"}`))
	var r Response
	if err := json.Unmarshal(resp, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Result != "pong" {
		t.Fatalf("expected pong, got %+v", r)
	}
}

func TestGateway_HandlerErrorOnNotificationProducesNoResponse(t *testing.T) {
	g := New(zap.NewNop())
	g.RegisterMethod("chat.send", func(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
		return nil, NewError(CodeInvalidParams, "message is required")
	})
	resp := g.Dispatch(context.Background(), "s1", []byte(`{"jsonrpc":"2.0","method":"chat.send"}`))
	if resp != nil {
		t.Fatalf("expected nil response for a failed notification, got %s", resp)
	}
}
