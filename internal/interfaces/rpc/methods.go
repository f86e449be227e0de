package rpc

import (
	"context"
	"encoding/json"

	"github.com/relayforge/gateway/internal/domain/session"
)

// chatSendParams is chat.send's params shape (spec §4.8).
type chatSendParams struct {
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
}

// RegisterCoreMethods wires chat.send, session.clear, agent.stop, and
// system.ping against mgr — the four methods GatewayHandler registers
// by default.
func RegisterCoreMethods(g *Gateway, mgr *session.Manager) {
	g.RegisterMethod("chat.send", func(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
		var params chatSendParams
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, NewError(CodeInvalidParams, "invalid params")
			}
		}
		if params.Message == "" {
			return nil, NewError(CodeInvalidParams, "message is required")
		}

		if params.Provider != "" {
			if err := mgr.SetProvider(sessionID, params.Provider); err != nil {
				return nil, NewError(CodeInvalidParams, err.Error())
			}
		}

		handle := mgr.HandleMessage(sessionID, params.Message)
		result, err := handle.Wait(ctx)
		if err != nil {
			return nil, NewError(CodeInternalError, err.Error())
		}
		return result, nil
	})

	g.RegisterMethod("session.clear", func(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
		mgr.Clear(sessionID)
		return "cleared", nil
	})

	g.RegisterMethod("agent.stop", func(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
		mgr.Cancel(sessionID)
		return "stopped", nil
	})

	g.RegisterMethod("system.ping", func(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
		return "pong", nil
	})
}
