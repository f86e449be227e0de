// Package rpc implements the JSON-RPC 2.0 gateway over the websocket
// transport: message framing, method dispatch, and the
// notification/response distinction. Grounded byte-for-byte on
// original_source/api/gateway.py's GatewayHandler.
package rpc

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Standard JSON-RPC 2.0 error codes (spec §4.8).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error, both the wire shape and a Go error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// NewError constructs an *Error for use as a handler's return error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Request is an incoming JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id,omitempty"`
}

// Handler executes one RPC method for a session, returning its result
// value or an *Error (wrapped in a plain error).
type Handler func(ctx context.Context, sessionID string, params json.RawMessage) (any, error)

// Gateway dispatches JSON-RPC messages from one websocket connection
// to registered method handlers. Grounded on GatewayHandler's
// process_message/_register_default_methods.
type Gateway struct {
	logger  *zap.Logger
	methods map[string]Handler
}

// New creates a Gateway with no registered methods.
func New(logger *zap.Logger) *Gateway {
	return &Gateway{logger: logger, methods: make(map[string]Handler)}
}

// RegisterMethod adds or replaces the handler for name.
func (g *Gateway) RegisterMethod(name string, handler Handler) {
	g.methods[name] = handler
	g.logger.Info("rpc: registered method", zap.String("method", name))
}

// Dispatch processes one raw websocket message as JSON-RPC and
// returns the raw response bytes to write back, or nil for
// notifications that need no response. sessionID identifies the
// connection's session for handler routing.
func (g *Gateway) Dispatch(ctx context.Context, sessionID string, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return g.errorResponse(nil, CodeParseError, "Parse error")
	}

	if req.Method == "" {
		return g.errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	handler, ok := g.methods[req.Method]
	if !ok {
		if req.ID == nil {
			return nil // unknown notification: ignore
		}
		return g.errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}

	result, err := handler(ctx, sessionID, req.Params)
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			return g.errorResponse(req.ID, rpcErr.Code, rpcErr.Message)
		}
		g.logger.Error("rpc: internal error", zap.String("method", req.Method), zap.Error(err))
		return g.errorResponse(req.ID, CodeInternalError, "Internal error")
	}

	if req.ID == nil {
		return nil // notification: no response even on success
	}
	return g.mustMarshal(Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// errorResponse builds an error response, except a notification only
// gets one for parse/invalid-request errors (spec §4.8).
func (g *Gateway) errorResponse(id any, code int, message string) []byte {
	if id == nil && code != CodeParseError && code != CodeInvalidRequest {
		return nil
	}
	return g.mustMarshal(Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}})
}

func (g *Gateway) mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("rpc: failed to marshal response", zap.Error(err))
		return nil
	}
	return data
}
