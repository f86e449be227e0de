package application

import (
	"context"
	"fmt"

	domaintool "github.com/relayforge/gateway/internal/domain/tool"
	"github.com/relayforge/gateway/internal/infrastructure/eventbus"
	"github.com/relayforge/gateway/internal/interfaces/websocket"
)

// dynamicTool wraps a plugin-exported handler as a domaintool.Tool,
// the concrete type pluginToolRegistrar.RegisterDynamic creates so a
// plugin's tools flow through the same Registry/Executor path as
// every built-in tool.
type dynamicTool struct {
	name        string
	description string
	kind        domaintool.Kind
	schema      map[string]interface{}
	handler     func(args map[string]interface{}) (string, error)
}

func (t *dynamicTool) Name() string                       { return t.name }
func (t *dynamicTool) Description() string                { return t.description }
func (t *dynamicTool) Kind() domaintool.Kind               { return t.kind }
func (t *dynamicTool) Schema() map[string]interface{}      { return t.schema }
func (t *dynamicTool) Execute(_ context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	output, err := t.handler(args)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{Success: true, Output: output}, nil
}

// pluginToolRegistrar adapts domaintool.Registry to plugin.ToolRegistrar
// so the plugin ExtensionRegistry can register/unregister a plugin's
// exported tools against the same registry the Planner draws from.
type pluginToolRegistrar struct {
	registry domaintool.Registry
}

func (r *pluginToolRegistrar) RegisterDynamic(name, description string, schema map[string]interface{}, handler func(args map[string]interface{}) (string, error)) error {
	return r.registry.Register(&dynamicTool{
		name:        name,
		description: description,
		kind:        domaintool.KindExecute,
		schema:      schema,
		handler:     handler,
	})
}

func (r *pluginToolRegistrar) Unregister(name string) {
	_ = r.registry.Unregister(name)
}

// toolBridge adapts domaintool.Registry → service.ToolExecutor.
// This allows the AgentLoop to discover and execute tools through the shared registry.
type toolBridge struct {
	registry domaintool.Registry
}

// Execute implements service.ToolExecutor.Execute
func (b *toolBridge) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	tool, ok := b.registry.Get(name)
	if !ok {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Tool '%s' not found", name),
			Success: false,
			Error:   fmt.Sprintf("tool '%s' not registered", name),
		}, nil
	}
	return tool.Execute(ctx, args)
}

// GetDefinitions implements service.ToolExecutor.GetDefinitions
func (b *toolBridge) GetDefinitions() []domaintool.Definition {
	return b.registry.List()
}

// GetToolKind implements service.ToolExecutor.GetToolKind
func (b *toolBridge) GetToolKind(name string) domaintool.Kind {
	tool, ok := b.registry.Get(name)
	if !ok {
		return domaintool.KindExecute
	}
	return tool.Kind()
}

// wsEventSink adapts websocket.EventSink to eventbus.Sink. It is the
// one place that knows both packages so neither infrastructure layer
// depends on the other directly.
type wsEventSink struct {
	sink *websocket.EventSink
}

func (s *wsEventSink) Send(event eventbus.SessionEvent) error {
	return s.sink.Send(event.SessionID, event.Kind, event.Payload)
}
