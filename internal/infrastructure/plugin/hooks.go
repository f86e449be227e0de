package plugin

import (
	"context"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/internal/domain/service"
)

// HookDispatcher fires manifest-declared lifecycle hooks against the
// plugins that subscribed to them. Four of its methods satisfy
// service.AgentHook so a Dispatcher can be handed straight to a
// Planner via SetHooks; on_load/on_shutdown/on_agent_start have no
// AgentHook equivalent and are invoked directly by the loader/app
// wiring instead.
type HookDispatcher struct {
	loader *Loader
	logger *zap.Logger

	// subscribers maps an event to the plugin names that declared a
	// handler for it in their manifest.
	subscribers map[HookEvent][]string

	service.NoOpHook
}

// NewHookDispatcher builds a dispatcher with no subscriptions; call
// Subscribe (or SubscribeManifest) as plugins load.
func NewHookDispatcher(loader *Loader, logger *zap.Logger) *HookDispatcher {
	return &HookDispatcher{
		loader:      loader,
		logger:      logger,
		subscribers: make(map[HookEvent][]string),
	}
}

// SubscribeManifest registers every hook a plugin's manifest declares.
func (d *HookDispatcher) SubscribeManifest(pluginName string, m *Manifest) {
	for _, h := range m.Hooks {
		d.subscribers[h.Event] = append(d.subscribers[h.Event], pluginName)
	}
}

// Unsubscribe drops a plugin from every event it was registered for,
// called on plugin unload.
func (d *HookDispatcher) Unsubscribe(pluginName string) {
	for event, names := range d.subscribers {
		kept := names[:0]
		for _, n := range names {
			if n != pluginName {
				kept = append(kept, n)
			}
		}
		d.subscribers[event] = kept
	}
}

func (d *HookDispatcher) fire(ctx context.Context, event HookEvent, payload map[string]interface{}) {
	for _, name := range d.subscribers[event] {
		loaded, ok := d.loader.Get(name)
		if !ok {
			continue
		}
		input := map[string]interface{}{"event": string(event)}
		for k, v := range payload {
			input[k] = v
		}
		if _, err := loaded.Execute(ctx, input); err != nil {
			d.logger.Warn("plugin hook failed",
				zap.String("plugin", name),
				zap.String("event", string(event)),
				zap.Error(err),
			)
		}
	}
}

// DispatchOnLoad fires on_load for one just-loaded plugin.
func (d *HookDispatcher) DispatchOnLoad(ctx context.Context, pluginName string) {
	d.fire(ctx, HookOnLoad, map[string]interface{}{"plugin": pluginName})
}

// DispatchOnShutdown fires on_shutdown for one plugin about to unload.
func (d *HookDispatcher) DispatchOnShutdown(ctx context.Context, pluginName string) {
	d.fire(ctx, HookOnShutdown, map[string]interface{}{"plugin": pluginName})
}

// DispatchOnAgentStart fires on_agent_start for a new Planner run.
func (d *HookDispatcher) DispatchOnAgentStart(ctx context.Context, sessionID string) {
	d.fire(ctx, HookOnAgentStart, map[string]interface{}{"session_id": sessionID})
}

// BeforeToolCall fires on_tool_start. Always returns true: plugins
// observe tool execution, they do not veto it (access control, not
// plugins, is the veto point — internal/domain/security).
func (d *HookDispatcher) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	d.fire(ctx, HookOnToolStart, map[string]interface{}{"tool": toolName, "args": args})
	return true
}

// AfterToolCall fires on_tool_end.
func (d *HookDispatcher) AfterToolCall(ctx context.Context, toolName string, output string, success bool) {
	d.fire(ctx, HookOnToolEnd, map[string]interface{}{"tool": toolName, "output": output, "success": success})
}

// OnError fires on_error.
func (d *HookDispatcher) OnError(ctx context.Context, err error, step int) {
	d.fire(ctx, HookOnError, map[string]interface{}{"error": err.Error(), "step": step})
}

// OnComplete fires on_agent_finish.
func (d *HookDispatcher) OnComplete(ctx context.Context, result *service.AgentResult) {
	d.fire(ctx, HookOnAgentFinish, map[string]interface{}{"final_content": result.FinalContent})
}

var _ service.AgentHook = (*HookDispatcher)(nil)
