package application

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/internal/domain/entity"
	"github.com/relayforge/gateway/internal/domain/planner"
	"github.com/relayforge/gateway/internal/domain/service"
	"github.com/relayforge/gateway/internal/infrastructure/eventbus"
	"github.com/relayforge/gateway/internal/infrastructure/prompt"
	"github.com/relayforge/gateway/internal/infrastructure/trace"
)

// plannerSession owns one session's conversation history and wraps a
// *planner.Planner into the narrow session.Planner interface the
// Debounce Session (C6) depends on. One instance is built per
// session_id by the PlannerFactory closure wired in
// App.initGatewayCore, mirroring how the teacher's original chat
// handler kept a per-chatID history in a sync.Map — here the scope is
// narrowed to a single session instead.
type plannerSession struct {
	sessionID    string
	p            *planner.Planner
	promptEngine *prompt.PromptEngine
	toolExec     service.ToolExecutor
	channel      string
	logger       *zap.Logger
	eventHub     *eventbus.Hub

	mu      sync.Mutex
	history []service.LLMMessage
	trace   *trace.Sink
}

// Run executes one Planner turn against the session's accumulated
// history and appends the exchange to it. Implements session.Planner.
func (s *plannerSession) Run(ctx context.Context, combinedMessage string) (string, error) {
	s.mu.Lock()
	history := append([]service.LLMMessage(nil), s.history...)
	s.mu.Unlock()

	toolNames := make([]string, 0)
	toolSummaries := make(map[string]string)
	if s.toolExec != nil {
		for _, d := range s.toolExec.GetDefinitions() {
			toolNames = append(toolNames, d.Name)
			if d.Description != "" {
				toolSummaries[d.Name] = d.Description
			}
		}
	}

	systemPrompt := ""
	if s.promptEngine != nil {
		systemPrompt = s.promptEngine.Assemble(prompt.PromptContext{
			Channel:         s.channel,
			RegisteredTools: toolNames,
			ToolSummaries:   toolSummaries,
			UserMessage:     combinedMessage,
		})
	}

	if s.trace != nil {
		s.trace.StartTurn(combinedMessage, nil)
	}

	result, eventCh := s.p.Run(ctx, s.sessionID, systemPrompt, history, combinedMessage)
	for ev := range eventCh {
		if s.eventHub != nil {
			s.eventHub.Broadcast(s.toSessionEvent(ev))
		}
	}

	finalText := strings.TrimSpace(result.FinalContent)
	if finalText == "" {
		finalText = strings.TrimSpace(service.StripReasoningTags(finalText))
	}

	if s.trace != nil {
		s.trace.EndTurn(finalText, nil)
	}

	s.mu.Lock()
	s.history = append(s.history,
		service.LLMMessage{Role: "user", Content: combinedMessage},
		service.LLMMessage{Role: "assistant", Content: finalText},
	)
	s.mu.Unlock()

	return finalText, nil
}

// toSessionEvent maps one Planner-emitted entity.AgentEvent onto the
// eventbus.SessionEvent shape pushed out over /ws (spec §4.8). The
// hub's Attach("", sink) registration only reaches a global broadcast
// sink, so SessionID travels in the event itself and the sink demuxes
// by it when forwarding to websocket clients.
func (s *plannerSession) toSessionEvent(ev entity.AgentEvent) eventbus.SessionEvent {
	payload := map[string]any{}
	if ev.Content != "" {
		payload["content"] = ev.Content
	}
	if ev.ToolCall != nil {
		payload["tool_name"] = ev.ToolCall.Name
		payload["tool_success"] = ev.ToolCall.Success
		if ev.ToolCall.Output != "" {
			payload["tool_output"] = ev.ToolCall.Output
		}
	}
	if ev.Error != "" {
		payload["error"] = ev.Error
	}
	return eventbus.SessionEvent{
		SessionID: s.sessionID,
		Kind:      string(ev.Type),
		Payload:   payload,
	}
}

// SetProvider implements session.ProviderSwitcher by delegating to
// the wrapped Planner.
func (s *plannerSession) SetProvider(name string) error {
	return s.p.SetProvider(name)
}
