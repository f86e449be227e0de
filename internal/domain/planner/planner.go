// Package planner implements the Planner Loop: the iterative
// LLM/tool ReAct turn described by original_source/core/agent.py's
// AgentExecutor.run()/_execute_tool(), rebuilt on top of the
// teacher's agent-loop scaffolding (retry, guardrails, middleware,
// state machine) from internal/domain/service.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/internal/domain/entity"
	"github.com/relayforge/gateway/internal/domain/security"
	"github.com/relayforge/gateway/internal/domain/service"
	domaintool "github.com/relayforge/gateway/internal/domain/tool"
)

// SpawnSubagentTool is the reserved tool name the Planner special-cases:
// session_id is injected into its arguments, and it is removed from a
// subagent's own tool set to prevent recursive spawning.
const SpawnSubagentTool = "spawn_subagent"

// Re-exported aliases so callers depend only on this package for the
// Planner's wire types.
type (
	LLMClient    = service.LLMClient
	LLMRequest   = service.LLMRequest
	LLMResponse  = service.LLMResponse
	LLMMessage   = service.LLMMessage
	ToolExecutor = service.ToolExecutor
)

// Config configures one Planner turn loop.
type Config struct {
	Model         string
	Temperature   float64
	MaxIterations int // default 25; subagents force 5 (spec §4.7)
	HistoryWindow int // max history messages retained (oldest dropped first)
	ToolTimeout   time.Duration
	ThoughtStart  string // default "<thought>"
	ThoughtEnd    string // default "</thought>"
	IsSubagent    bool
	Role          string // session role, consulted by access control
	ModelPolicies map[string]*service.ModelPolicyOverride
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.IsSubagent {
		c.MaxIterations = 5
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 200
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.ThoughtStart == "" {
		c.ThoughtStart = "<thought>"
	}
	if c.ThoughtEnd == "" {
		c.ThoughtEnd = "</thought>"
	}
	if c.Role == "" {
		c.Role = "user"
	}
}

// Result is the final outcome of one turn.
type Result struct {
	FinalContent string
	Truncated    bool
	Steps        int
	TokensUsed   int
	ModelUsed    string
}

// Planner drives the iterative LLM/tool loop for one session turn.
// Grounded on internal/domain/service/agent_loop.go's AgentLoop and
// original_source/core/agent.py's AgentExecutor.run().
type Planner struct {
	llm           LLMClient
	tools         ToolExecutor
	access        *security.AccessControl
	config        Config
	logger        *zap.Logger
	hooks         service.AgentHook
	middleware    *service.MiddlewarePipeline
	thoughtRegexp *regexp.Regexp

	providerMu sync.RWMutex
	provider   string // preferred LLM provider, set via SetProvider (spec §6 /provider)
}

// New creates a Planner. access may be nil to disable the gate
// entirely (equivalent to security.enabled=false).
func New(llm LLMClient, tools ToolExecutor, access *security.AccessControl, config Config, logger *zap.Logger) *Planner {
	config.applyDefaults()
	return &Planner{
		llm:           llm,
		tools:         tools,
		access:        access,
		config:        config,
		logger:        logger,
		hooks:         service.NoOpHook{},
		middleware:    service.NewMiddlewarePipeline(logger),
		thoughtRegexp: buildThoughtRegexp(config.ThoughtStart, config.ThoughtEnd),
	}
}

// SetHooks replaces the hook chain.
func (p *Planner) SetHooks(hooks service.AgentHook) {
	if hooks != nil {
		p.hooks = hooks
	}
}

// SetMiddleware replaces the middleware pipeline (context compaction,
// memory injection, etc — the teacher's existing implementations).
func (p *Planner) SetMiddleware(mw *service.MiddlewarePipeline) {
	if mw != nil {
		p.middleware = mw
	}
}

// SetProvider overrides which LLM provider a multi-provider LLMClient
// (llm.Router) tries first on every subsequent turn. Implements
// session.ProviderSwitcher so the /provider REST endpoint and the
// chat.send provider param can steer routing without discarding the
// router's normal failover order.
func (p *Planner) SetProvider(name string) error {
	p.providerMu.Lock()
	p.provider = name
	p.providerMu.Unlock()
	return nil
}

func (p *Planner) preferredProvider() string {
	p.providerMu.RLock()
	defer p.providerMu.RUnlock()
	return p.provider
}

func buildThoughtRegexp(start, end string) *regexp.Regexp {
	pattern := "(?s)" + regexp.QuoteMeta(start) + "(.*?)" + regexp.QuoteMeta(end)
	return regexp.MustCompile(pattern)
}

// Run executes one Planner turn to completion (steps 1-5 of spec
// §4.7): appends userMessage to history, windows it, then iterates the
// LLM/tool cycle until a non-tool-calling response, max_iterations, or
// ctx cancellation. sessionID is injected into spawn_subagent calls.
// Emitted events are sent on eventCh (closed when Run returns); the
// caller must drain it.
func (p *Planner) Run(ctx context.Context, sessionID, systemPrompt string, history []LLMMessage, userMessage string) (*Result, <-chan entity.AgentEvent) {
	eventCh := make(chan entity.AgentEvent, 64)
	result := &Result{}

	go func() {
		defer close(eventCh)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("planner loop panicked", zap.Any("panic", r))
				p.emit(eventCh, entity.AgentEvent{Type: entity.EventError, Error: fmt.Sprintf("internal error: %v", r)})
				result.FinalContent = fmt.Sprintf("Internal error: %v", r)
			}
		}()
		p.run(ctx, sessionID, systemPrompt, history, userMessage, result, eventCh)
	}()

	return result, eventCh
}

func (p *Planner) run(
	ctx context.Context,
	sessionID, systemPrompt string,
	history []LLMMessage,
	userMessage string,
	result *Result,
	eventCh chan<- entity.AgentEvent,
) {
	// Step 1: append user message, window history.
	messages := make([]LLMMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, LLMMessage{Role: "system", Content: systemPrompt})
	}
	if p.config.IsSubagent {
		// Subagent mode: single-turn history (system + one user).
	} else {
		messages = append(messages, windowHistory(history, p.config.HistoryWindow)...)
	}
	messages = append(messages, LLMMessage{Role: "user", Content: userMessage})

	toolDefs := p.tools.GetDefinitions()
	if p.config.IsSubagent {
		toolDefs = stripTool(toolDefs, SpawnSubagentTool)
	}

	model := p.config.Model
	policy := service.ResolveModelPolicy(model, p.config.ModelPolicies)

	sm := service.NewStateMachine(0, p.logger)
	sm.OnTransition(func(from, to service.AgentState, snap service.StateSnapshot) {
		p.hooks.OnStateChange(from, to, snap)
	})

	// Step 3: emit thinking(status=processing).
	p.emit(eventCh, entity.AgentEvent{Type: entity.EventThinking, Content: "processing"})

	for step := 1; step <= p.config.MaxIterations; step++ {
		sm.SetStep(step)

		if err := ctx.Err(); err != nil {
			_ = sm.Transition(service.StateAborted)
			p.emit(eventCh, entity.AgentEvent{Type: entity.EventError, Error: "context cancelled"})
			return
		}

		_ = sm.Transition(service.StateStreaming)
		messages = service.SanitizeMessages(messages)
		mwMessages := p.middleware.RunBeforeModel(ctx, messages, step)

		req := &LLMRequest{
			Messages:          mwMessages,
			Tools:             toolDefs,
			Model:             model,
			Temperature:       p.config.Temperature,
			PreferredProvider: p.preferredProvider(),
		}
		p.hooks.BeforeLLMCall(ctx, req, step)

		resp, err := p.llm.Generate(ctx, req)
		if err != nil {
			_ = sm.Transition(service.StateError)
			p.hooks.OnError(ctx, err, step)
			p.emit(eventCh, entity.AgentEvent{Type: entity.EventError, Error: fmt.Sprintf("LLM error at step %d: %v", step, err)})
			result.FinalContent = fmt.Sprintf("Error: %v", err)
			return
		}
		resp = p.middleware.RunAfterModel(ctx, resp, step)
		p.hooks.AfterLLMCall(ctx, resp, step)

		result.TokensUsed += resp.TokensUsed
		result.ModelUsed = resp.ModelUsed
		result.Steps = step
		sm.AddTokens(resp.TokensUsed)
		sm.SetModel(resp.ModelUsed)

		// Step 4b: emit one thinking event per thought segment.
		for _, segment := range p.extractThoughts(resp.Content) {
			p.emit(eventCh, entity.AgentEvent{Type: entity.EventThinking, Content: segment})
		}

		// Step 4c: no tool calls — final reply.
		if len(resp.ToolCalls) == 0 {
			final := service.StripReasoningTags(resp.Content)
			messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content})
			result.FinalContent = final
			_ = sm.Transition(service.StateComplete)
			p.hooks.OnComplete(ctx, &service.AgentResult{FinalContent: final, TotalSteps: step, TotalTokens: result.TokensUsed, ModelUsed: result.ModelUsed})
			p.emit(eventCh, entity.AgentEvent{Type: entity.EventDone})
			return
		}

		// Step 4d: append assistant message with tool calls.
		messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		_ = sm.Transition(service.StateToolExec)
		for _, tc := range resp.ToolCalls {
			p.emit(eventCh, entity.AgentEvent{Type: entity.EventToolCall, ToolCall: &entity.ToolCallEvent{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}})
		}

		// Step 4e: invoke tools in order.
		for _, tc := range resp.ToolCalls {
			output, success := p.invokeTool(ctx, sessionID, tc)
			sm.RecordToolExec(tc.Name)
			messages = append(messages, LLMMessage{Role: "tool", Content: output, ToolCallID: tc.ID, Name: tc.Name})
			p.emit(eventCh, entity.AgentEvent{Type: entity.EventToolResult, ToolCall: &entity.ToolCallEvent{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Output: output, Success: success}})
		}

		_ = policy // reserved for progress-injection extensions (teacher parity, unused by the base loop)
	}

	// Step 5: max_iterations reached without a final reply.
	_ = sm.Transition(service.StateError)
	result.Truncated = true
	result.FinalContent = "[truncated: max_iterations reached without a final response]"
	p.emit(eventCh, entity.AgentEvent{Type: entity.EventDone})
}

// invokeTool resolves and executes one tool call, applying the
// access-control gate and spawn_subagent session_id injection first.
func (p *Planner) invokeTool(ctx context.Context, sessionID string, tc entity.ToolCallInfo) (output string, success bool) {
	if p.access != nil && !p.access.CheckPermission(p.config.Role, tc.Name) {
		return security.DenialMessage(p.config.Role, tc.Name), false
	}

	if tc.Name == SpawnSubagentTool {
		if tc.Arguments == nil {
			tc.Arguments = make(map[string]interface{})
		}
		tc.Arguments["session_id"] = sessionID
	}

	toolCtx := ctx
	var cancel context.CancelFunc
	if p.config.ToolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, p.config.ToolTimeout)
		defer cancel()
	}

	result, err := p.tools.Execute(toolCtx, tc.Name, tc.Arguments)
	if err != nil {
		return fmt.Sprintf("[TOOL_FAILED] %s: %v", tc.Name, err), false
	}
	if !result.Success {
		errText := result.Error
		if errText == "" {
			errText = result.Output
		}
		return fmt.Sprintf("[TOOL_FAILED] %s: %s", tc.Name, errText), false
	}
	return service.TruncateOutput(result.Output, 32000), true
}

func (p *Planner) extractThoughts(content string) []string {
	matches := p.thoughtRegexp.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	segments := make([]string, 0, len(matches))
	for _, m := range matches {
		if seg := strings.TrimSpace(m[1]); seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

func (p *Planner) emit(ch chan<- entity.AgentEvent, event entity.AgentEvent) {
	event.Timestamp = time.Now()
	select {
	case ch <- event:
	default:
		p.logger.Warn("planner: event channel full, dropping event", zap.String("type", string(event.Type)))
	}
}

func windowHistory(history []LLMMessage, window int) []LLMMessage {
	if len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

func stripTool(defs []domaintool.Definition, name string) []domaintool.Definition {
	out := make([]domaintool.Definition, 0, len(defs))
	for _, d := range defs {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}
