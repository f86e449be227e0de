package planner

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/internal/domain/entity"
	"github.com/relayforge/gateway/internal/domain/security"
	"github.com/relayforge/gateway/internal/domain/service"
	domaintool "github.com/relayforge/gateway/internal/domain/tool"
)

// scriptedLLM replays one response per call, in order.
type scriptedLLM struct {
	responses []*service.LLMResponse
	calls     []*service.LLMRequest
	i         int
}

func (s *scriptedLLM) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	s.calls = append(s.calls, req)
	if s.i >= len(s.responses) {
		return &service.LLMResponse{Content: "done"}, nil
	}
	resp := s.responses[s.i]
	s.i++
	return resp, nil
}

func (s *scriptedLLM) GenerateStream(ctx context.Context, req *service.LLMRequest, ch chan<- service.StreamChunk) (*service.LLMResponse, error) {
	close(ch)
	return s.Generate(ctx, req)
}

// fakeTools executes every call as a successful echo, recording args.
type fakeTools struct {
	defs     []domaintool.Definition
	lastArgs map[string]interface{}
}

func (f *fakeTools) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	f.lastArgs = args
	return &domaintool.Result{Success: true, Output: "tool-ok:" + name}, nil
}

func (f *fakeTools) GetDefinitions() []domaintool.Definition { return f.defs }
func (f *fakeTools) GetToolKind(name string) domaintool.Kind { return "execute" }

func drain(ch <-chan entity.AgentEvent) []entity.AgentEvent {
	var out []entity.AgentEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestPlanner_FinalReplyWithoutToolCalls(t *testing.T) {
	llm := &scriptedLLM{responses: []*service.LLMResponse{{Content: "hello there"}}}
	tools := &fakeTools{}
	p := New(llm, tools, nil, Config{}, zap.NewNop())

	result, eventCh := p.Run(context.Background(), "s1", "sys", nil, "hi")
	drain(eventCh)

	if result.FinalContent != "hello there" {
		t.Fatalf("expected final content, got %q", result.FinalContent)
	}
	if result.Truncated {
		t.Fatalf("did not expect truncation")
	}
}

func TestPlanner_SpawnSubagentInjectsSessionID(t *testing.T) {
	llm := &scriptedLLM{responses: []*service.LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "1", Name: SpawnSubagentTool, Arguments: map[string]interface{}{"task": "t"}}}},
		{Content: "finished"},
	}}
	tools := &fakeTools{}
	p := New(llm, tools, nil, Config{}, zap.NewNop())

	_, eventCh := p.Run(context.Background(), "session-42", "sys", nil, "go")
	drain(eventCh)

	if tools.lastArgs["session_id"] != "session-42" {
		t.Fatalf("expected session_id to be injected, got %v", tools.lastArgs)
	}
}

func TestPlanner_AccessControlDeniesTool(t *testing.T) {
	llm := &scriptedLLM{responses: []*service.LLMResponse{
		{ToolCalls: []entity.ToolCallInfo{{ID: "1", Name: "danger_tool"}}},
		{Content: "ok"},
	}}
	tools := &fakeTools{}
	ac := security.New(security.Config{
		Enabled:     true,
		DefaultRole: "user",
		Roles: map[string]security.RoleConfig{
			"user": {Allow: []string{"safe_*"}},
		},
	}, zap.NewNop())
	p := New(llm, tools, ac, Config{Role: "user"}, zap.NewNop())

	_, eventCh := p.Run(context.Background(), "s1", "sys", nil, "hi")
	events := drain(eventCh)

	var sawDenial bool
	for _, ev := range events {
		if ev.Type == entity.EventToolResult && ev.ToolCall != nil && !ev.ToolCall.Success {
			if ev.ToolCall.Output == "Permission Denied: Role 'user' cannot use tool 'danger_tool'" {
				sawDenial = true
			}
		}
	}
	if !sawDenial {
		t.Fatalf("expected a permission-denied tool result, got %+v", events)
	}
}

func TestPlanner_SubagentModeStripsSpawnToolAndCapsIterations(t *testing.T) {
	defs := []domaintool.Definition{{Name: SpawnSubagentTool}, {Name: "read_file"}}
	llm := &scriptedLLM{}
	for i := 0; i < 10; i++ {
		llm.responses = append(llm.responses, &service.LLMResponse{ToolCalls: []entity.ToolCallInfo{{ID: "x", Name: "read_file"}}})
	}
	tools := &fakeTools{defs: defs}
	p := New(llm, tools, nil, Config{IsSubagent: true}, zap.NewNop())

	result, eventCh := p.Run(context.Background(), "s1", "sys", nil, "task")
	drain(eventCh)

	if !result.Truncated {
		t.Fatalf("expected subagent to hit max_iterations=5 and truncate")
	}
	if result.Steps != 5 {
		t.Fatalf("expected exactly 5 steps, got %d", result.Steps)
	}
	for _, req := range llm.calls {
		for _, tool := range req.Tools {
			if tool.Name == SpawnSubagentTool {
				t.Fatalf("spawn_subagent must not be offered to a subagent")
			}
		}
	}
}

func TestPlanner_HistoryWindowDropsOldest(t *testing.T) {
	llm := &scriptedLLM{responses: []*service.LLMResponse{{Content: "ok"}}}
	tools := &fakeTools{}
	p := New(llm, tools, nil, Config{HistoryWindow: 2}, zap.NewNop())

	history := []service.LLMMessage{
		{Role: "user", Content: "old-1"},
		{Role: "assistant", Content: "old-2"},
		{Role: "user", Content: "recent-1"},
		{Role: "assistant", Content: "recent-2"},
	}
	_, eventCh := p.Run(context.Background(), "s1", "sys", history, "new")
	drain(eventCh)

	req := llm.calls[0]
	for _, m := range req.Messages {
		if m.Content == "old-1" || m.Content == "old-2" {
			t.Fatalf("expected windowed history to drop oldest entries, got %+v", req.Messages)
		}
	}
}

func TestPlanner_ContextCancellation(t *testing.T) {
	llm := &scriptedLLM{responses: []*service.LLMResponse{{ToolCalls: []entity.ToolCallInfo{{ID: "1", Name: "read_file"}}}}}
	tools := &fakeTools{}
	p := New(llm, tools, nil, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, eventCh := p.Run(ctx, "s1", "sys", nil, "hi")
	events := drain(eventCh)

	var sawError bool
	for _, ev := range events {
		if ev.Type == entity.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event on cancelled context, got %+v", events)
	}
}
