package tool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/gateway/internal/domain/concurrency"
	"github.com/relayforge/gateway/internal/domain/persona"
	"github.com/relayforge/gateway/internal/domain/planner"
	"github.com/relayforge/gateway/internal/domain/registry"
	domaintool "github.com/relayforge/gateway/internal/domain/tool"
)

// PlannerFactory lazily builds a fresh subagent Planner. Grounded on
// spawn_subagent.py's lazy "from ..core.agent import AgentExecutor"
// inside execute(), which avoids a circular import between the tool
// layer and the agent loop; here the equivalent cycle is
// tool -> planner -> tool (tool registry), so construction is deferred
// to a closure supplied at wiring time instead of an import cycle.
type PlannerFactory func() *planner.Planner

// SubAgentTool spawns a background subagent for a task and returns
// immediately with a run_id (spec §4.7 spawn_subagent injection
// target; scenario S4's "accept and return run_id" behavior).
// Grounded on spawn_subagent.py's SpawnSubAgentTool.
type SubAgentTool struct {
	factory PlannerFactory
	reg     *registry.Registry
	lane    *concurrency.Lane
	timeout time.Duration
	logger  *zap.Logger
}

// NewSubAgentTool wires a subagent tool to the shared Registry (C4)
// and Concurrency Lane (C3): every spawn registers a run and enqueues
// its execution rather than running inline.
func NewSubAgentTool(factory PlannerFactory, reg *registry.Registry, lane *concurrency.Lane, timeout time.Duration, logger *zap.Logger) *SubAgentTool {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SubAgentTool{factory: factory, reg: reg, lane: lane, timeout: timeout, logger: logger}
}

func (t *SubAgentTool) Name() string         { return "spawn_subagent" }
func (t *SubAgentTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *SubAgentTool) Description() string {
	return "Spawn a background subagent to handle a specific task.\n\n" +
		"The subagent runs independently and its result will be announced when complete.\n" +
		"Use this to parallelize work - spawn multiple subagents for different subtasks.\n\n" +
		"Returns immediately with a run_id that can be used to track status.\n" +
		"The subagent's result will be automatically sent back to you when complete."
}

func (t *SubAgentTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The specific task for the subagent to complete. Be clear and detailed.",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Optional short label for this subagent (e.g., 'research_news', 'extract_data')",
			},
		},
		"required": []string{"task"},
	}
}

// Execute registers a SubAgentRun and enqueues its work on the
// Concurrency Lane, then returns immediately — it does not wait for
// the subagent to finish. session_id arrives already injected by the
// Planner (spec §4.7's subagent-aware argument injection).
func (t *SubAgentTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return &domaintool.Result{Success: false, Error: "task is required"}, nil
	}
	label, _ := args["label"].(string)
	if label == "" {
		label = truncateStr(task, 50)
	}
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		sessionID = "default"
	}

	run, err := t.reg.Register(ctx, &registry.SubAgentRun{
		ParentSessionID: sessionID,
		Task:            task,
		Label:           label,
	})
	if err != nil {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("failed to register subagent run: %v", err)}, nil
	}

	op := func(opCtx context.Context) (string, error) {
		return t.runSubagent(opCtx, run, task)
	}

	if _, err := t.lane.Enqueue(run.RunID, op); err != nil {
		_, _ = t.reg.Update(ctx, run.RunID, registry.StatusError, "", err.Error())
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("failed to enqueue subagent: %v", err)}, nil
	}

	return &domaintool.Result{
		Success: true,
		Output: fmt.Sprintf(
			"Subagent spawned successfully. Run ID: %s. Label: %s. The result will be announced when complete.",
			run.RunID, run.Label,
		),
		Metadata: map[string]interface{}{
			"status": "accepted",
			"run_id": run.RunID,
			"label":  run.Label,
		},
	}, nil
}

func (t *SubAgentTool) runSubagent(ctx context.Context, run *registry.SubAgentRun, task string) (string, error) {
	if _, err := t.reg.Update(ctx, run.RunID, registry.StatusRunning, "", ""); err != nil {
		t.logger.Error("subagent: failed to mark running", zap.String("run_id", run.RunID), zap.Error(err))
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	sub := t.factory()
	result, eventCh := sub.Run(runCtx, run.RunID, persona.SubagentSystemPrompt, nil, task)
	for range eventCh {
		// Events are not streamed to the parent turn — only the final
		// result is announced (spec §4.4's run lifecycle).
	}

	if runCtx.Err() != nil {
		_, _ = t.reg.Update(ctx, run.RunID, registry.StatusTimeout, "", "subagent execution timed out")
		return "", runCtx.Err()
	}

	status := registry.StatusCompleted
	errText := ""
	if result.Truncated {
		errText = "max_iterations reached without a final response"
	}
	if _, err := t.reg.Update(ctx, run.RunID, status, result.FinalContent, errText); err != nil {
		t.logger.Error("subagent: failed to mark completed", zap.String("run_id", run.RunID), zap.Error(err))
	}
	return result.FinalContent, nil
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
