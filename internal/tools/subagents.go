package tools

import (
	"context"
	"fmt"
	"strings"
)

// SpawnToolName is the delegation tool. Subagents near the depth limit
// never receive it.
const SpawnToolName = "spawn_agent"

// SpawnRequest is the model-facing delegation request.
type SpawnRequest struct {
	Task           string
	Label          string
	Tools          []string
	MaxTurns       int
	TimeoutSeconds int
	Context        string
}

// SpawnFunc runs a subagent and returns its final output. A refused or
// failed spawn is reported through the error.
type SpawnFunc func(ctx context.Context, req SpawnRequest) (string, error)

// SpawnAgentTool delegates a task to a bounded subagent.
type SpawnAgentTool struct {
	spawn SpawnFunc
}

// NewSpawnAgentTool wraps fn as a tool.
func NewSpawnAgentTool(fn SpawnFunc) *SpawnAgentTool {
	return &SpawnAgentTool{spawn: fn}
}

func (t *SpawnAgentTool) Name() string { return SpawnToolName }
func (t *SpawnAgentTool) Tier() int    { return TierHighRisk }

func (t *SpawnAgentTool) Description() string {
	return "Delegate a self-contained task to a sub-agent and wait for its answer."
}

func (t *SpawnAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Task instruction for the sub-agent.",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label, also used as the agent type for hook matching.",
			},
			"tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tool names for the sub-agent. Never wider than your own.",
			},
			"max_turns": map[string]any{
				"type":        "integer",
				"description": "Optional turn limit (clamped by the runtime).",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds.",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Optional background the sub-agent needs.",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnAgentTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.spawn == nil {
		return "", fmt.Errorf("%s unavailable", SpawnToolName)
	}
	task := strings.TrimSpace(GetString(params, "task", ""))
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	return t.spawn(ctx, SpawnRequest{
		Task:           task,
		Label:          strings.TrimSpace(GetString(params, "label", "")),
		Tools:          GetStrings(params, "tools"),
		MaxTurns:       GetInt(params, "max_turns", 0),
		TimeoutSeconds: GetInt(params, "timeout_seconds", 0),
		Context:        GetString(params, "context", ""),
	})
}
