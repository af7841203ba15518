package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/KafClaw/agentcore/internal/bus"
	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/provider"
	"github.com/KafClaw/agentcore/internal/tools"
)

// executeBatch runs the tool calls of one turn strictly in order. Once a
// stop is observed the remaining calls are answered without running.
func (l *Loop) executeBatch(ctx context.Context, r *run, calls []provider.ToolCall) []provider.ToolResult {
	results := make([]provider.ToolResult, 0, len(calls))
	for _, call := range calls {
		if l.stopped.Load() {
			results = append(results, provider.ToolResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    "Error: interrupted before execution",
				IsError:    true,
			})
			continue
		}
		results = append(results, l.executeTool(ctx, r, call))
	}
	return results
}

// executeTool takes one call through the gate, PreToolUse, the registry and
// PostToolUse or PostToolUseFailure. It always returns a result.
func (l *Loop) executeTool(ctx context.Context, r *run, call provider.ToolCall) provider.ToolResult {
	r.result.ToolCalls++
	call.Arguments = withWorkingDir(call.Arguments, l.workingDir)
	l.publish(r, bus.Event{Type: bus.EventToolCall, Turn: r.result.Turns, ToolName: call.Name, ToolCallID: call.ID})

	if !l.gate.IsToolAllowed(call.Name) {
		return l.refuseTool(ctx, r, call, fmt.Sprintf("tool %s is not allowed in this context", call.Name))
	}

	out := l.hooks.Execute(ctx, l.hookInput(hooks.PreToolUse, func(in *hooks.Input) {
		in.ToolName = call.Name
		in.ToolUseID = call.ID
		in.ToolInput = call.Arguments
	}))
	if out.Refuses() {
		return l.refuseTool(ctx, r, call, out.Reason())
	}
	if out != nil && len(out.UpdatedInput) > 0 {
		merged := maps.Clone(call.Arguments)
		maps.Copy(merged, out.UpdatedInput)
		call.Arguments = withWorkingDir(merged, l.workingDir)
	}

	res := l.registry.Execute(ctx, call)
	slog.Debug("Tool executed", "name", call.Name, "is_error", res.IsError, "result_length", len(res.Content))

	event := hooks.PostToolUse
	if res.IsError {
		event = hooks.PostToolUseFailure
	}
	l.hooks.Execute(ctx, l.hookInput(event, func(in *hooks.Input) {
		in.ToolName = call.Name
		in.ToolUseID = call.ID
		in.ToolInput = call.Arguments
		in.ToolResponse = res.Content
		if res.IsError {
			in.Error = res.Content
		}
	}))
	l.publish(r, bus.Event{
		Type:       bus.EventToolResult,
		Turn:       r.result.Turns,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		IsError:    res.IsError,
	})
	return res
}

// refuseTool synthesizes the error result of a refused call and fires
// PostToolUseFailure for it.
func (l *Loop) refuseTool(ctx context.Context, r *run, call provider.ToolCall, reason string) provider.ToolResult {
	slog.Warn("Tool call refused", "session", l.session.Key, "tool", call.Name, "reason", reason)
	res := provider.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    "Permission denied: " + reason,
		IsError:    true,
	}
	l.hooks.Execute(ctx, l.hookInput(hooks.PostToolUseFailure, func(in *hooks.Input) {
		in.ToolName = call.Name
		in.ToolUseID = call.ID
		in.ToolInput = call.Arguments
		in.Error = res.Content
	}))
	l.publish(r, bus.Event{
		Type:       bus.EventToolResult,
		Turn:       r.result.Turns,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		IsError:    true,
		Reason:     reason,
	})
	return res
}

// withWorkingDir returns a copy of args carrying the working directory
// unless the call set one.
func withWorkingDir(args map[string]any, dir string) map[string]any {
	out := maps.Clone(args)
	if out == nil {
		out = map[string]any{}
	}
	if dir == "" {
		return out
	}
	if v, ok := out[tools.WorkingDirKey].(string); !ok || v == "" {
		out[tools.WorkingDirKey] = dir
	}
	return out
}
