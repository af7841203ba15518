// Package tools provides the tool framework, the permission gate and the
// built-in tools.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/KafClaw/agentcore/internal/provider"
)

// WorkingDirKey is the argument every tool call receives with the session
// working directory unless the caller set it.
const WorkingDirKey = "working_dir"

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool. A returned error becomes an error result.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tiers.
const (
	TierReadOnly = 0 // reads only
	TierWrite    = 1 // controlled local writes
	TierHighRisk = 2 // shell, delegation, external effects
)

// ToolTier returns the risk tier for a tool. Unclassified tools are read-only.
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierReadOnly
}

// Registry manages tool registration and execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Clone returns a registry holding the same tools. Registering on the clone
// does not affect r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for name, tool := range r.tools {
		c.tools[name] = tool
	}
	return c
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns definitions for the named tools, in name order.
// Unknown names are skipped.
func (r *Registry) Definitions(names []string) []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	out := make([]provider.ToolDefinition, 0, len(sorted))
	for _, name := range sorted {
		tool, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return out
}

// Execute runs a tool call. It never fails: unknown tools, tool errors and
// panics are reported as error results.
func (r *Registry) Execute(ctx context.Context, call provider.ToolCall) (res provider.ToolResult) {
	res = provider.ToolResult{ToolCallID: call.ID, ToolName: call.Name}
	tool, ok := r.Get(call.Name)
	if !ok {
		res.Content = fmt.Sprintf("Error: tool not found: %s", call.Name)
		res.IsError = true
		return res
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", call.Name, "panic", p)
			res.Content = fmt.Sprintf("Error: tool %s crashed: %v", call.Name, p)
			res.IsError = true
		}
	}()
	params := call.Arguments
	if params == nil {
		params = map[string]any{}
	}
	out, err := tool.Execute(ctx, params)
	if err != nil {
		res.Content = "Error: " + err.Error()
		res.IsError = true
		return res
	}
	res.Content = out
	return res
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetStrings extracts a string list parameter.
func GetStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
