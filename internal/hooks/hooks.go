// Package hooks implements the policy pipeline that inspects, modifies,
// blocks or approves prompts, tool calls and lifecycle events.
package hooks

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Event names a lifecycle point at which hooks run.
type Event string

const (
	UserPromptSubmit   Event = "UserPromptSubmit"
	PreToolUse         Event = "PreToolUse"
	PostToolUse        Event = "PostToolUse"
	PostToolUseFailure Event = "PostToolUseFailure"
	Stop               Event = "Stop"
	SubagentStart      Event = "SubagentStart"
	SubagentStop       Event = "SubagentStop"
	SessionStart       Event = "SessionStart"
	SessionEnd         Event = "SessionEnd"
	PreCompact         Event = "PreCompact"
)

// Events lists every known event in a stable order.
var Events = []Event{
	UserPromptSubmit, PreToolUse, PostToolUse, PostToolUseFailure, Stop,
	SubagentStart, SubagentStop, SessionStart, SessionEnd, PreCompact,
}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// HandlerKind is the closed set of handler variants.
type HandlerKind int

const (
	KindCommand HandlerKind = iota + 1
	KindPrompt
	KindAgent
)

func (k HandlerKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindPrompt:
		return "prompt"
	case KindAgent:
		return "agent"
	}
	return fmt.Sprintf("HandlerKind(%d)", int(k))
}

// ParseHandlerKind maps a configuration tag to a HandlerKind.
func ParseHandlerKind(s string) (HandlerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "command":
		return KindCommand, nil
	case "prompt":
		return KindPrompt, nil
	case "agent":
		return KindAgent, nil
	}
	return 0, fmt.Errorf("unknown hook type %q", s)
}

// UnmarshalYAML decodes the "type" tag.
func (k *HandlerKind) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseHandlerKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalYAML encodes the kind as its tag.
func (k HandlerKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// MarshalText encodes the kind as its tag.
func (k HandlerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes the kind from its tag.
func (k *HandlerKind) UnmarshalText(b []byte) error {
	parsed, err := ParseHandlerKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Handler is one configured hook. Command is used by command handlers,
// Prompt by prompt and agent handlers.
type Handler struct {
	Kind    HandlerKind `yaml:"type" json:"type"`
	Command string      `yaml:"command,omitempty" json:"command,omitempty"`
	Prompt  string      `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	// Timeout in seconds. Zero uses the pipeline default.
	Timeout int   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Async   bool  `yaml:"async,omitempty" json:"async,omitempty"`
}

// IsEnabled reports whether the handler should run. Unset means enabled.
func (h Handler) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

func (h Handler) timeout(def time.Duration) time.Duration {
	if h.Timeout > 0 {
		return time.Duration(h.Timeout) * time.Second
	}
	return def
}

// Label is a short description used in logs and audit records.
func (h Handler) Label() string {
	switch h.Kind {
	case KindCommand:
		return "command:" + h.Command
	default:
		p := h.Prompt
		if len(p) > 40 {
			p = p[:40] + "..."
		}
		return h.Kind.String() + ":" + p
	}
}

// Matcher binds handlers to a discriminator pattern. An empty pattern or
// "*" matches every value.
type Matcher struct {
	Matcher string    `yaml:"matcher,omitempty" json:"matcher,omitempty"`
	Hooks   []Handler `yaml:"hooks" json:"hooks"`
}

// Decision is a permission verdict for tool events.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// Output is the verdict of a handler or of a whole pipeline pass.
type Output struct {
	Continue                 *bool          `json:"continue,omitempty"`
	StopReason               string         `json:"stopReason,omitempty"`
	PermissionDecision       Decision       `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             map[string]any `json:"updatedInput,omitempty"`
	AdditionalContext        string         `json:"additionalContext,omitempty"`
}

// Block returns an output carrying continue:false.
func Block(reason string) *Output {
	f := false
	return &Output{Continue: &f, StopReason: reason}
}

// Deny returns an output carrying a deny decision.
func Deny(reason string) *Output {
	return &Output{PermissionDecision: DecisionDeny, PermissionDecisionReason: reason}
}

// Blocked reports whether the output carries continue:false.
func (o *Output) Blocked() bool {
	return o != nil && o.Continue != nil && !*o.Continue
}

// Decisive reports whether the output ends a pipeline pass.
func (o *Output) Decisive() bool {
	return o != nil && (o.Blocked() || o.PermissionDecision != "")
}

// Refuses reports whether the output stops the guarded action: a block, a
// deny, or an ask (nobody is available to answer).
func (o *Output) Refuses() bool {
	if o == nil {
		return false
	}
	return o.Blocked() || o.PermissionDecision == DecisionDeny || o.PermissionDecision == DecisionAsk
}

// Reason returns the most specific human readable reason.
func (o *Output) Reason() string {
	if o == nil {
		return ""
	}
	if o.PermissionDecisionReason != "" {
		return o.PermissionDecisionReason
	}
	if o.StopReason != "" {
		return o.StopReason
	}
	if o.PermissionDecision != "" {
		return "permission decision: " + string(o.PermissionDecision)
	}
	return "blocked by hook"
}

func (o *Output) empty() bool {
	return o == nil || (!o.Decisive() && len(o.UpdatedInput) == 0 && o.AdditionalContext == "")
}

// Input is the event payload handed to every handler. Command handlers
// receive it as JSON on stdin.
type Input struct {
	Event     Event  `json:"hook_event_name"`
	SessionID string `json:"session_id,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	// Origin is interactive, scheduled or subagent.
	Origin string `json:"origin,omitempty"`

	Prompt string `json:"prompt,omitempty"`

	ToolName     string         `json:"tool_name,omitempty"`
	ToolUseID    string         `json:"tool_use_id,omitempty"`
	ToolInput    map[string]any `json:"tool_input,omitempty"`
	ToolResponse string         `json:"tool_response,omitempty"`
	Error        string         `json:"error,omitempty"`

	// Source is startup, resume or clear for SessionStart.
	Source string `json:"source,omitempty"`
	// Reason explains SessionEnd and Stop.
	Reason string `json:"reason,omitempty"`
	// Trigger is auto or manual for PreCompact.
	Trigger string `json:"trigger,omitempty"`

	AgentID      string   `json:"agent_id,omitempty"`
	AgentType    string   `json:"agent_type,omitempty"`
	Task         string   `json:"task,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	AgentOutput  string   `json:"agent_output,omitempty"`
	Depth        int      `json:"depth,omitempty"`
}

// Discriminator returns the value matcher patterns are tested against.
// Events without a discriminator return ok=false and match every matcher.
func (in Input) Discriminator() (string, bool) {
	switch in.Event {
	case PreToolUse, PostToolUse, PostToolUseFailure:
		return in.ToolName, true
	case SessionStart:
		return in.Source, true
	case SessionEnd:
		return in.Reason, true
	case PreCompact:
		return in.Trigger, true
	case SubagentStart, SubagentStop:
		return in.AgentType, true
	}
	return "", false
}
