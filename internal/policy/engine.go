// Package policy provides tier-based tool authorization, installed as a
// native PreToolUse hook.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/tools"
)

// Run origins.
const (
	OriginInteractive = "interactive"
	OriginScheduled   = "scheduled"
	OriginSubagent    = "subagent"
)

// HookPriority places the policy check among native PreToolUse hooks.
const HookPriority = 10

// Context holds information about a pending tool execution.
type Context struct {
	SessionID string
	Tool      string
	Tier      int
	Arguments map[string]any
	Origin    string
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow            bool
	RequiresApproval bool
	Reason           string
	Tier             int
	Ts               time.Time
}

// Engine evaluates whether a tool execution should proceed.
type Engine interface {
	Evaluate(ctx Context) Decision
}

// DefaultEngine compares a tool's tier with the highest auto-approved tier
// for the run's origin.
type DefaultEngine struct {
	// MaxAutoTier applies to interactive runs (default 2).
	MaxAutoTier int
	// UnattendedMaxTier applies to scheduled and subagent runs (default 1).
	UnattendedMaxTier int
	// DeniedTools are refused regardless of tier.
	DeniedTools map[string]bool
}

// NewDefaultEngine creates a policy engine with defaults.
func NewDefaultEngine() *DefaultEngine {
	return &DefaultEngine{
		MaxAutoTier:       tools.TierHighRisk,
		UnattendedMaxTier: tools.TierWrite,
	}
}

// Evaluate checks the deny list and the tier limit.
func (e *DefaultEngine) Evaluate(ctx Context) Decision {
	d := Decision{Tier: ctx.Tier, Ts: time.Now()}

	if e.DeniedTools[ctx.Tool] {
		d.Reason = fmt.Sprintf("tool_denied: %s", ctx.Tool)
		return d
	}
	if ctx.Tier == tools.TierReadOnly {
		d.Allow = true
		d.Reason = "tier_0_always_allowed"
		return d
	}

	limit := e.MaxAutoTier
	unattended := ctx.Origin == OriginScheduled || ctx.Origin == OriginSubagent
	if unattended {
		limit = e.UnattendedMaxTier
	}
	if ctx.Tier > limit {
		if unattended {
			d.Reason = fmt.Sprintf("tier_%d_denied_for_%s_run", ctx.Tier, ctx.Origin)
		} else {
			d.RequiresApproval = true
			d.Reason = fmt.Sprintf("tier_%d_requires_approval", ctx.Tier)
		}
		return d
	}

	d.Allow = true
	d.Reason = fmt.Sprintf("tier_%d_auto_approved", ctx.Tier)
	return d
}

// NativeHook wraps an engine as a PreToolUse hook. A decision that needs
// approval becomes "ask", which the tool pipeline treats as a refusal.
func NativeHook(engine Engine, registry *tools.Registry) hooks.NativeHook {
	return hooks.NativeHook{
		Name:     "tier-policy",
		Event:    hooks.PreToolUse,
		Priority: HookPriority,
		Fn: func(_ context.Context, in hooks.Input) (*hooks.Output, error) {
			tier := tools.TierReadOnly
			if t, ok := registry.Get(in.ToolName); ok {
				tier = tools.ToolTier(t)
			}
			d := engine.Evaluate(Context{
				SessionID: in.SessionID,
				Tool:      in.ToolName,
				Tier:      tier,
				Arguments: in.ToolInput,
				Origin:    in.Origin,
			})
			switch {
			case d.Allow:
				return nil, nil
			case d.RequiresApproval:
				return &hooks.Output{PermissionDecision: hooks.DecisionAsk, PermissionDecisionReason: d.Reason}, nil
			default:
				return hooks.Deny(d.Reason), nil
			}
		},
	}
}
