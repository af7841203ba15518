package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/policy"
	"github.com/KafClaw/agentcore/internal/scheduler"
	"github.com/KafClaw/agentcore/internal/session"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/KafClaw/agentcore/internal/tools"
)

// spawnFromTool backs the spawn_agent tool of this loop.
func (l *Loop) spawnFromTool(ctx context.Context, req tools.SpawnRequest) (string, error) {
	res := l.subagents.Spawn(ctx, SubagentConfig{
		Task:            req.Task,
		Label:           req.Label,
		Tools:           req.Tools,
		Depth:           l.depth,
		ParentSessionID: l.session.Key,
		ParentAllowed:   l.gate.Effective(l.registry.Names()),
		Registered:      l.registry.Names(),
		MaxTurns:        req.MaxTurns,
		Timeout:         time.Duration(req.TimeoutSeconds) * time.Second,
		Context:         req.Context,
	}, l.newChild)
	if res.Status != SubagentCompleted {
		return "", fmt.Errorf("subagent %s %s: %s", shortID(res.ID), res.Status, res.Error)
	}
	return res.Output, nil
}

// newChild builds a loop for a subagent. It shares the provider, hooks,
// event publisher and subagent manager of l, and gets its own session,
// gate and registry.
func (l *Loop) newChild(_ context.Context, spec ChildSpec) (SubagentRunner, error) {
	if l.provider == nil {
		return nil, fmt.Errorf("no model provider configured")
	}
	prompt := "You are a sub-agent working on one delegated task. Finish it and reply with the result only."
	if spec.Context != "" {
		prompt += "\n\n## Task Context\n" + spec.Context
	}
	child := NewLoop(LoopOptions{
		Provider:     l.provider,
		Model:        l.model,
		MaxTokens:    l.maxTokens,
		Temperature:  l.temperature,
		Session:      session.NewSession("subagent:" + spec.ID),
		Registry:     l.registry.Clone(),
		Gate:         tools.NewPermissionGate(spec.Tools),
		Hooks:        l.hooks,
		Events:       l.events,
		Subagents:    l.subagents,
		WorkingDir:   l.workingDir,
		SystemPrompt: prompt,
		MaxTurns:     spec.MaxTurns,
		Origin:       policy.OriginSubagent,
		Depth:        spec.Depth,
	})
	child.initialized.Store(true)
	return loopRunner{loop: child}, nil
}

// loopRunner adapts a child Loop to SubagentRunner.
type loopRunner struct {
	loop *Loop
}

func (r loopRunner) Run(ctx context.Context, prompt string) (string, int, error) {
	res, err := r.loop.Process(ctx, prompt)
	if err != nil {
		turns := 0
		if res != nil {
			turns = res.Turns
		}
		return "", turns, err
	}
	switch res.Outcome {
	case OutcomeBlocked, OutcomeError, OutcomeStopped:
		return res.Output, res.Turns, fmt.Errorf("%s: %s", res.Outcome, res.Reason)
	}
	return res.Output, res.Turns, nil
}

func (r loopRunner) Stop() { r.loop.Stop() }

// scheduleFromTool backs the schedule_command tool.
func (l *Loop) scheduleFromTool(ctx context.Context, req tools.ScheduleRequest) (string, error) {
	sc := &timeline.ScheduledCommand{
		Name:    req.Name,
		Command: req.Command,
		Kind:    timeline.ScheduleRecurring,
	}
	switch {
	case !req.At.IsZero():
		at := req.At
		sc.Kind = timeline.ScheduleOnce
		sc.NextRunAt = &at
	case req.Cron != "":
		sc.CronExpr = req.Cron
	default:
		sc.IntervalSeconds = int(req.Every / time.Second)
	}
	if err := scheduler.Prepare(sc, time.Now()); err != nil {
		return "", err
	}
	if err := l.schedules.CreateSchedule(ctx, sc); err != nil {
		return "", fmt.Errorf("store schedule: %w", err)
	}
	return sc.ID, nil
}

// verifierTools are the only tools a verification subagent receives.
var verifierTools = []string{"read_file", "list_dir"}

const verifierInstructions = `You are verifying an action for a policy hook.
Inspect what you need with the tools you have, then reply with only a JSON object:
{"ok": true} to allow, or {"ok": false, "reason": "<why>"} to refuse.`

// Verifier answers agent hook handlers by running a read-only subagent.
type Verifier struct {
	loop     *Loop
	maxTurns int
}

// NewVerifier creates a verifier that spawns from l.
func NewVerifier(l *Loop) *Verifier {
	return &Verifier{loop: l, maxTurns: 5}
}

// Verify implements hooks.AgentVerifier.
func (v *Verifier) Verify(ctx context.Context, prompt string, in hooks.Input) (bool, string, error) {
	if v.loop.subagents == nil {
		return false, "", fmt.Errorf("subagents are not enabled")
	}
	registered := v.loop.registry.Names()
	allowed := make([]string, 0, len(verifierTools))
	for _, name := range v.loop.gate.Effective(registered) {
		if slices.Contains(verifierTools, name) {
			allowed = append(allowed, name)
		}
	}
	if len(allowed) == 0 {
		return false, "", fmt.Errorf("verifier has no read-only tools in this session")
	}
	res := v.loop.subagents.Spawn(ctx, SubagentConfig{
		Task:            prompt,
		Label:           "verifier",
		Tools:           allowed,
		Depth:           v.loop.depth,
		ParentSessionID: in.SessionID,
		ParentAllowed:   allowed,
		Registered:      registered,
		MaxTurns:        v.maxTurns,
		Context:         verifierInstructions,
	}, v.loop.newChild)
	if res.Status != SubagentCompleted {
		return false, "", fmt.Errorf("verifier %s: %s", res.Status, res.Error)
	}
	return hooks.ParseVerdict(strings.TrimSpace(res.Output))
}
