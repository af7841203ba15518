package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/policy"
	"github.com/KafClaw/agentcore/internal/tools"
	"github.com/google/uuid"
)

// SubagentStatus is the lifecycle status of a subagent run.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
	SubagentTimeout   SubagentStatus = "timeout"
)

// SubagentLimits bound delegation.
type SubagentLimits struct {
	// MaxDepth is the depth at which a loop may no longer spawn. The root
	// loop has depth 0.
	MaxDepth        int
	MaxConcurrent   int
	MaxTurnsCeiling int
	DefaultTimeout  time.Duration
	// ArchiveAfter is how long finished runs stay listed.
	ArchiveAfter time.Duration
	// DefaultTools applies when a spawn request names no tools.
	DefaultTools []string
	// ForbiddenTools are never handed to a subagent.
	ForbiddenTools []string
}

// DefaultSubagentLimits returns the default limits.
func DefaultSubagentLimits() SubagentLimits {
	return SubagentLimits{
		MaxDepth:        2,
		MaxConcurrent:   4,
		MaxTurnsCeiling: 25,
		DefaultTimeout:  5 * time.Minute,
		ArchiveAfter:    60 * time.Minute,
		DefaultTools:    []string{"read_file", "list_dir", "write_file", "edit_file"},
		ForbiddenTools:  []string{tools.ScheduleToolName},
	}
}

func (l SubagentLimits) withDefaults() SubagentLimits {
	d := DefaultSubagentLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = d.MaxConcurrent
	}
	if l.MaxTurnsCeiling <= 0 {
		l.MaxTurnsCeiling = d.MaxTurnsCeiling
	}
	if l.DefaultTimeout <= 0 {
		l.DefaultTimeout = d.DefaultTimeout
	}
	if l.ArchiveAfter <= 0 {
		l.ArchiveAfter = d.ArchiveAfter
	}
	if l.DefaultTools == nil {
		l.DefaultTools = d.DefaultTools
	}
	if l.ForbiddenTools == nil {
		l.ForbiddenTools = d.ForbiddenTools
	}
	return l
}

// SubagentConfig is one spawn request.
type SubagentConfig struct {
	Task  string
	Label string
	// Tools requested for the subagent. Empty uses the default set.
	Tools []string
	// Depth is the depth of the requesting loop; the subagent runs at
	// Depth+1.
	Depth           int
	ParentSessionID string
	// ParentAllowed is the requester's effective tool set. The subagent
	// never receives a tool outside it.
	ParentAllowed []string
	// Registered restricts tools to those actually registered. Nil skips
	// the check.
	Registered []string
	MaxTurns   int
	Timeout    time.Duration
	// Context is background text handed to the subagent.
	Context string
}

// SubagentResult is the outcome of a spawn. Refusals are results, not
// errors.
type SubagentResult struct {
	ID       string
	Status   SubagentStatus
	Output   string
	Error    string
	Turns    int
	Tools    []string
	Duration time.Duration
}

// SubagentInfo describes a tracked run.
type SubagentInfo struct {
	ID              string
	Label           string
	Task            string
	ParentSessionID string
	Depth           int
	Status          SubagentStatus
	Tools           []string
	StartedAt       time.Time
	EndedAt         *time.Time
	Error           string
}

// ChildSpec tells a RunnerFactory what to build.
type ChildSpec struct {
	ID              string
	Label           string
	Depth           int
	Tools           []string
	MaxTurns        int
	ParentSessionID string
	Context         string
}

// SubagentRunner executes one subagent task. Stop asks it to halt at its
// next polling point.
type SubagentRunner interface {
	Run(ctx context.Context, prompt string) (output string, turns int, err error)
	Stop()
}

// RunnerFactory builds the runner of a subagent.
type RunnerFactory func(ctx context.Context, spec ChildSpec) (SubagentRunner, error)

type subagentRun struct {
	info   SubagentInfo
	cancel context.CancelFunc
	runner SubagentRunner
}

// SubagentManager enforces depth, concurrency, tool and time limits on
// delegated runs and tracks them.
type SubagentManager struct {
	limits SubagentLimits
	hooks  *hooks.Pipeline
	now    func() time.Time

	mu     sync.Mutex
	runs   map[string]*subagentRun
	active int
}

// NewSubagentManager creates a manager. A nil pipeline disables the
// SubagentStart and SubagentStop hooks.
func NewSubagentManager(limits SubagentLimits, pipeline *hooks.Pipeline) *SubagentManager {
	return &SubagentManager{
		limits: limits.withDefaults(),
		hooks:  pipeline,
		now:    time.Now,
		runs:   make(map[string]*subagentRun),
	}
}

// Limits returns the effective limits.
func (m *SubagentManager) Limits() SubagentLimits { return m.limits }

// CanSpawn reports whether a loop at depth may spawn now.
func (m *SubagentManager) CanSpawn(depth int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canSpawnLocked(depth)
}

func (m *SubagentManager) canSpawnLocked(depth int) (bool, string) {
	if depth >= m.limits.MaxDepth {
		return false, fmt.Sprintf("maximum subagent depth %d reached", m.limits.MaxDepth)
	}
	if m.active >= m.limits.MaxConcurrent {
		return false, fmt.Sprintf("maximum of %d concurrent subagents reached", m.limits.MaxConcurrent)
	}
	return true, ""
}

func (m *SubagentManager) reserve(depth int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, reason := m.canSpawnLocked(depth)
	if ok {
		m.active++
	}
	return ok, reason
}

func (m *SubagentManager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.active--
	}
}

// Active returns the number of subagents currently holding a slot.
func (m *SubagentManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// FilterTools computes the tool set of a subagent: requested (or default)
// tools, minus forbidden ones, restricted to registered tools and to the
// parent's effective set.
func (m *SubagentManager) FilterTools(cfg SubagentConfig) []string {
	requested := cfg.Tools
	if len(requested) == 0 {
		requested = m.limits.DefaultTools
	}
	return m.filter(requested, cfg)
}

func (m *SubagentManager) filter(requested []string, cfg SubagentConfig) []string {
	forbidden := make(map[string]bool, len(m.limits.ForbiddenTools)+1)
	for _, name := range m.limits.ForbiddenTools {
		forbidden[name] = true
	}
	if cfg.Depth >= m.limits.MaxDepth-1 {
		forbidden[tools.SpawnToolName] = true
	}

	out := make([]string, 0, len(requested))
	for _, name := range requested {
		name = strings.TrimSpace(name)
		switch {
		case name == "", forbidden[name], slices.Contains(out, name):
			continue
		case cfg.Registered != nil && !slices.Contains(cfg.Registered, name):
			continue
		case !slices.Contains(cfg.ParentAllowed, name):
			continue
		}
		out = append(out, name)
	}
	return out
}

func (m *SubagentManager) clampTurns(n int) int {
	if n <= 0 || n > m.limits.MaxTurnsCeiling {
		return m.limits.MaxTurnsCeiling
	}
	return n
}

// Spawn runs a subagent to completion, timeout or refusal. It never
// returns an error; every failure is described by the result.
func (m *SubagentManager) Spawn(ctx context.Context, cfg SubagentConfig, factory RunnerFactory) SubagentResult {
	m.Sweep()
	res := SubagentResult{ID: uuid.NewString(), Status: SubagentFailed}
	started := m.now()

	if ok, reason := m.reserve(cfg.Depth); !ok {
		slog.Info("Subagent spawn refused", "parent", cfg.ParentSessionID, "depth", cfg.Depth, "reason", reason)
		res.Error = reason
		return res
	}
	held := true
	defer func() {
		if held {
			m.release()
		}
	}()

	label := strings.TrimSpace(cfg.Label)
	if label == "" {
		label = "subagent"
	}
	allowed := m.FilterTools(cfg)
	taskContext := cfg.Context
	maxTurns := m.clampTurns(cfg.MaxTurns)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = m.limits.DefaultTimeout
	}

	out := m.runHook(ctx, hooks.Input{
		Event:        hooks.SubagentStart,
		SessionID:    cfg.ParentSessionID,
		Origin:       policy.OriginSubagent,
		AgentID:      res.ID,
		AgentType:    label,
		Task:         cfg.Task,
		AllowedTools: allowed,
		Depth:        cfg.Depth + 1,
	})
	if out.Refuses() {
		res.Error = "spawn vetoed: " + out.Reason()
		slog.Info("Subagent spawn vetoed", "id", res.ID, "reason", out.Reason())
		return res
	}
	if out != nil {
		if v, ok := out.UpdatedInput["allowed_tools"]; ok {
			allowed = m.filter(toStrings(v), cfg)
		}
		if v, ok := out.UpdatedInput["context"].(string); ok {
			taskContext = v
		}
		if out.AdditionalContext != "" {
			taskContext = strings.TrimSpace(taskContext + "\n\n" + out.AdditionalContext)
		}
	}
	res.Tools = allowed

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.track(res.ID, cfg, label, allowed, started, cancel)

	runner, err := factory(runCtx, ChildSpec{
		ID:              res.ID,
		Label:           label,
		Depth:           cfg.Depth + 1,
		Tools:           allowed,
		MaxTurns:        maxTurns,
		ParentSessionID: cfg.ParentSessionID,
		Context:         taskContext,
	})
	if err != nil {
		res.Error = fmt.Sprintf("create subagent: %v", err)
		return m.complete(ctx, res, cfg, label, started)
	}
	m.attach(res.ID, runner)

	type outcome struct {
		output string
		turns  int
		err    error
	}
	done := make(chan outcome, 1)
	held = false
	go func() {
		defer m.release()
		output, turns, err := runner.Run(runCtx, cfg.Task)
		done <- outcome{output, turns, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-done:
		res.Output = o.output
		res.Turns = o.turns
		if o.err != nil {
			res.Error = o.err.Error()
		} else {
			res.Status = SubagentCompleted
		}
	case <-timer.C:
		runner.Stop()
		cancel()
		res.Status = SubagentTimeout
		res.Error = fmt.Sprintf("timed out after %s", timeout)
		slog.Warn("Subagent timed out", "id", res.ID, "timeout", timeout)
	case <-ctx.Done():
		runner.Stop()
		cancel()
		res.Error = ctx.Err().Error()
	}

	return m.complete(ctx, res, cfg, label, started)
}

// complete runs SubagentStop hooks, which may veto or rewrite the result,
// and records the final status.
func (m *SubagentManager) complete(ctx context.Context, res SubagentResult, cfg SubagentConfig, label string, started time.Time) SubagentResult {
	out := m.runHook(context.WithoutCancel(ctx), hooks.Input{
		Event:       hooks.SubagentStop,
		SessionID:   cfg.ParentSessionID,
		Origin:      policy.OriginSubagent,
		AgentID:     res.ID,
		AgentType:   label,
		Task:        cfg.Task,
		Depth:       cfg.Depth + 1,
		AgentOutput: res.Output,
		Reason:      string(res.Status),
	})
	switch {
	case out.Refuses():
		res.Status = SubagentFailed
		res.Error = "result vetoed: " + out.Reason()
		res.Output = ""
	case out != nil:
		if v, ok := out.UpdatedInput["output"].(string); ok {
			res.Output = v
		}
	}
	res.Duration = m.now().Sub(started)
	m.markFinished(res.ID, res.Status, res.Error)
	return res
}

func (m *SubagentManager) runHook(ctx context.Context, in hooks.Input) *hooks.Output {
	if m.hooks == nil {
		return nil
	}
	return m.hooks.Execute(ctx, in)
}

func (m *SubagentManager) track(id string, cfg SubagentConfig, label string, allowed []string, started time.Time, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id] = &subagentRun{
		info: SubagentInfo{
			ID:              id,
			Label:           label,
			Task:            cfg.Task,
			ParentSessionID: cfg.ParentSessionID,
			Depth:           cfg.Depth + 1,
			Status:          SubagentRunning,
			Tools:           allowed,
			StartedAt:       started,
		},
		cancel: cancel,
	}
}

func (m *SubagentManager) attach(id string, runner SubagentRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[id]; ok {
		run.runner = runner
	}
}

func (m *SubagentManager) markFinished(id string, status SubagentStatus, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return
	}
	now := m.now()
	if run.info.Error == "" {
		run.info.Error = errText
	}
	run.info.Status = status
	run.info.EndedAt = &now
	run.cancel = nil
	run.runner = nil
}

// List returns tracked runs, oldest first.
func (m *SubagentManager) List() []SubagentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubagentInfo, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Get returns one tracked run.
func (m *SubagentManager) Get(id string) (SubagentInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return SubagentInfo{}, false
	}
	return run.info, true
}

// Kill stops a running subagent. Its Spawn call returns a failed result.
func (m *SubagentManager) Kill(id string) bool {
	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok || run.info.EndedAt != nil || run.cancel == nil {
		m.mu.Unlock()
		return false
	}
	run.info.Error = "killed"
	cancel, runner := run.cancel, run.runner
	m.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
	cancel()
	return true
}

// Sweep forgets finished runs older than ArchiveAfter and returns how many
// were removed.
func (m *SubagentManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.limits.ArchiveAfter)
	removed := 0
	for id, run := range m.runs {
		if run.info.EndedAt != nil && run.info.EndedAt.Before(cutoff) {
			delete(m.runs, id)
			removed++
		}
	}
	return removed
}

func toStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
