// Package agent drives a conversation between a model and tools: the turn
// loop, the tool execution pipeline, slash commands and skills, and bounded
// subagents.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/KafClaw/agentcore/internal/bus"
	"github.com/KafClaw/agentcore/internal/contextwindow"
	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/policy"
	"github.com/KafClaw/agentcore/internal/provider"
	"github.com/KafClaw/agentcore/internal/scheduler"
	"github.com/KafClaw/agentcore/internal/session"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/KafClaw/agentcore/internal/tools"
	"github.com/google/uuid"
)

// DefaultMaxTurns is the model round-trip ceiling of one run.
const DefaultMaxTurns = 50

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeMaxTurns  = "max_turns"
	OutcomeBlocked   = "blocked"
	OutcomeError     = "error"
	OutcomeCommand   = "command"
)

// EventPublisher receives lifecycle events. *bus.EventBus implements it.
type EventPublisher interface {
	Publish(evt bus.Event)
}

// ScheduleStore stores commands queued by the schedule_command tool.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sc *timeline.ScheduledCommand) error
}

// LoopOptions contains configuration for the agent loop.
type LoopOptions struct {
	Provider    provider.LLMProvider
	Model       string
	MaxTokens   int
	Temperature float64

	// Session is the conversation this loop owns. Sessions, when set,
	// persists it after every run.
	Session  *session.Session
	Sessions *session.Manager

	Registry  *tools.Registry
	Gate      *tools.PermissionGate
	Hooks     *hooks.Pipeline
	Context   *contextwindow.Manager
	Events    EventPublisher
	Subagents *SubagentManager
	Schedules ScheduleStore

	// Commands are added to the builtin command table, replacing builtins
	// with the same name.
	Commands []Command
	Skills   []Skill

	WorkingDir   string
	SystemPrompt string
	MaxTurns     int
	// Origin is interactive, scheduled or subagent.
	Origin string
	Depth  int

	// IdleNotifier is called on its own goroutine after every run, once
	// the loop is idle again.
	IdleNotifier func(ctx context.Context)
}

// RunResult describes one finished run.
type RunResult struct {
	RunID     string
	Output    string
	Turns     int
	Outcome   string
	Reason    string
	ToolCalls int
	Usage     provider.Usage
	// Clear and Exit are side-channel requests from commands.
	Clear bool
	Exit  bool
}

// Loop is the orchestrator of one session. Process calls must be serialized
// by the caller; a concurrent call fails with ErrAlreadyRunning.
type Loop struct {
	provider    provider.LLMProvider
	model       string
	maxTokens   int
	temperature float64

	session  *session.Session
	sessions *session.Manager
	registry *tools.Registry
	gate     *tools.PermissionGate
	hooks    *hooks.Pipeline
	window   *contextwindow.Manager
	events   EventPublisher

	subagents *SubagentManager
	schedules ScheduleStore

	commands map[string]Command
	skills   map[string]Skill

	workingDir string
	builder    *ContextBuilder
	maxTurns   int
	origin     string
	depth      int
	idle       func(ctx context.Context)

	initialized atomic.Bool
	running     atomic.Bool
	stopped     atomic.Bool
	state       atomic.Int32

	mu             sync.Mutex
	runOrigin      string
	sessionContext string
}

// NewLoop creates a loop. Missing collaborators get permissive defaults.
func NewLoop(opts LoopOptions) *Loop {
	if opts.Session == nil {
		opts.Session = session.NewSession(uuid.NewString())
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.Gate == nil {
		opts.Gate = tools.NewPermissionGate(nil)
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewPipeline(hooks.Options{})
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.Origin == "" {
		opts.Origin = policy.OriginInteractive
	}
	model := opts.Model
	if model == "" && opts.Provider != nil {
		model = opts.Provider.DefaultModel()
	}

	l := &Loop{
		provider:    opts.Provider,
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		session:     opts.Session,
		sessions:    opts.Sessions,
		registry:    opts.Registry,
		gate:        opts.Gate,
		hooks:       opts.Hooks,
		window:      opts.Context,
		events:      opts.Events,
		subagents:   opts.Subagents,
		schedules:   opts.Schedules,
		commands:    make(map[string]Command),
		skills:      make(map[string]Skill),
		workingDir:  opts.WorkingDir,
		builder:     NewContextBuilder(opts.WorkingDir, opts.SystemPrompt, opts.Registry),
		maxTurns:    opts.MaxTurns,
		origin:      opts.Origin,
		depth:       opts.Depth,
		idle:        opts.IdleNotifier,
	}
	for _, c := range builtinCommands() {
		l.commands[c.Name] = c
	}
	for _, c := range opts.Commands {
		l.commands[c.Name] = c
	}
	for _, s := range opts.Skills {
		l.skills[s.Name] = s
	}
	l.registerDefaultTools()
	if l.window != nil {
		l.window.SetGate(l.preCompact)
	}
	return l
}

func (l *Loop) registerDefaultTools() {
	if l.subagents != nil {
		l.registry.Register(tools.NewSpawnAgentTool(l.spawnFromTool))
	}
	if l.schedules != nil {
		l.registry.Register(tools.NewScheduleCommandTool(l.scheduleFromTool))
	}
}

// Session returns the conversation owned by the loop.
func (l *Loop) Session() *session.Session { return l.session }

// Subagents returns the subagent manager, or nil.
func (l *Loop) Subagents() *SubagentManager { return l.subagents }

// SetIdleNotifier replaces the idle callback. Call it before the first run.
func (l *Loop) SetIdleNotifier(fn func(ctx context.Context)) { l.idle = fn }

// Init fires SessionStart with source startup, or resume when the session
// already has history. Process fails with ErrNotInitialized until Init has
// run.
func (l *Loop) Init(ctx context.Context) {
	source := "startup"
	if l.session.Len() > 0 {
		source = "resume"
	}
	l.sessionStart(ctx, source)
	l.initialized.Store(true)
}

// Close fires SessionEnd and persists the session.
func (l *Loop) Close(ctx context.Context) error {
	l.hooks.Execute(ctx, l.hookInput(hooks.SessionEnd, func(in *hooks.Input) { in.Reason = "exit" }))
	return l.save()
}

// Stop asks the current run to halt. It is observed between streamed chunks
// and between turns; a tool call that is already executing runs to
// completion and its result is recorded, while the rest of its batch is
// answered as interrupted without running.
func (l *Loop) Stop() {
	l.stopped.Store(true)
}

// IsRunning reports whether a run is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Process runs one inbound message to completion. Only a model stream error,
// context cancellation and misuse (ErrAlreadyRunning, ErrNotInitialized)
// are returned as errors; refusals and limits are reported in the result.
func (l *Loop) Process(ctx context.Context, text string) (*RunResult, error) {
	return l.process(ctx, text, l.origin)
}

// RunScheduled runs a scheduled command as an unattended turn. A loop that
// is already running reports scheduler.ErrRunnerBusy.
func (l *Loop) RunScheduled(ctx context.Context, sc timeline.ScheduledCommand) (string, error) {
	res, err := l.process(ctx, sc.Command, policy.OriginScheduled)
	if errors.Is(err, ErrAlreadyRunning) {
		return "", fmt.Errorf("%w: %w", scheduler.ErrRunnerBusy, err)
	}
	if err != nil {
		return "", err
	}
	switch res.Outcome {
	case OutcomeBlocked, OutcomeError:
		return res.Output, fmt.Errorf("%s: %s", res.Outcome, res.Reason)
	}
	return res.Output, nil
}

// run carries the state of one Process call.
type run struct {
	id     string
	result RunResult
	err    error
}

func (r *run) fail(err error) {
	r.err = err
	r.result.Outcome = OutcomeError
	r.result.Reason = err.Error()
}

func (l *Loop) process(ctx context.Context, text, origin string) (_ *RunResult, err error) {
	if !l.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if !l.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	l.stopped.Store(false)
	l.setRunOrigin(origin)

	r := &run{id: uuid.NewString()}
	r.result.RunID = r.id

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Agent run panicked", "session", l.session.Key, "run", r.id, "panic", p)
			r.fail(fmt.Errorf("agent run panicked: %v", p))
		}
		l.finish(ctx, r)
		err = r.err
		l.gate.ClearTurnOverride()
		l.setRunOrigin("")
		l.running.Store(false)
		if l.idle != nil {
			go l.idle(context.WithoutCancel(ctx))
		}
	}()

	l.setState(StateAwaitingPromptHook)
	prompt := text
	out := l.hooks.Execute(ctx, l.hookInput(hooks.UserPromptSubmit, func(in *hooks.Input) { in.Prompt = text }))
	if out.Refuses() {
		r.result.Outcome = OutcomeBlocked
		r.result.Reason = out.Reason()
		r.result.Output = "Prompt blocked: " + out.Reason()
		return &r.result, nil
	}
	var extra string
	if out != nil {
		if p, ok := out.UpdatedInput["prompt"].(string); ok && strings.TrimSpace(p) != "" {
			prompt = p
		}
		extra = out.AdditionalContext
	}

	l.setState(StateDispatching)
	if strings.HasPrefix(prompt, CommandPrefix) {
		name, args := parseCommand(prompt)
		if cmd, ok := l.commands[name]; ok {
			l.runCommand(ctx, r, cmd, args)
			return &r.result, nil
		}
		if skill, ok := l.skills[name]; ok {
			prompt = skill.Expand(args)
			if skill.AllowedTools != nil {
				l.gate.SetTurnOverride(skill.AllowedTools)
			}
		}
	}

	content := prompt
	if extra != "" {
		content = prompt + "\n\n" + extra
	}
	l.session.Append(provider.Message{Role: provider.RoleUser, Content: content})
	l.runTurns(ctx, r)
	return &r.result, nil
}

func (l *Loop) runCommand(ctx context.Context, r *run, cmd Command, args string) {
	r.result.Outcome = OutcomeCommand
	cr, err := cmd.Run(ctx, l, args)
	if err != nil {
		r.result.Outcome = OutcomeError
		r.result.Reason = err.Error()
		r.result.Output = fmt.Sprintf("/%s failed: %v", cmd.Name, err)
		return
	}
	r.result.Output = cr.Output
	r.result.Clear = cr.Clear
	r.result.Exit = cr.Exit
}

func (l *Loop) runTurns(ctx context.Context, r *run) {
	for {
		if l.stopped.Load() {
			r.result.Outcome = OutcomeStopped
			r.result.Reason = "stop requested"
			return
		}
		if r.result.Turns >= l.maxTurns {
			r.result.Outcome = OutcomeMaxTurns
			r.result.Reason = fmt.Sprintf("turn ceiling of %d reached", l.maxTurns)
			slog.Warn("Agent run hit turn ceiling", "session", l.session.Key, "turns", r.result.Turns)
			return
		}
		if err := ctx.Err(); err != nil {
			r.fail(err)
			return
		}

		r.result.Turns++
		l.maybeCompact(ctx, r)
		l.publish(r, bus.Event{Type: bus.EventTurnStart, Turn: r.result.Turns})

		l.setState(StateStreaming)
		resp, interrupted, err := l.stream(ctx, r)
		if err != nil {
			slog.Warn("Model stream failed", "session", l.session.Key, "turn", r.result.Turns, "error", err)
			r.fail(err)
			return
		}
		addUsage(&r.result.Usage, resp.Usage)
		r.result.Output = resp.Content

		if interrupted {
			l.recordInterrupted(resp)
			r.result.Outcome = OutcomeStopped
			r.result.Reason = "stop requested"
			return
		}
		if len(resp.ToolCalls) == 0 {
			l.session.Append(provider.Message{Role: provider.RoleAssistant, Content: resp.Content})
			r.result.Outcome = OutcomeCompleted
			return
		}

		l.session.Append(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		l.setState(StateExecutingTools)
		results := l.executeBatch(ctx, r, resp.ToolCalls)
		l.session.Append(provider.Message{Role: provider.RoleUser, ToolResults: results})
	}
}

// recordInterrupted keeps the partial assistant message of a stopped turn.
// Its tool calls are answered with error results so the history stays
// paired.
func (l *Loop) recordInterrupted(resp *provider.ChatResponse) {
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return
	}
	l.session.Append(provider.Message{
		Role:      provider.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	if len(resp.ToolCalls) == 0 {
		return
	}
	results := make([]provider.ToolResult, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		results = append(results, provider.ToolResult{
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    "Error: interrupted before execution",
			IsError:    true,
		})
	}
	l.session.Append(provider.Message{Role: provider.RoleUser, ToolResults: results})
}

// stream runs one model round-trip. interrupted is true when a stop request
// was observed between chunks.
func (l *Loop) stream(ctx context.Context, r *run) (resp *provider.ChatResponse, interrupted bool, err error) {
	if l.provider == nil {
		return nil, false, &StreamError{Err: fmt.Errorf("no model provider configured")}
	}
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	names := l.gate.Effective(l.registry.Names())
	req := &provider.ChatRequest{
		Messages:     l.session.Messages(),
		Tools:        l.registry.Definitions(names),
		SystemPrompt: l.builder.BuildSystemPrompt(names, l.skillList(), l.getSessionContext()),
		Model:        l.model,
		MaxTokens:    l.maxTokens,
		Temperature:  l.temperature,
	}
	ch, err := l.provider.ChatStream(streamCtx, req)
	if err != nil {
		return nil, false, &StreamError{Err: err}
	}

	var text strings.Builder
	resp = &provider.ChatResponse{}
	for {
		if l.stopped.Load() {
			resp.Content = text.String()
			return resp, true, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				resp.Content = text.String()
				return resp, false, nil
			}
			switch chunk.Type {
			case provider.ChunkText:
				text.WriteString(chunk.Text)
				l.publish(r, bus.Event{Type: bus.EventText, Turn: r.result.Turns, Text: chunk.Text})
			case provider.ChunkToolUse:
				if chunk.ToolCall != nil {
					tc := *chunk.ToolCall
					if tc.ID == "" {
						tc.ID = "call_" + uuid.NewString()
					}
					resp.ToolCalls = append(resp.ToolCalls, tc)
				}
			case provider.ChunkUsage:
				if chunk.Usage != nil {
					resp.Usage = *chunk.Usage
				}
			case provider.ChunkError:
				return nil, false, &StreamError{Err: chunk.Err}
			case provider.ChunkDone:
				resp.Content = text.String()
				return resp, false, nil
			}
		}
	}
}

func (l *Loop) maybeCompact(ctx context.Context, r *run) {
	if l.window == nil {
		return
	}
	res := l.window.ProcessMessages(ctx, l.session.Messages())
	if !res.Summarized {
		return
	}
	l.applyCompaction(r, res)
}

func (l *Loop) applyCompaction(r *run, res contextwindow.Result) {
	l.session.Replace(res.Messages)
	l.publish(r, bus.Event{
		Type: bus.EventCompacted,
		Data: map[string]any{
			"tokens_before":    res.TokensBefore,
			"tokens_after":     res.TokensAfter,
			"summarized_count": res.SummarizedCount,
		},
	})
}

// preCompact runs PreCompact hooks; a refusal skips summarization.
func (l *Loop) preCompact(ctx context.Context, trigger string) bool {
	out := l.hooks.Execute(ctx, l.hookInput(hooks.PreCompact, func(in *hooks.Input) { in.Trigger = trigger }))
	return !out.Refuses()
}

// finish fires the Stop hook and emits the single terminal event of a run.
func (l *Loop) finish(ctx context.Context, r *run) {
	if r.result.Outcome == "" {
		r.result.Outcome = OutcomeCompleted
	}
	hookCtx := context.WithoutCancel(ctx)
	l.hooks.Execute(hookCtx, l.hookInput(hooks.Stop, func(in *hooks.Input) { in.Reason = r.result.Outcome }))

	evt := bus.Event{Type: bus.EventDone, Turn: r.result.Turns, Reason: r.result.Reason}
	switch r.result.Outcome {
	case OutcomeBlocked:
		evt.Type = bus.EventBlocked
		l.setState(StateBlocked)
	case OutcomeError:
		evt.Type = bus.EventError
		l.setState(StateErrored)
	default:
		l.setState(StateDone)
	}
	evt.Data = map[string]any{"outcome": r.result.Outcome, "tool_calls": r.result.ToolCalls}
	l.publish(r, evt)

	if err := l.save(); err != nil {
		slog.Warn("Failed to save session", "session", l.session.Key, "error", err)
	}
}

func (l *Loop) save() error {
	if l.sessions == nil {
		return nil
	}
	return l.sessions.Save(l.session)
}

func (l *Loop) sessionStart(ctx context.Context, source string) {
	out := l.hooks.Execute(ctx, l.hookInput(hooks.SessionStart, func(in *hooks.Input) { in.Source = source }))
	var extra string
	if out != nil {
		extra = out.AdditionalContext
	}
	l.mu.Lock()
	l.sessionContext = extra
	l.mu.Unlock()
}

func (l *Loop) getSessionContext() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionContext
}

func (l *Loop) setRunOrigin(origin string) {
	l.mu.Lock()
	l.runOrigin = origin
	l.mu.Unlock()
}

func (l *Loop) currentOrigin() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runOrigin != "" {
		return l.runOrigin
	}
	return l.origin
}

func (l *Loop) hookInput(event hooks.Event, fill func(in *hooks.Input)) hooks.Input {
	in := hooks.Input{
		Event:     event,
		SessionID: l.session.Key,
		Cwd:       l.workingDir,
		Origin:    l.currentOrigin(),
		Depth:     l.depth,
	}
	if fill != nil {
		fill(&in)
	}
	return in
}

func (l *Loop) publish(r *run, evt bus.Event) {
	if l.events == nil {
		return
	}
	evt.SessionID = l.session.Key
	if r != nil {
		evt.RunID = r.id
	}
	l.events.Publish(evt)
}

func (l *Loop) skillList() []Skill {
	out := make([]Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sortSkills(out)
	return out
}

func addUsage(total *provider.Usage, u provider.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
