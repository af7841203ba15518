package hooks

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/provider"
)

// DefaultTimeout bounds a handler that sets no timeout of its own.
const DefaultTimeout = 60 * time.Second

// AuditRecord documents a handler that was skipped or refused an action.
type AuditRecord struct {
	SessionID string
	Event     Event
	Handler   string
	Outcome   string
	Detail    string
	At        time.Time
}

// AuditSink stores audit records.
type AuditSink interface {
	RecordHookAudit(ctx context.Context, rec AuditRecord) error
}

// Options configures a Pipeline.
type Options struct {
	Native     *NativeRegistry
	Background *BackgroundRegistry
	Audit      AuditSink
	// Provider and Model back prompt handlers.
	Provider provider.LLMProvider
	Model    string
	// Verifier backs agent handlers.
	Verifier       AgentVerifier
	DefaultTimeout time.Duration
	// Executors replaces the executor for a kind.
	Executors map[HandlerKind]Executor
}

// Pipeline runs native hooks and then configured matchers for an event.
type Pipeline struct {
	native     *NativeRegistry
	background *BackgroundRegistry
	audit      AuditSink
	timeout    time.Duration

	mu        sync.RWMutex
	matchers  map[Event][]Matcher
	executors map[HandlerKind]Executor
}

// NewPipeline builds a pipeline. Missing registries are created.
func NewPipeline(opts Options) *Pipeline {
	if opts.Native == nil {
		opts.Native = NewNativeRegistry()
	}
	if opts.Background == nil {
		opts.Background = NewBackgroundRegistry()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	executors := map[HandlerKind]Executor{
		KindCommand: CommandExecutor{},
		KindPrompt:  PromptExecutor{Provider: opts.Provider, Model: opts.Model},
		KindAgent:   AgentExecutor{Verifier: opts.Verifier},
	}
	maps.Copy(executors, opts.Executors)
	return &Pipeline{
		native:     opts.Native,
		background: opts.Background,
		audit:      opts.Audit,
		timeout:    opts.DefaultTimeout,
		matchers:   make(map[Event][]Matcher),
		executors:  executors,
	}
}

// Native returns the native hook registry.
func (p *Pipeline) Native() *NativeRegistry { return p.native }

// Background returns the async hook registry.
func (p *Pipeline) Background() *BackgroundRegistry { return p.background }

// SetVerifier installs the agent handler backend. The agent loop is built
// after the pipeline, so it registers itself here.
func (p *Pipeline) SetVerifier(v AgentVerifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, builtin := p.executors[KindAgent].(AgentExecutor); builtin {
		p.executors[KindAgent] = AgentExecutor{Verifier: v}
	}
}

// SetMatchers replaces all configured matchers at once.
func (p *Pipeline) SetMatchers(m map[Event][]Matcher) {
	next := make(map[Event][]Matcher, len(m))
	for ev, list := range m {
		next[ev] = append([]Matcher(nil), list...)
	}
	p.mu.Lock()
	p.matchers = next
	p.mu.Unlock()
}

// Register appends a matcher for an event.
func (p *Pipeline) Register(event Event, m Matcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchers[event] = append(p.matchers[event], m)
}

// Matchers returns the configured matchers for an event.
func (p *Pipeline) Matchers(event Event) []Matcher {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Matcher(nil), p.matchers[event]...)
}

// Execute runs the native tier and then the configured matchers for
// in.Event. It returns nil when no hook had anything to say.
func (p *Pipeline) Execute(ctx context.Context, in Input) *Output {
	acc := &accumulator{}

	for _, nh := range p.native.For(in.Event) {
		out, err := runNative(ctx, nh, in)
		if err != nil {
			slog.Warn("Native hook failed", "hook", nh.Name, "event", in.Event, "error", err)
			continue
		}
		if out == nil {
			continue
		}
		if out.Decisive() {
			p.record(ctx, in, "native:"+nh.Name, "refused", out.Reason())
			return acc.finish(out)
		}
		in = acc.add(in, out)
	}

	return p.run(ctx, p.Matchers(in.Event), in, acc)
}

// Run evaluates matchers against in without the native tier.
func (p *Pipeline) Run(ctx context.Context, matchers []Matcher, in Input) *Output {
	return p.run(ctx, matchers, in, &accumulator{})
}

func (p *Pipeline) run(ctx context.Context, matchers []Matcher, in Input, acc *accumulator) *Output {
	for _, m := range matchers {
		if !m.matches(in) {
			continue
		}
		for _, h := range m.Hooks {
			if !h.IsEnabled() {
				p.record(ctx, in, h.Label(), "disabled", "")
				continue
			}
			if h.Async {
				p.startAsync(ctx, h, in)
				continue
			}
			out, err := p.dispatch(ctx, h, in)
			if err != nil {
				slog.Warn("Hook handler failed", "hook", h.Label(), "event", in.Event, "error", err)
				continue
			}
			if out == nil {
				continue
			}
			if out.Decisive() {
				if out.Refuses() {
					p.record(ctx, in, h.Label(), "refused", out.Reason())
				}
				return acc.finish(out)
			}
			in = acc.add(in, out)
		}
	}
	return acc.finish(nil)
}

// dispatch is the single point where a handler kind selects its executor.
func (p *Pipeline) dispatch(ctx context.Context, h Handler, in Input) (*Output, error) {
	p.mu.RLock()
	exec, ok := p.executors[h.Kind]
	p.mu.RUnlock()
	if !ok {
		slog.Warn("No executor for hook kind", "kind", h.Kind)
		return nil, nil
	}
	hctx, cancel := context.WithTimeout(ctx, h.timeout(p.timeout))
	defer cancel()
	return exec.Execute(hctx, h, in)
}

func (p *Pipeline) startAsync(ctx context.Context, h Handler, in Input) {
	p.mu.RLock()
	exec, ok := p.executors[h.Kind]
	p.mu.RUnlock()
	if !ok {
		return
	}
	label := h.Label()
	_, err := p.background.Start(ctx, label, h.timeout(p.timeout), func(bctx context.Context) {
		if _, err := exec.Execute(bctx, h, in); err != nil {
			slog.Debug("Async hook failed", "hook", label, "event", in.Event, "error", err)
		}
	})
	if err != nil {
		slog.Warn("Async hook not started", "hook", label, "error", err)
	}
}

func (p *Pipeline) record(ctx context.Context, in Input, handler, outcome, detail string) {
	if p.audit == nil {
		return
	}
	rec := AuditRecord{
		SessionID: in.SessionID,
		Event:     in.Event,
		Handler:   handler,
		Outcome:   outcome,
		Detail:    detail,
		At:        time.Now(),
	}
	if err := p.audit.RecordHookAudit(ctx, rec); err != nil {
		slog.Debug("Hook audit write failed", "error", err)
	}
}

func runNative(ctx context.Context, nh NativeHook, in Input) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Native hook panicked", "hook", nh.Name, "panic", r)
			out, err = nil, nil
		}
	}()
	return nh.Fn(ctx, in)
}

// accumulator merges non-decisive outputs. Later updatedInput keys
// override earlier ones.
type accumulator struct {
	updated  map[string]any
	contexts []string
}

func (a *accumulator) add(in Input, out *Output) Input {
	if len(out.UpdatedInput) > 0 {
		if a.updated == nil {
			a.updated = make(map[string]any)
		}
		maps.Copy(a.updated, out.UpdatedInput)
		if in.ToolInput != nil || in.Event == PreToolUse {
			next := make(map[string]any, len(in.ToolInput)+len(out.UpdatedInput))
			maps.Copy(next, in.ToolInput)
			maps.Copy(next, out.UpdatedInput)
			in.ToolInput = next
		}
	}
	if s := strings.TrimSpace(out.AdditionalContext); s != "" {
		a.contexts = append(a.contexts, s)
	}
	return in
}

func (a *accumulator) finish(final *Output) *Output {
	var res Output
	if final != nil {
		res = *final
	}
	if len(a.updated) > 0 {
		merged := make(map[string]any, len(a.updated)+len(res.UpdatedInput))
		maps.Copy(merged, a.updated)
		maps.Copy(merged, res.UpdatedInput)
		res.UpdatedInput = merged
	}
	ctxs := a.contexts
	if s := strings.TrimSpace(res.AdditionalContext); s != "" {
		ctxs = append(append([]string(nil), ctxs...), s)
	}
	res.AdditionalContext = strings.Join(ctxs, "\n")
	if res.empty() {
		return nil
	}
	return &res
}
