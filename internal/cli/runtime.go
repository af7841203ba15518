package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/agent"
	"github.com/KafClaw/agentcore/internal/bus"
	"github.com/KafClaw/agentcore/internal/config"
	"github.com/KafClaw/agentcore/internal/contextwindow"
	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/policy"
	"github.com/KafClaw/agentcore/internal/provider"
	"github.com/KafClaw/agentcore/internal/scheduler"
	"github.com/KafClaw/agentcore/internal/session"
	"github.com/KafClaw/agentcore/internal/skills"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/KafClaw/agentcore/internal/tools"
)

// shutdownTimeout bounds how long closing waits for background hooks and
// event sinks.
const shutdownTimeout = 10 * time.Second

// runtime wires one agent session to its store, hooks, event sinks and
// schedule coordinator.
type runtime struct {
	cfg      *config.Config
	store    *timeline.TimelineService
	sessions *session.Manager
	pipeline *hooks.Pipeline
	events   *bus.EventBus
	kafka    *bus.KafkaSink
	loop     *agent.Loop
	coord    *scheduler.Coordinator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func openStore(cfg *config.Config) (*timeline.TimelineService, error) {
	if err := config.EnsureDir(filepath.Dir(cfg.Paths.DBPath)); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := timeline.NewTimelineService(cfg.Paths.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	return store, nil
}

func buildRegistry(cfg *config.Config) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewReadFileTool())
	reg.Register(tools.NewListDirTool())
	reg.Register(tools.NewWriteFileTool(cfg.Agent.WorkingDir))
	reg.Register(tools.NewEditFileTool(cfg.Agent.WorkingDir))
	shell := tools.NewExecTool(cfg.Agent.ExecTimeout)
	shell.WorkDir = cfg.Agent.WorkingDir
	shell.RestrictToWorkspace = true
	reg.Register(shell)
	return reg
}

func buildStrategy(cfg *config.Config, prov provider.LLMProvider) contextwindow.Strategy {
	text := contextwindow.TextStrategy{Provider: prov, Model: cfg.Model.Name, MaxTokens: 2048}
	if cfg.Context.Strategy == "text" {
		return text
	}
	return contextwindow.HybridStrategy{Text: text}
}

// newRuntime builds and initializes the runtime for sessionKey. Background
// work (event dispatch, hook reload) stops when close is called.
func newRuntime(ctx context.Context, cfg *config.Config, sessionKey string) (*runtime, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, store: store}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel

	rt.sessions, err = session.NewManager(cfg.Paths.SessionsDir)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	if err := config.EnsureDir(cfg.Agent.WorkingDir); err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	prov := provider.NewOpenAIProvider(cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Name)

	rt.pipeline = hooks.NewPipeline(hooks.Options{
		Audit:          store,
		Provider:       prov,
		Model:          cfg.Model.Name,
		DefaultTimeout: cfg.Hooks.DefaultTimeout,
	})
	if err := rt.loadHooks(bgCtx); err != nil {
		rt.close(ctx)
		return nil, err
	}

	registry := buildRegistry(cfg)
	rt.pipeline.Native().Register(policy.NativeHook(policy.NewDefaultEngine(), registry))

	rt.events = bus.NewEventBus(cfg.Events.QueueSize)
	if cfg.Events.Store {
		rt.events.AddSink(bus.StoreSink{Store: store})
	}
	if cfg.Events.KafkaBrokers != "" {
		rt.kafka, err = bus.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, bus.SecurityFromConfig(cfg.Events))
		if err != nil {
			rt.close(ctx)
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		rt.events.AddSink(rt.kafka)
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		_ = rt.events.Dispatch(bgCtx)
	}()

	var window *contextwindow.Manager
	if cfg.Context.Enabled {
		window = contextwindow.New(contextwindow.Config{
			MaxTokens:    cfg.Context.MaxTokens,
			TargetTokens: cfg.Context.TargetTokens,
			TriggerRatio: cfg.Context.TriggerRatio,
			KeepRecent:   cfg.Context.KeepRecent,
		}, buildStrategy(cfg, prov))
	}

	var subagents *agent.SubagentManager
	if cfg.Subagents.Enabled {
		subagents = agent.NewSubagentManager(agent.SubagentLimits{
			MaxDepth:        cfg.Subagents.MaxDepth,
			MaxConcurrent:   cfg.Subagents.MaxConcurrent,
			MaxTurnsCeiling: cfg.Subagents.MaxTurnsCeiling,
			DefaultTimeout:  time.Duration(cfg.Subagents.TimeoutSeconds) * time.Second,
			ArchiveAfter:    time.Duration(cfg.Subagents.ArchiveAfterMinutes) * time.Minute,
			DefaultTools:    cfg.Subagents.DefaultTools,
			ForbiddenTools:  cfg.Subagents.ForbiddenTools,
		}, rt.pipeline)
	}

	skillList, err := skills.LoadDir(cfg.Paths.SkillsDir)
	if err != nil {
		slog.Warn("Skills not loaded", "dir", cfg.Paths.SkillsDir, "error", err)
	}

	var allowed []string
	if len(cfg.Agent.AllowedTools) > 0 {
		allowed = cfg.Agent.AllowedTools
	}
	rt.loop = agent.NewLoop(agent.LoopOptions{
		Provider:    prov,
		Model:       cfg.Model.Name,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Session:     rt.sessions.GetOrCreate(sessionKey),
		Sessions:    rt.sessions,
		Registry:    registry,
		Gate:        tools.NewPermissionGate(allowed),
		Hooks:       rt.pipeline,
		Context:     window,
		Events:      rt.events,
		Subagents:   subagents,
		Schedules:   store,
		Skills:      skillList,
		WorkingDir:  cfg.Agent.WorkingDir,
		MaxTurns:    cfg.Agent.MaxTurns,
	})
	if subagents != nil {
		rt.pipeline.SetVerifier(agent.NewVerifier(rt.loop))
	}

	if cfg.Scheduler.Enabled {
		rt.coord = scheduler.New(scheduler.Config{
			Enabled:   true,
			Heartbeat: cfg.Scheduler.Heartbeat,
			LockTTL:   cfg.Scheduler.LockTTL,
		}, store, rt.loop, sessionKey)
		coord := rt.coord
		rt.loop.SetIdleNotifier(func(ctx context.Context) { coord.Drain(ctx) })
	}

	rt.loop.Init(ctx)
	slog.Debug("Runtime ready", "session", sessionKey, "model", cfg.Model.Name, "db", cfg.Paths.DBPath)
	return rt, nil
}

// loadHooks installs the configured matchers and, when enabled, keeps them
// in sync with the file.
func (rt *runtime) loadHooks(ctx context.Context) error {
	path := rt.cfg.Hooks.File
	if path == "" {
		return nil
	}
	matchers, err := hooks.LoadConfig(path)
	if err != nil {
		return err
	}
	rt.pipeline.SetMatchers(matchers)
	if !rt.cfg.Hooks.Watch {
		return nil
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		slog.Debug("Hook config directory missing, not watching", "path", path)
		return nil
	}
	if err := hooks.Watch(ctx, path, rt.pipeline); err != nil {
		slog.Warn("Hook config watch failed", "path", path, "error", err)
	}
	return nil
}

// startCoordinator runs the schedule coordinator until ctx ends.
func (rt *runtime) startCoordinator(ctx context.Context) {
	if rt.coord == nil {
		return
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Schedule coordinator stopped", "error", err)
		}
	}()
}

// close ends the session and releases everything the runtime opened.
func (rt *runtime) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if rt.loop != nil {
		if err := rt.loop.Close(ctx); err != nil {
			slog.Warn("Failed to save session", "error", err)
		}
	}
	if rt.pipeline != nil {
		if err := rt.pipeline.Background().Shutdown(ctx); err != nil {
			slog.Warn("Background hooks did not finish", "error", err)
		}
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()
	if rt.kafka != nil {
		if err := rt.kafka.Close(); err != nil {
			slog.Warn("Failed to close kafka sink", "error", err)
		}
	}
	if rt.store != nil {
		rt.store.Close()
	}
}
