// Package doctor checks that an agentcore installation can start: config,
// data directories, the timeline database, hook files and event export.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KafClaw/agentcore/internal/bus"
	"github.com/KafClaw/agentcore/internal/config"
	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/timeline"
)

type Status string

const (
	Pass Status = "pass"
	Warn Status = "warn"
	Fail Status = "fail"
)

type Check struct {
	Name    string
	Status  Status
	Message string
}

type Report struct {
	Checks []Check
}

type Options struct {
	// Fix writes a default config file and creates missing directories.
	Fix bool
	// Network enables the broker probe when event export is configured.
	Network      bool
	ProbeTimeout time.Duration
}

func (r Report) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == Fail {
			return true
		}
	}
	return false
}

func (r *Report) add(name string, status Status, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

// Run executes every check. Checks after a config load failure are skipped.
func Run(ctx context.Context, opts Options) Report {
	report := Report{Checks: make([]Check, 0, 12)}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", Fail, "cannot resolve config path: %v", err)
		return report
	}
	switch _, err := os.Stat(cfgPath); {
	case err == nil:
		report.add("config_file", Pass, "config file found at %s", cfgPath)
	case os.IsNotExist(err) && opts.Fix:
		if err := config.Save(config.DefaultConfig()); err != nil {
			report.add("config_file", Fail, "failed to write default config: %v", err)
		} else {
			report.add("config_file", Pass, "wrote default config to %s", cfgPath)
		}
	case os.IsNotExist(err):
		report.add("config_file", Warn, "config file not found at %s (defaults will be used)", cfgPath)
	default:
		report.add("config_file", Fail, "cannot access config file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", Fail, "config load failed: %v", err)
		return report
	}
	report.add("config_load", Pass, "config loaded successfully")

	if cfg.Model.APIKey == "" {
		report.add("api_key", Warn, "no API key (model.apiKey, AGENTCORE_MODEL_API_KEY or OPENAI_API_KEY)")
	} else {
		report.add("api_key", Pass, "API key configured for %s", cfg.Model.Name)
	}

	checkDir(&report, "data_dir", filepath.Dir(cfg.Paths.DBPath), opts.Fix)
	checkDir(&report, "sessions_dir", cfg.Paths.SessionsDir, opts.Fix)
	checkDir(&report, "working_dir", cfg.Agent.WorkingDir, opts.Fix)

	checkTimeline(ctx, &report, cfg)
	checkHooks(&report, cfg)
	checkContext(&report, cfg)
	checkEvents(ctx, &report, cfg, opts)
	return report
}

func checkDir(r *Report, name, dir string, fix bool) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if !fix {
			r.add(name, Warn, "%s does not exist yet (created on first run)", dir)
			return
		}
		if err := config.EnsureDir(dir); err != nil {
			r.add(name, Fail, "cannot create %s: %v", dir, err)
			return
		}
		r.add(name, Pass, "created %s", dir)
		return
	}
	if err != nil {
		r.add(name, Fail, "cannot access %s: %v", dir, err)
		return
	}
	if !info.IsDir() {
		r.add(name, Fail, "%s is not a directory", dir)
		return
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		r.add(name, Fail, "%s is not writable: %v", dir, err)
		return
	}
	f.Close()
	_ = os.Remove(f.Name())
	r.add(name, Pass, "%s is writable", dir)
}

func checkTimeline(ctx context.Context, r *Report, cfg *config.Config) {
	if _, err := os.Stat(cfg.Paths.DBPath); os.IsNotExist(err) {
		r.add("timeline", Warn, "no timeline database at %s yet", cfg.Paths.DBPath)
		return
	}
	store, err := timeline.NewTimelineService(cfg.Paths.DBPath)
	if err != nil {
		r.add("timeline", Fail, "cannot open %s: %v", cfg.Paths.DBPath, err)
		return
	}
	defer store.Close()
	items, err := store.ListSchedules(ctx)
	if err != nil {
		r.add("timeline", Fail, "cannot read schedules: %v", err)
		return
	}
	r.add("timeline", Pass, "%s opened, %d schedule(s)", cfg.Paths.DBPath, len(items))

	failed := 0
	for _, sc := range items {
		if sc.Status == timeline.StatusError {
			failed++
		}
	}
	if failed > 0 {
		r.add("schedules", Warn, "%d schedule(s) in error state (agentcore schedule list)", failed)
	} else if len(items) > 0 && !cfg.Scheduler.Enabled {
		r.add("schedules", Warn, "%d schedule(s) stored but scheduler.enabled is false", len(items))
	}
}

func checkHooks(r *Report, cfg *config.Config) {
	if cfg.Hooks.File == "" {
		r.add("hooks", Pass, "no hook file configured")
		return
	}
	if _, err := os.Stat(cfg.Hooks.File); os.IsNotExist(err) {
		r.add("hooks", Pass, "no hook file at %s", cfg.Hooks.File)
		return
	}
	m, err := hooks.LoadConfig(cfg.Hooks.File)
	if err != nil {
		r.add("hooks", Fail, "%s: %v", cfg.Hooks.File, err)
		return
	}
	n := 0
	for _, list := range m {
		for _, mt := range list {
			n += len(mt.Hooks)
		}
	}
	r.add("hooks", Pass, "%d handler(s) on %d event(s) in %s", n, len(m), cfg.Hooks.File)
}

func checkContext(r *Report, cfg *config.Config) {
	if !cfg.Context.Enabled {
		r.add("context_window", Warn, "context management is disabled; long sessions will hit the model limit")
		return
	}
	c := cfg.Context
	r.add("context_window", Pass, "%s strategy, compacts at %d of %d tokens down to %d",
		c.Strategy, int(float64(c.MaxTokens)*c.TriggerRatio), c.MaxTokens, c.TargetTokens)
}

func checkEvents(ctx context.Context, r *Report, cfg *config.Config, opts Options) {
	e := cfg.Events
	if e.KafkaBrokers == "" {
		r.add("kafka", Pass, "event export disabled")
		return
	}
	sec := bus.SecurityFromConfig(e)
	if _, err := sec.Transport(opts.ProbeTimeout); err != nil {
		r.add("kafka", Fail, "invalid kafka security settings: %v", err)
		return
	}
	if !opts.Network {
		r.add("kafka", Pass, "exporting to %s on %s (not probed)", e.KafkaTopic, e.KafkaBrokers)
		return
	}
	parts, err := bus.ProbeKafka(ctx, e.KafkaBrokers, e.KafkaTopic, sec, opts.ProbeTimeout)
	if err != nil {
		r.add("kafka", Fail, "%v", err)
		return
	}
	if parts == 0 {
		r.add("kafka", Warn, "brokers reachable, topic %s does not exist yet", e.KafkaTopic)
		return
	}
	r.add("kafka", Pass, "topic %s has %d partition(s)", e.KafkaTopic, parts)
}
