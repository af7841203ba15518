package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".agentcore"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "AGENTCORE"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("AGENTCORE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("AGENTCORE_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	groups := []struct {
		name   string
		target any
	}{
		{"PATHS", &cfg.Paths},
		{"MODEL", &cfg.Model},
		{"AGENT", &cfg.Agent},
		{"CONTEXT", &cfg.Context},
		{"SUBAGENTS", &cfg.Subagents},
		{"SCHEDULER", &cfg.Scheduler},
		{"HOOKS", &cfg.Hooks},
		{"EVENTS", &cfg.Events},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.name, g.target); err != nil {
			return nil, fmt.Errorf("env overrides for %s: %w", strings.ToLower(g.name), err)
		}
	}

	// Fallback for API Key
	if cfg.Model.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Model.APIKey = key
		} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			cfg.Model.APIKey = key
		}
	}

	expandHome(&cfg.Paths.Workspace)
	expandHome(&cfg.Paths.DBPath)
	expandHome(&cfg.Paths.SessionsDir)
	expandHome(&cfg.Paths.SkillsDir)
	expandHome(&cfg.Agent.WorkingDir)
	expandHome(&cfg.Hooks.File)
	expandHome(&cfg.Events.KafkaCAFile)
	expandHome(&cfg.Events.KafkaCertFile)
	expandHome(&cfg.Events.KafkaKeyFile)

	normalize(cfg)
	return cfg, nil
}

func expandHome(p *string) {
	if strings.HasPrefix(*p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			*p = filepath.Join(home, (*p)[1:])
		}
	}
}

// normalize replaces zero or out-of-range values with defaults.
func normalize(cfg *Config) {
	d := DefaultConfig()
	if cfg.Agent.MaxTurns <= 0 {
		cfg.Agent.MaxTurns = d.Agent.MaxTurns
	}
	if cfg.Agent.ExecTimeout <= 0 {
		cfg.Agent.ExecTimeout = d.Agent.ExecTimeout
	}
	if cfg.Agent.WorkingDir == "" {
		cfg.Agent.WorkingDir = cfg.Paths.Workspace
	}

	if cfg.Context.MaxTokens <= 0 {
		cfg.Context.MaxTokens = d.Context.MaxTokens
	}
	if cfg.Context.TargetTokens <= 0 || cfg.Context.TargetTokens > cfg.Context.MaxTokens {
		cfg.Context.TargetTokens = cfg.Context.MaxTokens * 3 / 4
	}
	if cfg.Context.TriggerRatio <= 0 || cfg.Context.TriggerRatio > 1 {
		cfg.Context.TriggerRatio = d.Context.TriggerRatio
	}
	if cfg.Context.KeepRecent <= 0 {
		cfg.Context.KeepRecent = d.Context.KeepRecent
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Context.Strategy)) {
	case "text":
		cfg.Context.Strategy = "text"
	default:
		cfg.Context.Strategy = "hybrid"
	}

	if cfg.Subagents.MaxDepth <= 0 {
		cfg.Subagents.MaxDepth = d.Subagents.MaxDepth
	}
	if cfg.Subagents.MaxConcurrent <= 0 {
		cfg.Subagents.MaxConcurrent = d.Subagents.MaxConcurrent
	}
	if cfg.Subagents.MaxTurnsCeiling <= 0 {
		cfg.Subagents.MaxTurnsCeiling = d.Subagents.MaxTurnsCeiling
	}
	if cfg.Subagents.TimeoutSeconds <= 0 {
		cfg.Subagents.TimeoutSeconds = d.Subagents.TimeoutSeconds
	}
	if cfg.Subagents.ArchiveAfterMinutes <= 0 {
		cfg.Subagents.ArchiveAfterMinutes = d.Subagents.ArchiveAfterMinutes
	}

	if cfg.Scheduler.Heartbeat <= 0 {
		cfg.Scheduler.Heartbeat = d.Scheduler.Heartbeat
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = d.Scheduler.LockTTL
	}
	if cfg.Hooks.DefaultTimeout <= 0 {
		cfg.Hooks.DefaultTimeout = d.Hooks.DefaultTimeout
	}
	if cfg.Events.QueueSize <= 0 {
		cfg.Events.QueueSize = d.Events.QueueSize
	}
	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = d.Events.KafkaTopic
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// loadConfigObject reads path, resolving "$include" files first so the
// including file wins, and substitutes ${VAR} references.
func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, ok := val.(map[string]any)
		if !ok {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
