// Package config provides configuration types and loading for agentcore.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Agent, Context, Subagents, Scheduler,
// Hooks, Events.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Agent     AgentConfig     `json:"agent"`
	Context   ContextConfig   `json:"context"`
	Subagents SubagentsConfig `json:"subagents"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Hooks     HooksConfig     `json:"hooks"`
	Events    EventsConfig    `json:"events"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace   string `json:"workspace" envconfig:"WORKSPACE"`
	DBPath      string `json:"dbPath" envconfig:"DB_PATH"`
	SessionsDir string `json:"sessionsDir" envconfig:"SESSIONS_DIR"`
	// SkillsDir holds one <name>/SKILL.md per slash-command skill.
	SkillsDir string `json:"skillsDir" envconfig:"SKILLS_DIR"`
}

// ---------------------------------------------------------------------------
// Model – LLM endpoint and sampling
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model settings.
type ModelConfig struct {
	Name        string  `json:"name"`
	APIBase     string  `json:"apiBase,omitempty" envconfig:"API_BASE"`
	APIKey      string  `json:"apiKey,omitempty" envconfig:"API_KEY"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// ---------------------------------------------------------------------------
// Agent – turn loop
// ---------------------------------------------------------------------------

// AgentConfig contains turn loop settings.
type AgentConfig struct {
	MaxTurns   int    `json:"maxTurns" envconfig:"MAX_TURNS"`
	WorkingDir string `json:"workingDir" envconfig:"WORKING_DIR"`
	// AllowedTools is the session allow-list. Empty allows every tool.
	AllowedTools []string      `json:"allowedTools" envconfig:"ALLOWED_TOOLS"`
	ExecTimeout  time.Duration `json:"execTimeout" envconfig:"EXEC_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Context – window management
// ---------------------------------------------------------------------------

// ContextConfig contains the token budget and summarization strategy.
type ContextConfig struct {
	Enabled      bool    `json:"enabled"`
	MaxTokens    int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	TargetTokens int     `json:"targetTokens" envconfig:"TARGET_TOKENS"`
	TriggerRatio float64 `json:"triggerRatio" envconfig:"TRIGGER_RATIO"`
	KeepRecent   int     `json:"keepRecent" envconfig:"KEEP_RECENT"`
	// Strategy is "text" or "hybrid".
	Strategy string `json:"strategy" envconfig:"STRATEGY"`
}

// ---------------------------------------------------------------------------
// Subagents – delegation limits
// ---------------------------------------------------------------------------

// SubagentsConfig contains limits for spawned child agents.
type SubagentsConfig struct {
	Enabled             bool     `json:"enabled"`
	MaxDepth            int      `json:"maxDepth" envconfig:"MAX_DEPTH"`
	MaxConcurrent       int      `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	MaxTurnsCeiling     int      `json:"maxTurnsCeiling" envconfig:"MAX_TURNS_CEILING"`
	TimeoutSeconds      int      `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
	ArchiveAfterMinutes int      `json:"archiveAfterMinutes" envconfig:"ARCHIVE_AFTER_MINUTES"`
	DefaultTools        []string `json:"defaultTools" envconfig:"DEFAULT_TOOLS"`
	ForbiddenTools      []string `json:"forbiddenTools" envconfig:"FORBIDDEN_TOOLS"`
}

// ---------------------------------------------------------------------------
// Scheduler – scheduled commands
// ---------------------------------------------------------------------------

// SchedulerConfig contains settings for the schedule coordinator.
type SchedulerConfig struct {
	Enabled   bool          `json:"enabled"`
	Heartbeat time.Duration `json:"heartbeat" envconfig:"HEARTBEAT"`
	LockTTL   time.Duration `json:"lockTtl" envconfig:"LOCK_TTL"`
}

// ---------------------------------------------------------------------------
// Hooks – lifecycle hook configuration
// ---------------------------------------------------------------------------

// HooksConfig points at the YAML hook file.
type HooksConfig struct {
	File           string        `json:"file"`
	Watch          bool          `json:"watch"`
	DefaultTimeout time.Duration `json:"defaultTimeout" envconfig:"DEFAULT_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Events – lifecycle event export
// ---------------------------------------------------------------------------

// EventsConfig configures where lifecycle events go besides the local log.
type EventsConfig struct {
	// Store records events in the timeline database.
	Store        bool   `json:"store"`
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`
	QueueSize    int    `json:"queueSize" envconfig:"QUEUE_SIZE"`
	// KafkaSecurityProtocol is PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL.
	KafkaSecurityProtocol string `json:"kafkaSecurityProtocol,omitempty" envconfig:"KAFKA_SECURITY_PROTOCOL"`
	KafkaSASLMechanism    string `json:"kafkaSaslMechanism,omitempty" envconfig:"KAFKA_SASL_MECHANISM"`
	KafkaUsername         string `json:"kafkaUsername,omitempty" envconfig:"KAFKA_USERNAME"`
	KafkaPassword         string `json:"kafkaPassword,omitempty" envconfig:"KAFKA_PASSWORD"`
	KafkaCAFile           string `json:"kafkaCaFile,omitempty" envconfig:"KAFKA_CA_FILE"`
	KafkaCertFile         string `json:"kafkaCertFile,omitempty" envconfig:"KAFKA_CERT_FILE"`
	KafkaKeyFile          string `json:"kafkaKeyFile,omitempty" envconfig:"KAFKA_KEY_FILE"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Workspace:   "~/AgentCore-Workspace",
			DBPath:      "~/.agentcore/timeline.db",
			SessionsDir: "~/.agentcore/sessions",
			SkillsDir:   "~/.agentcore/skills",
		},
		Model: ModelConfig{
			Name:        "gpt-4o",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			MaxTurns:    50,
			ExecTimeout: 60 * time.Second,
		},
		Context: ContextConfig{
			Enabled:      true,
			MaxTokens:    128_000,
			TargetTokens: 100_000,
			TriggerRatio: 0.8,
			KeepRecent:   6,
			Strategy:     "hybrid",
		},
		Subagents: SubagentsConfig{
			Enabled:             true,
			MaxDepth:            2,
			MaxConcurrent:       4,
			MaxTurnsCeiling:     25,
			TimeoutSeconds:      300,
			ArchiveAfterMinutes: 60,
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			Heartbeat: 30 * time.Second,
			LockTTL:   2 * time.Minute,
		},
		Hooks: HooksConfig{
			File:           "~/.agentcore/hooks.yaml",
			Watch:          true,
			DefaultTimeout: 60 * time.Second,
		},
		Events: EventsConfig{
			Store:      true,
			KafkaTopic: "agentcore.events",
			QueueSize:  256,
		},
	}
}
