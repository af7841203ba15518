// Package contextwindow keeps conversation history inside a token budget by
// replacing older messages with a summary.
package contextwindow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/KafClaw/agentcore/internal/provider"
)

// Compaction triggers.
const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// SummaryPrefix starts every summary message.
const SummaryPrefix = "[Conversation summary]\n"

// Config holds the token budget.
type Config struct {
	MaxTokens    int
	TargetTokens int
	TriggerRatio float64
	// KeepRecent is the number of most recent non-system messages kept
	// verbatim.
	KeepRecent int
}

// DefaultConfig returns the default budget.
func DefaultConfig() Config {
	return Config{
		MaxTokens:    128_000,
		TargetTokens: 100_000,
		TriggerRatio: 0.8,
		KeepRecent:   6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.TargetTokens <= 0 {
		c.TargetTokens = d.TargetTokens
	}
	if c.TriggerRatio <= 0 || c.TriggerRatio > 1 {
		c.TriggerRatio = d.TriggerRatio
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = d.KeepRecent
	}
	return c
}

// State counts compactions for one session.
type State struct {
	SummaryCount     int
	LastTokensBefore int
	LastTokensAfter  int
	LastSummaryAt    time.Time
	TotalSummarized  int
}

// Result reports one ProcessMessages call.
type Result struct {
	Messages        []provider.Message
	Summarized      bool
	TokensBefore    int
	TokensAfter     int
	SummarizedCount int
}

// Strategy turns messages into summary text.
type Strategy interface {
	Name() string
	Summarize(ctx context.Context, msgs []provider.Message) (string, error)
}

// GateFunc runs before summarization; returning false skips it.
type GateFunc func(ctx context.Context, trigger string) bool

// Manager owns the budget state of one session.
type Manager struct {
	cfg      Config
	strategy Strategy
	gate     GateFunc

	mu    sync.Mutex
	state State
}

// New creates a manager.
func New(cfg Config, strategy Strategy) *Manager {
	return &Manager{cfg: cfg.withDefaults(), strategy: strategy}
}

// SetGate installs the pre-compaction gate.
func (m *Manager) SetGate(g GateFunc) { m.gate = g }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// State returns a snapshot of the counters.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Threshold is the token count above which compaction triggers.
func (m *Manager) Threshold() int {
	byRatio := int(float64(m.cfg.MaxTokens) * m.cfg.TriggerRatio)
	return min(byRatio, m.cfg.TargetTokens)
}

// ProcessMessages compacts msgs when they exceed the threshold. Below the
// threshold, and whenever summarization fails, msgs are returned unchanged.
func (m *Manager) ProcessMessages(ctx context.Context, msgs []provider.Message) Result {
	tokens := EstimateTokens(msgs)
	if tokens <= m.Threshold() {
		return unchanged(msgs, tokens)
	}
	return m.compact(ctx, msgs, tokens, TriggerAuto)
}

// Force compacts regardless of the threshold.
func (m *Manager) Force(ctx context.Context, msgs []provider.Message) Result {
	return m.compact(ctx, msgs, EstimateTokens(msgs), TriggerManual)
}

func (m *Manager) compact(ctx context.Context, msgs []provider.Message, tokens int, trigger string) Result {
	systems, older, tail := Partition(msgs, m.cfg.KeepRecent)
	if len(older) == 0 || m.strategy == nil {
		return unchanged(msgs, tokens)
	}
	if m.gate != nil && !m.gate(ctx, trigger) {
		slog.Info("Compaction skipped by hook", "trigger", trigger)
		return unchanged(msgs, tokens)
	}

	summary, err := m.strategy.Summarize(ctx, older)
	if err != nil {
		slog.Warn("Summarization failed", "strategy", m.strategy.Name(), "error", err)
		return unchanged(msgs, tokens)
	}
	if summary == "" {
		slog.Warn("Summarization returned nothing", "strategy", m.strategy.Name())
		return unchanged(msgs, tokens)
	}

	out := make([]provider.Message, 0, len(systems)+1+len(tail))
	out = append(out, systems...)
	out = append(out, provider.Message{
		Role:      provider.RoleSystem,
		Content:   SummaryPrefix + summary,
		Timestamp: time.Now(),
		Summary:   true,
	})
	out = append(out, tail...)
	after := EstimateTokens(out)

	m.mu.Lock()
	m.state.SummaryCount++
	m.state.LastTokensBefore = tokens
	m.state.LastTokensAfter = after
	m.state.LastSummaryAt = time.Now()
	m.state.TotalSummarized += len(older)
	m.mu.Unlock()

	slog.Info("Context compacted", "trigger", trigger, "tokens_before", tokens, "tokens_after", after, "summarized", len(older))
	return Result{
		Messages:        out,
		Summarized:      true,
		TokensBefore:    tokens,
		TokensAfter:     after,
		SummarizedCount: len(older),
	}
}

func unchanged(msgs []provider.Message, tokens int) Result {
	return Result{Messages: msgs, TokensBefore: tokens, TokensAfter: tokens}
}

// Partition splits msgs into non-summary system messages, messages to
// summarize (including earlier summaries), and the retained tail. The tail
// is widened while it would start with tool results whose calls sit
// outside it.
func Partition(msgs []provider.Message, keep int) (systems, older, tail []provider.Message) {
	var convo []provider.Message
	for _, msg := range msgs {
		switch {
		case msg.Role == provider.RoleSystem && msg.Summary:
			older = append(older, msg)
		case msg.Role == provider.RoleSystem:
			systems = append(systems, msg)
		default:
			convo = append(convo, msg)
		}
	}
	start := len(convo) - keep
	if start < 0 {
		start = 0
	}
	for start > 0 && len(convo[start].ToolResults) > 0 {
		start--
	}
	older = append(older, convo[:start]...)
	tail = convo[start:]
	return systems, older, tail
}

// EstimateTokens approximates tokens as a quarter of the characters in
// contents, tool arguments and tool results, plus a small per-message
// overhead.
func EstimateTokens(msgs []provider.Message) int {
	chars := 0
	for _, msg := range msgs {
		chars += len(msg.Content) + 16
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Name)
			if len(tc.Arguments) > 0 {
				raw, _ := json.Marshal(tc.Arguments)
				chars += len(raw)
			}
		}
		for _, tr := range msg.ToolResults {
			chars += len(tr.Content) + len(tr.ToolCallID)
		}
	}
	return (chars + 3) / 4
}
