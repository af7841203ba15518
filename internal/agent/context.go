package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/KafClaw/agentcore/internal/tools"
)

// ContextBuilder assembles the system prompt for one loop.
type ContextBuilder struct {
	workingDir string
	base       string
	registry   *tools.Registry
	now        func() time.Time
}

// NewContextBuilder creates a builder. base is an operator supplied prompt
// placed ahead of the generated sections.
func NewContextBuilder(workingDir, base string, registry *tools.Registry) *ContextBuilder {
	return &ContextBuilder{
		workingDir: expandHome(workingDir),
		base:       strings.TrimSpace(base),
		registry:   registry,
		now:        time.Now,
	}
}

// BuildSystemPrompt renders the prompt for the given effective tools and
// skills. sessionContext is text contributed by SessionStart hooks.
func (b *ContextBuilder) BuildSystemPrompt(toolNames []string, skills []Skill, sessionContext string) string {
	var parts []string

	parts = append(parts, b.identity())
	if b.base != "" {
		parts = append(parts, b.base)
	}
	if summary := b.toolSummary(toolNames); summary != "" {
		parts = append(parts, "# Tools\n\n"+summary)
	}
	if summary := skillSummary(skills); summary != "" {
		parts = append(parts, "# Skills\n\n"+summary)
	}
	if s := strings.TrimSpace(sessionContext); s != "" {
		parts = append(parts, "# Session Context\n\n"+s)
	}

	return strings.Join(parts, "\n\n---\n\n")
}

func (b *ContextBuilder) identity() string {
	t := b.now()
	now := t.Format("2006-01-02 15:04 (Monday)")

	// Pre-compute date references so the model never has to do date arithmetic
	yesterday := t.AddDate(0, 0, -1)
	tomorrow := t.AddDate(0, 0, 1)
	dateRef := fmt.Sprintf("- Yesterday: %s (%s)\n- Today: %s (%s)\n- Tomorrow: %s (%s)",
		yesterday.Format("2006-01-02"), yesterday.Format("Monday"),
		t.Format("2006-01-02"), t.Format("Monday"),
		tomorrow.Format("2006-01-02"), tomorrow.Format("Monday"))
	for i := 2; i <= 7; i++ {
		d := t.AddDate(0, 0, i)
		dateRef += fmt.Sprintf("\n- %s: %s", d.Format("Monday"), d.Format("2006-01-02"))
	}

	runtimeInfo := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	wd := b.workingDir
	if wd == "" {
		wd = "(not set)"
	}

	return fmt.Sprintf(`# Agent

You are a helpful, efficient assistant working through tools.
Use tools when they help; reply with text when no tool is needed.
Tool calls may be refused by policy. When that happens, explain what was refused instead of retrying the same call.

## Current Time
%s

## Date Reference (use these, do not compute dates yourself)
%s

## Runtime
%s

## Working Directory
%s
`, now, dateRef, runtimeInfo, wd)
}

func (b *ContextBuilder) toolSummary(names []string) string {
	if b.registry == nil || len(names) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You have the following tools available:\n")
	for _, name := range names {
		tool, ok := b.registry.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return sb.String()
}

func skillSummary(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("The user can invoke these skills with /<name>:\n")
	for _, s := range skills {
		fmt.Fprintf(&sb, "- /%s: %s\n", s.Name, s.Description)
	}
	return sb.String()
}

func expandHome(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}
