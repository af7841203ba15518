package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/KafClaw/agentcore/internal/hooks"
)

// CommandPrefix starts slash commands and skill invocations.
const CommandPrefix = "/"

// CommandResult is what a command hands back to the caller. Clear and Exit
// are requests for the presentation layer.
type CommandResult struct {
	Output string
	Clear  bool
	Exit   bool
}

// CommandFunc implements a slash command.
type CommandFunc func(ctx context.Context, l *Loop, args string) (CommandResult, error)

// Command is an entry of the command table.
type Command struct {
	Name        string
	Description string
	Run         CommandFunc
}

// Skill is a prompt template invoked as /<name>. $ARGUMENTS in Prompt is
// replaced by the text after the name. A non-nil AllowedTools restricts
// the tools of that run.
type Skill struct {
	Name         string
	Description  string
	Prompt       string
	AllowedTools []string
}

// Expand renders the skill prompt for args.
func (s Skill) Expand(args string) string {
	args = strings.TrimSpace(args)
	if strings.Contains(s.Prompt, "$ARGUMENTS") {
		return strings.ReplaceAll(s.Prompt, "$ARGUMENTS", args)
	}
	if args == "" {
		return s.Prompt
	}
	return s.Prompt + "\n\n" + args
}

func parseCommand(input string) (name, args string) {
	rest := strings.TrimPrefix(strings.TrimSpace(input), CommandPrefix)
	name = rest
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, args = rest[:i], rest[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(args)
}

func sortSkills(skills []Skill) {
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
}

func builtinCommands() []Command {
	return []Command{
		{Name: "help", Description: "List commands and skills", Run: helpCommand},
		{Name: "clear", Description: "Start over with an empty conversation", Run: clearCommand},
		{Name: "exit", Description: "End the session", Run: exitCommand},
		{Name: "compact", Description: "Summarize older messages now", Run: compactCommand},
		{Name: "agents", Description: "List subagent runs", Run: agentsCommand},
	}
}

func helpCommand(_ context.Context, l *Loop, _ string) (CommandResult, error) {
	names := make([]string, 0, len(l.commands))
	for name := range l.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  /%-10s %s\n", name, l.commands[name].Description)
	}
	if skills := l.skillList(); len(skills) > 0 {
		sb.WriteString("\nSkills:\n")
		for _, s := range skills {
			fmt.Fprintf(&sb, "  /%-10s %s\n", s.Name, s.Description)
		}
	}
	return CommandResult{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

func clearCommand(ctx context.Context, l *Loop, _ string) (CommandResult, error) {
	l.hooks.Execute(ctx, l.hookInput(hooks.SessionEnd, func(in *hooks.Input) { in.Reason = "clear" }))
	l.session.Clear()
	l.sessionStart(ctx, "clear")
	return CommandResult{Output: "Conversation cleared.", Clear: true}, nil
}

func exitCommand(context.Context, *Loop, string) (CommandResult, error) {
	return CommandResult{Output: "Goodbye.", Exit: true}, nil
}

func compactCommand(ctx context.Context, l *Loop, _ string) (CommandResult, error) {
	if l.window == nil {
		return CommandResult{Output: "Context management is not enabled."}, nil
	}
	res := l.window.Force(ctx, l.session.Messages())
	if !res.Summarized {
		return CommandResult{Output: "Nothing to compact."}, nil
	}
	l.applyCompaction(nil, res)
	return CommandResult{Output: fmt.Sprintf("Compacted %d messages (%d -> %d tokens).",
		res.SummarizedCount, res.TokensBefore, res.TokensAfter)}, nil
}

func agentsCommand(_ context.Context, l *Loop, _ string) (CommandResult, error) {
	if l.subagents == nil {
		return CommandResult{Output: "Subagents are not enabled."}, nil
	}
	runs := l.subagents.List()
	if len(runs) == 0 {
		return CommandResult{Output: "No subagent runs."}, nil
	}
	var sb strings.Builder
	for _, info := range runs {
		fmt.Fprintf(&sb, "%s  %-9s depth=%d  %s: %s\n",
			shortID(info.ID), info.Status, info.Depth, info.Label, truncateStr(info.Task, 60))
	}
	return CommandResult{Output: strings.TrimRight(sb.String(), "\n")}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateStr returns s trimmed to maxLen characters.
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
