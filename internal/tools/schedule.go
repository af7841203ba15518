package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ScheduleToolName lets the model queue unattended work. Subagents never
// receive it.
const ScheduleToolName = "schedule_command"

// ScheduleRequest describes a command to run later. Exactly one of At,
// Cron and Every is set.
type ScheduleRequest struct {
	Name    string
	Command string
	At      time.Time
	Cron    string
	Every   time.Duration
}

// ScheduleFunc stores a request and returns the schedule id.
type ScheduleFunc func(ctx context.Context, req ScheduleRequest) (string, error)

// ScheduleCommandTool stores a scheduled command.
type ScheduleCommandTool struct {
	schedule ScheduleFunc
}

func NewScheduleCommandTool(fn ScheduleFunc) *ScheduleCommandTool {
	return &ScheduleCommandTool{schedule: fn}
}

func (t *ScheduleCommandTool) Name() string { return ScheduleToolName }
func (t *ScheduleCommandTool) Tier() int    { return TierWrite }

func (t *ScheduleCommandTool) Description() string {
	return "Schedule a prompt or slash command to run unattended later, once or on a recurring basis."
}

func (t *ScheduleCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Prompt or slash command to run.",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Optional short name.",
			},
			"at": map[string]any{
				"type":        "string",
				"description": "Run once at this RFC 3339 time.",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Run on this 5-field cron expression.",
			},
			"every": map[string]any{
				"type":        "string",
				"description": "Run repeatedly at this interval, e.g. 30m or 2h.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ScheduleCommandTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.schedule == nil {
		return "", fmt.Errorf("%s unavailable", ScheduleToolName)
	}
	req := ScheduleRequest{
		Name:    strings.TrimSpace(GetString(params, "name", "")),
		Command: strings.TrimSpace(GetString(params, "command", "")),
		Cron:    strings.TrimSpace(GetString(params, "cron", "")),
	}
	if req.Command == "" {
		return "", fmt.Errorf("command is required")
	}

	set := 0
	if at := GetString(params, "at", ""); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return "", fmt.Errorf("invalid at: %w", err)
		}
		req.At = parsed
		set++
	}
	if every := GetString(params, "every", ""); every != "" {
		d, err := time.ParseDuration(every)
		if err != nil || d < time.Second {
			return "", fmt.Errorf("invalid every %q", every)
		}
		req.Every = d
		set++
	}
	if req.Cron != "" {
		set++
	}
	if set != 1 {
		return "", fmt.Errorf("set exactly one of at, cron or every")
	}

	id, err := t.schedule(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduled %s", id), nil
}
