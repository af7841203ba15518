package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/KafClaw/agentcore/internal/agent"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/fatih/color"
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func scheduleStatusColor(s timeline.ScheduleStatus) string {
	switch s {
	case timeline.StatusActive:
		return color.GreenString(string(s))
	case timeline.StatusPaused:
		return color.YellowString(string(s))
	case timeline.StatusError:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func outcomeColor(outcome string) string {
	switch outcome {
	case agent.OutcomeCompleted, agent.OutcomeCommand:
		return color.GreenString(outcome)
	case agent.OutcomeBlocked, agent.OutcomeError:
		return color.RedString(outcome)
	default:
		return color.YellowString(outcome)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
