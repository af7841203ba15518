// Package scheduler runs stored commands unattended. Coordinators in any
// number of processes share one store and claim each due schedule through a
// renewable lease before running it.
package scheduler

import (
	"fmt"
	"time"

	"github.com/KafClaw/agentcore/internal/timeline"
)

// maxResultLen bounds the stored last result.
const maxResultLen = 4000

// ComputeNextRun returns the next run of a recurring schedule strictly after
// the given time.
func ComputeNextRun(sc timeline.ScheduledCommand, after time.Time) (time.Time, error) {
	if sc.Kind != timeline.ScheduleRecurring {
		return time.Time{}, fmt.Errorf("schedule %s is not recurring", sc.ID)
	}
	switch {
	case sc.CronExpr != "":
		expr, err := ParseCron(sc.CronExpr)
		if err != nil {
			return time.Time{}, err
		}
		next := expr.Next(after)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron %q never fires", sc.CronExpr)
		}
		return next, nil
	case sc.IntervalSeconds > 0:
		return after.Add(time.Duration(sc.IntervalSeconds) * time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("recurring schedule %s has neither cron nor interval", sc.ID)
	}
}

// Prepare validates a new schedule and fills in its first run time. Once
// schedules must carry NextRunAt; recurring ones get the first slot after now
// unless one is already set.
func Prepare(sc *timeline.ScheduledCommand, now time.Time) error {
	if sc.Command == "" {
		return fmt.Errorf("command is required")
	}
	switch sc.Kind {
	case timeline.ScheduleOnce, "":
		sc.Kind = timeline.ScheduleOnce
		if sc.NextRunAt == nil {
			return fmt.Errorf("a once schedule needs a run time")
		}
		if sc.CronExpr != "" || sc.IntervalSeconds != 0 {
			return fmt.Errorf("a once schedule cannot carry a cron expression or interval")
		}
	case timeline.ScheduleRecurring:
		if sc.CronExpr != "" && sc.IntervalSeconds != 0 {
			return fmt.Errorf("use either a cron expression or an interval, not both")
		}
		if sc.IntervalSeconds < 0 {
			return fmt.Errorf("interval must be positive")
		}
		if sc.NextRunAt == nil {
			next, err := ComputeNextRun(*sc, now)
			if err != nil {
				return err
			}
			sc.NextRunAt = &next
		} else if _, err := ComputeNextRun(*sc, now); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", sc.Kind)
	}
	return nil
}

// Advance records one run on sc and moves it to its next state. Once
// schedules become completed or error with no next run. Recurring schedules
// get the next slot after finishedAt and stay active unless paused.
func Advance(sc *timeline.ScheduledCommand, startedAt, finishedAt time.Time, output string, runErr error) {
	sc.LastRunAt = &startedAt
	sc.RunCount++
	if runErr != nil {
		sc.LastResult = truncate("error: " + runErr.Error())
	} else {
		sc.LastResult = truncate(output)
	}

	if sc.Kind != timeline.ScheduleRecurring {
		sc.NextRunAt = nil
		if runErr != nil {
			sc.Status = timeline.StatusError
		} else {
			sc.Status = timeline.StatusCompleted
		}
		return
	}

	after := finishedAt
	if after.Before(startedAt) {
		after = startedAt
	}
	next, err := ComputeNextRun(*sc, after)
	if err != nil {
		sc.NextRunAt = nil
		sc.Status = timeline.StatusError
		sc.LastResult = truncate("error: " + err.Error())
		return
	}
	sc.NextRunAt = &next
	if sc.Status != timeline.StatusPaused {
		sc.Status = timeline.StatusActive
	}
}

func truncate(s string) string {
	if len(s) <= maxResultLen {
		return s
	}
	return s[:maxResultLen] + "..."
}
