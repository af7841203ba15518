package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KafClaw/agentcore/internal/config"
	"github.com/KafClaw/agentcore/internal/scheduler"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	scheduleAddCmd = &cobra.Command{
		Use:   "add <command>",
		Short: "Schedule a prompt or slash command",
		Long: "Schedule a prompt or slash command. Use --cron or --every for a recurring\n" +
			"schedule, --at or --in for a single run.",
		Args: cobra.MinimumNArgs(1),
		RunE: runScheduleAdd,
	}

	scheduleListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled commands",
		RunE:    runScheduleList,
	}

	scheduleRemoveCmd = &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Delete a scheduled command",
		Args:    cobra.ExactArgs(1),
		RunE:    runScheduleRemove,
	}

	schedulePauseCmd = &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a scheduled command",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedulePause,
	}

	scheduleResumeCmd = &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused scheduled command",
		Args:  cobra.ExactArgs(1),
		RunE:  runScheduleResume,
	}
)

func init() {
	scheduleAddCmd.Flags().String("name", "", "Display name")
	scheduleAddCmd.Flags().String("cron", "", "Five-field cron expression")
	scheduleAddCmd.Flags().Duration("every", 0, "Repeat interval, e.g. 15m")
	scheduleAddCmd.Flags().String("at", "", "Run once at this time (RFC 3339 or 2006-01-02 15:04)")
	scheduleAddCmd.Flags().Duration("in", 0, "Run once after this delay, e.g. 2h")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(schedulePauseCmd)
	scheduleCmd.AddCommand(scheduleResumeCmd)
}

func loadTimeline() (*timeline.TimelineService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

// buildSchedule turns the add flags into an unsaved schedule.
func buildSchedule(command, name, cronExpr string, every time.Duration, at string, in time.Duration, now time.Time) (*timeline.ScheduledCommand, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	set := 0
	for _, b := range []bool{cronExpr != "", every > 0, at != "", in > 0} {
		if b {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of --cron, --every, --at or --in is required")
	}

	sc := &timeline.ScheduledCommand{Name: strings.TrimSpace(name), Command: command}
	switch {
	case cronExpr != "":
		sc.Kind = timeline.ScheduleRecurring
		sc.CronExpr = strings.TrimSpace(cronExpr)
	case every > 0:
		if every < time.Second {
			return nil, fmt.Errorf("--every must be at least 1s")
		}
		sc.Kind = timeline.ScheduleRecurring
		sc.IntervalSeconds = int(every / time.Second)
	case in > 0:
		sc.Kind = timeline.ScheduleOnce
		t := now.Add(in)
		sc.NextRunAt = &t
	default:
		t, err := parseRunAt(at)
		if err != nil {
			return nil, err
		}
		sc.Kind = timeline.ScheduleOnce
		sc.NextRunAt = &t
	}
	if err := scheduler.Prepare(sc, now); err != nil {
		return nil, err
	}
	return sc, nil
}

func parseRunAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --at %q: use RFC 3339 or 2006-01-02 15:04", s)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	cronExpr, _ := cmd.Flags().GetString("cron")
	every, _ := cmd.Flags().GetDuration("every")
	at, _ := cmd.Flags().GetString("at")
	in, _ := cmd.Flags().GetDuration("in")

	sc, err := buildSchedule(strings.Join(args, " "), name, cronExpr, every, at, in, time.Now())
	if err != nil {
		return err
	}
	store, err := loadTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateSchedule(cmd.Context(), sc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s (%s), next run %s\n", sc.ID, describeCadence(*sc), formatTime(sc.NextRunAt))
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	store, err := loadTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.ListSchedules(cmd.Context())
	if err != nil {
		return err
	}
	writeScheduleTable(cmd.OutOrStdout(), items)
	return nil
}

func writeScheduleTable(w io.Writer, items []timeline.ScheduledCommand) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No scheduled commands.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Command", "Cadence", "Status", "Next Run", "Last Run", "Runs"})
	for _, sc := range items {
		t.AppendRow(table.Row{
			sc.ID,
			sc.Name,
			shorten(sc.Command, 40),
			describeCadence(sc),
			scheduleStatusColor(sc.Status),
			formatTime(sc.NextRunAt),
			formatTime(sc.LastRunAt),
			sc.RunCount,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignLeft},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
}

func describeCadence(sc timeline.ScheduledCommand) string {
	switch {
	case sc.CronExpr != "":
		return "cron " + sc.CronExpr
	case sc.IntervalSeconds > 0:
		return "every " + (time.Duration(sc.IntervalSeconds) * time.Second).String()
	default:
		return "once"
	}
}

// resolveScheduleID accepts a full ID, a unique ID prefix or a unique name.
func resolveScheduleID(ctx context.Context, store *timeline.TimelineService, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	items, err := store.ListSchedules(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, sc := range items {
		if sc.ID == ref {
			return sc.ID, nil
		}
		if strings.HasPrefix(sc.ID, ref) || (sc.Name != "" && sc.Name == ref) {
			matches = append(matches, sc.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", timeline.ErrScheduleNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d schedules", ref, len(matches))
	}
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	store, err := loadTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := resolveScheduleID(cmd.Context(), store, args[0])
	if err != nil {
		return err
	}
	if err := store.DeleteSchedule(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	return nil
}

func runSchedulePause(cmd *cobra.Command, args []string) error {
	return updateScheduleStatus(cmd, args[0], func(sc *timeline.ScheduledCommand, now time.Time) error {
		if sc.Status != timeline.StatusActive {
			return fmt.Errorf("schedule is %s, only active schedules can be paused", sc.Status)
		}
		sc.Status = timeline.StatusPaused
		return nil
	})
}

func runScheduleResume(cmd *cobra.Command, args []string) error {
	return updateScheduleStatus(cmd, args[0], resumeSchedule)
}

// resumeSchedule reactivates a paused or failed schedule. Recurring
// schedules restart from the next slot after now; a once schedule whose
// time has passed runs on the next tick.
func resumeSchedule(sc *timeline.ScheduledCommand, now time.Time) error {
	switch sc.Status {
	case timeline.StatusPaused, timeline.StatusError:
	default:
		return fmt.Errorf("schedule is %s, nothing to resume", sc.Status)
	}
	if sc.Kind == timeline.ScheduleRecurring {
		next, err := scheduler.ComputeNextRun(*sc, now)
		if err != nil {
			return err
		}
		sc.NextRunAt = &next
	} else if sc.NextRunAt == nil {
		if sc.RunCount > 0 {
			return errors.New("a once schedule that already ran cannot be resumed")
		}
		sc.NextRunAt = &now
	}
	sc.Status = timeline.StatusActive
	return nil
}

func updateScheduleStatus(cmd *cobra.Command, ref string, mutate func(*timeline.ScheduledCommand, time.Time) error) error {
	store, err := loadTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := resolveScheduleID(cmd.Context(), store, ref)
	if err != nil {
		return err
	}
	now := time.Now()
	sc, err := store.UpdateSchedule(cmd.Context(), id, func(sc *timeline.ScheduledCommand) error {
		return mutate(sc, now)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s, next run %s\n", sc.ID, sc.Status, formatTime(sc.NextRunAt))
	return nil
}
