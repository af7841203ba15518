package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/agentcore/internal/config"
	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	hooksCmd = &cobra.Command{
		Use:   "hooks",
		Short: "Inspect lifecycle hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	hooksValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a hook configuration file and list its handlers",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHooksValidate,
	}

	hooksAuditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Show recent hook executions",
		RunE:  runHooksAudit,
	}
)

func init() {
	hooksAuditCmd.Flags().String("session", "", "Only show this session")
	hooksAuditCmd.Flags().Int("limit", 50, "Maximum entries")

	hooksCmd.AddCommand(hooksValidateCmd)
	hooksCmd.AddCommand(hooksAuditCmd)
}

func runHooksValidate(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.Hooks.File
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("hook config %s: %w", path, err)
	}
	m, err := hooks.LoadConfig(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", path)
	writeHooksTable(out, m)
	return nil
}

func writeHooksTable(w io.Writer, m map[hooks.Event][]hooks.Matcher) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Event", "Matcher", "Type", "Handler", "Timeout", "Async", "Enabled"})
	rows := 0
	for _, ev := range hooks.Events {
		for _, mt := range m[ev] {
			matcher := mt.Matcher
			if matcher == "" {
				matcher = "*"
			}
			for _, h := range mt.Hooks {
				target := h.Command
				if h.Kind != hooks.KindCommand {
					target = h.Prompt
				}
				timeout := "default"
				if h.Timeout > 0 {
					timeout = fmt.Sprintf("%ds", h.Timeout)
				}
				t.AppendRow(table.Row{ev, matcher, h.Kind.String(), shorten(target, 48), timeout, h.Async, h.Enabled == nil || *h.Enabled})
				rows++
			}
		}
	}
	if rows == 0 {
		fmt.Fprintln(w, "No hooks configured.")
		return
	}
	t.Render()
}

func runHooksAudit(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := loadTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListHookAudit(cmd.Context(), sessionID, limit)
	if err != nil {
		return err
	}
	writeAuditTable(cmd.OutOrStdout(), entries)
	return nil
}

func writeAuditTable(w io.Writer, entries []timeline.HookAuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No hook executions recorded.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Session", "Event", "Handler", "Outcome", "Detail"})
	for _, e := range entries {
		at := e.CreatedAt
		t.AppendRow(table.Row{formatTime(&at), e.SessionID, e.Event, shorten(e.Handler, 32), e.Outcome, shorten(e.Detail, 60)})
	}
	t.Render()
}
