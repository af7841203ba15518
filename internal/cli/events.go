package cli

import (
	"fmt"
	"io"

	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recorded run lifecycle events",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().String("session", "", "Only show this session")
	eventsCmd.Flags().Int("limit", 50, "Maximum events")
}

func runEvents(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := loadTimeline()
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListEvents(cmd.Context(), sessionID, limit)
	if err != nil {
		return err
	}
	writeEventsTable(cmd.OutOrStdout(), events)
	return nil
}

func writeEventsTable(w io.Writer, events []timeline.AgentEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Session", "Run", "Type", "Detail"})
	for _, e := range events {
		at := e.CreatedAt
		t.AppendRow(table.Row{formatTime(&at), e.SessionID, shorten(e.RunID, 8), e.EventType, shorten(e.Detail, 60)})
	}
	t.Render()
}
