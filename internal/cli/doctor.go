package cli

import (
	"fmt"
	"io"

	"github.com/KafClaw/agentcore/internal/doctor"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage, hooks and event export",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Write a default config and create missing directories")
	doctorCmd.Flags().Bool("network", true, "Probe the kafka brokers when event export is configured")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fix, _ := cmd.Flags().GetBool("fix")
	network, _ := cmd.Flags().GetBool("network")

	report := doctor.Run(cmd.Context(), doctor.Options{Fix: fix, Network: network})
	writeDoctorTable(cmd.OutOrStdout(), report)
	if report.HasFailures() {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}

func writeDoctorTable(w io.Writer, report doctor.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Check", "Status", "Detail"})
	for _, c := range report.Checks {
		t.AppendRow(table.Row{c.Name, doctorStatusColor(c.Status), c.Message})
	}
	t.Render()
}

func doctorStatusColor(s doctor.Status) string {
	switch s {
	case doctor.Pass:
		return color.GreenString(string(s))
	case doctor.Warn:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}
