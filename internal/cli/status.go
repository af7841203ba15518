package cli

import (
	"fmt"
	"os"

	"github.com/KafClaw/agentcore/internal/config"
	"github.com/KafClaw/agentcore/internal/hooks"
	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		printHeader(out, "agentcore version")
		fmt.Fprintf(out, "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and schedule status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "agentcore status")
	fmt.Fprintf(out, "Version:  %s\n", version)

	if path, err := config.ConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Config:   ✓ %s\n", path)
		} else {
			fmt.Fprintf(out, "Config:   ✗ %s (defaults)\n", path)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Model:    %s\n", cfg.Model.Name)
	if cfg.Model.APIKey != "" {
		fmt.Fprintln(out, "API Key:  ✓ Found")
	} else {
		fmt.Fprintln(out, "API Key:  ✗ Not found")
	}

	if m, err := hooks.LoadConfig(cfg.Hooks.File); err != nil {
		fmt.Fprintf(out, "Hooks:    ✗ %v\n", err)
	} else {
		n := 0
		for _, ms := range m {
			n += len(ms)
		}
		fmt.Fprintf(out, "Hooks:    %d matchers on %d events\n", n, len(m))
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	items, err := store.ListSchedules(cmd.Context())
	if err != nil {
		return err
	}
	counts := map[timeline.ScheduleStatus]int{}
	for _, sc := range items {
		counts[sc.Status]++
	}
	fmt.Fprintf(out, "Schedules: %d total, %d active, %d paused\n",
		len(items), counts[timeline.StatusActive], counts[timeline.StatusPaused])
	return nil
}
