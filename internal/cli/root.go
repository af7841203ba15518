// Package cli implements the agentcore command line.
package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/agentcore/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"    _                    _                      \n" +
		"   /_\\   __ _  ___ _ __ | |_ ___ ___  _ __ ___ \n" +
		"  //_\\\\ / _` |/ _ \\ '_ \\| __/ __/ _ \\| '__/ _ \\\n" +
		" /  _  \\ (_| |  __/ | | | || (_| (_) | | |  __/\n" +
		" \\_/ \\_/\\__, |\\___|_| |_|\\__\\___\\___/|_|  \\___|\n" +
		"        |___/                                   \n"
)

var (
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "agentcore - agent orchestration runtime",
	Long:  color.CyanString(logo) + "\nA turn loop with hooks, permission gates, subagents and scheduled commands.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)
		color.NoColor = noColor || !isTerminal(os.Stdout)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(eventsCmd)
}

// setupLogging installs the default slog handler. --verbose wins over
// AGENTCORE_LOG_LEVEL; the default level is warn so interactive output
// stays readable.
func setupLogging(debug bool) {
	level := slog.LevelWarn
	switch strings.ToLower(strings.TrimSpace(os.Getenv("AGENTCORE_LOG_LEVEL"))) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
