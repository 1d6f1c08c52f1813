package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/fieldpulse/cmd/fieldpulse/commands"
	"github.com/teranos/fieldpulse/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "fieldpulse",
	Short: "fieldpulse - field technician automation job tracker",
	Long: `fieldpulse tracks long-running portal automation jobs for the field
technician dashboard: it polls the automation runner's status endpoint,
detects stalled sessions heuristically, and survives dashboard restarts by
persisting tracking state.

Available commands:
  serve - Start the tracker and the dashboard feed server
  jobs  - Show persisted job summaries`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if commands.Verbose {
			logger.SetVerbose()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&commands.Verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to fieldpulse.toml (default: walk up from cwd)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
