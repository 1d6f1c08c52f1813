package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/fieldpulse/db"
	"github.com/teranos/fieldpulse/errors"
	"github.com/teranos/fieldpulse/logger"
	"github.com/teranos/fieldpulse/track"
)

// JobsCmd shows the persisted job summaries.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show persisted job summaries",
	Long: `Show the job summaries from the last persisted tracker snapshot. This
reads the database directly, so it works whether or not the tracker is
running.`,
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer database.Close()

	if err := db.Migrate(database, nil); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	store := track.NewStore(database, logger.Logger)
	snap, err := store.Load()
	if err != nil {
		return errors.Wrap(err, "load tracker snapshot")
	}

	if len(snap.Summaries) == 0 {
		pterm.Info.Println("No jobs recorded")
		return nil
	}

	rows := pterm.TableData{
		{"JOB ID", "PHASE", "LAST MESSAGE", "STARTED", "LAST STATUS"},
	}
	for _, sum := range snap.Summaries {
		phase := string(sum.Phase)
		if sum.ForcedComplete {
			phase += " (forced)"
		}
		rows = append(rows, []string{
			sum.ID,
			phase,
			sum.LastMessage,
			sum.StartedAt.Format("2006-01-02 15:04:05"),
			sum.LastStatusAt.Format("2006-01-02 15:04:05"),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return errors.Wrap(err, "render job table")
	}

	if snap.ActiveJobID != "" {
		fmt.Printf("\nActive job: %s (polling %s)\n",
			snap.ActiveJobID, enabledWord(snap.PollingEnabled))
	}
	return nil
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
