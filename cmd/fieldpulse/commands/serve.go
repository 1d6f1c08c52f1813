package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/fieldpulse/config"
	"github.com/teranos/fieldpulse/db"
	"github.com/teranos/fieldpulse/errors"
	"github.com/teranos/fieldpulse/logger"
	"github.com/teranos/fieldpulse/server"
	"github.com/teranos/fieldpulse/track"
)

// Shared persistent flag values, bound by the root command.
var (
	Verbose    bool
	ConfigPath string
)

// ServeCmd starts the tracker and the dashboard feed server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracker and the dashboard feed server",
	Long: `Start the job tracker: reattach to any job that was mid-flight when the
process last stopped, poll the automation runner for status, and serve job
updates to dashboard clients over WebSocket.

On SIGINT/SIGTERM tracking is paused, not stopped, so the next start
resumes the job instead of abandoning it.`,
	RunE: runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Dashboard feed port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.Logger

	database, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	store := track.NewStore(database, log)
	source := track.NewHTTPSource(cfg.Source.BaseURL, cfg.Source.Timeout(), cfg.Source.QueriesPerMinute, log)
	registry := track.NewRegistry(source, nil, store, registryConfig(cfg), log)
	srv := server.New(registry, store, log)

	// Reattach to whatever was mid-flight when the last process stopped.
	// The snapshot names the job, so its broadcasts can be labelled before
	// the reconciler runs.
	var cbs track.Callbacks
	if snap, err := store.Load(); err == nil && snap.ActiveJobID != "" {
		cbs = srv.JobCallbacks(snap.ActiveJobID)
	}
	reconciler := track.NewReconciler(store, source, registry, log)
	reattachCtx, cancelReattach := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reconciler.Reattach(reattachCtx, cbs); err != nil {
		log.Warnw("Reattachment failed, continuing without", "error", err)
	}
	cancelReattach()

	// Hot-reload tracker timings on config file changes
	if path := configFilePath(); path != "" {
		watcher, err := config.NewConfigWatcher(path, log)
		if err != nil {
			log.Warnw("Config watcher unavailable", "error", err, "path", path)
		} else {
			watcher.OnReload(func(next *config.Config) error {
				registry.Reconfigure(registryConfig(next))
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}
	if port == 0 {
		port = config.DefaultServerPort
	}

	// Pause on shutdown so the next start resumes instead of restarting
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("Shutting down", "signal", sig.String())
		registry.PauseAll()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnw("Server shutdown error", "error", err)
		}
	}()

	return srv.Start(port)
}

// registryConfig maps the loaded configuration onto the tracker's runtime
// config.
func registryConfig(cfg *config.Config) track.RegistryConfig {
	t := cfg.Tracker
	return track.RegistryConfig{
		PollInterval: t.PollInterval(),
		Classifier: track.ClassifierConfig{
			EarlyCheckAfter:  seconds(t.EarlyCheckSeconds),
			LoopInterval:     seconds(t.LoopIntervalSeconds),
			StaleGrace:       seconds(t.StaleGraceSeconds),
			StaleLimit:       seconds(t.StaleLimitSeconds),
			HardCapAfter:     seconds(t.HardCapSeconds),
			CapStaleLimit:    seconds(t.CapStaleSeconds),
			ActivityKeywords: t.ActivityKeywords,
			ClosingKeywords:  t.ClosingKeywords,
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		cfg, err := config.LoadFromFile(ConfigPath)
		if err != nil {
			return nil, errors.Wrapf(err, "load config from %s", ConfigPath)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return cfg, nil
}

// configFilePath returns the config file to watch for hot reload, if any.
func configFilePath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.FoundConfigFile()
}
