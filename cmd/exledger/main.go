package main

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/exledger/internal/config"
	"github.com/sawpanic/exledger/internal/infrastructure/db"
	applog "github.com/sawpanic/exledger/internal/log"
	"github.com/sawpanic/exledger/internal/metrics"
	"github.com/sawpanic/exledger/internal/persistence"
	"github.com/sawpanic/exledger/internal/runguard"
)

const appName = "exledger"

var version = "dev"

// app carries what every subcommand needs after the config is loaded
type app struct {
	cfg       *config.AppConfig
	metrics   *metrics.Registry
	guard     *runguard.Guard
	logCloser io.Closer
}

var (
	configPath string
	logLevel   string
	current    *app
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Exchange ledger batch orchestration and reporting",
		Long:    "Runs the scrape and speculate collaborators against the live and simulation ledgers, prunes order book history and reports balances",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			closer, err := applog.Setup(cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			current = &app{
				cfg:       cfg,
				metrics:   metrics.NewRegistry(),
				guard:     runguard.New(cfg.RunGuard.Path),
				logCloser: closer,
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if current != nil {
				return current.logCloser.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/exledger.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug|info|warn|error)")

	rootCmd.AddCommand(
		newRunCmd(),
		newPruneCmd(),
		newRotateLogsCmd(),
		newUnlockCmd(),
		newLockStatusCmd(),
		newMigrateCmd(),
		newHistoryCmd(),
		newAssetsCmd(),
		newMonitorCmd(),
		newScheduleCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// openDatabases connects every enabled logical database
func (a *app) openDatabases() (*db.Integration, error) {
	return db.NewIntegration(a.cfg.Databases.ByTarget())
}

// dsns returns the connection strings handed to collaborators, enabled
// databases only
func (a *app) dsns() map[persistence.Target]string {
	out := make(map[persistence.Target]string, 2)
	for target, c := range a.cfg.Databases.ByTarget() {
		if c.Enabled && c.DSN != "" {
			out[target] = c.DSN
		}
	}
	return out
}
