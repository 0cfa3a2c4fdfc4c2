package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/exledger/internal/retention"
)

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete order book history older than the retention window",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}
	cmd.Flags().Duration("window", 0, "Override retention.orderbook_window")
	return cmd
}

func runPrune(cmd *cobra.Command, args []string) error {
	window, _ := cmd.Flags().GetDuration("window")
	if window <= 0 {
		window = current.cfg.Retention.OrderBookWindow
	}

	databases, err := current.openDatabases()
	if err != nil {
		return err
	}
	defer databases.Close()

	manager := retention.NewManager(databases.Repositories(), window, current.metrics)
	results, pruneErr := manager.Prune(cmd.Context(), time.Now())
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s deleted %d rows before %s\n", r.Target, r.Deleted, r.Cutoff.Format(time.RFC3339))
	}

	sizes, sizeErr := manager.ReportSizes(cmd.Context())
	for _, s := range sizes {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d bytes\n", s.Target, s.Bytes)
	}
	if err := current.metrics.Push(current.cfg.Metrics.PushgatewayURL, pushJob); err != nil {
		log.Warn().Err(err).Msg("Metrics push failed")
	}
	if pruneErr != nil {
		return pruneErr
	}
	return sizeErr
}

func newRotateLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-logs",
		Short: "Bundle the batch logs into a dated archive and truncate them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := retention.NewLogRotator(current.cfg.Retention.LogFiles, current.cfg.Retention.ArchiveDir, current.metrics)
			bundle, err := r.Rotate(time.Now())
			if err != nil {
				return err
			}
			if bundle == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to rotate")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), bundle)
			return nil
		},
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a run marker left behind by a crashed batch",
		Long:  "Only use this when no batch is running; clearing an active marker lets the next batch overlap it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := current.guard.Clear()
			if err != nil {
				return err
			}
			if removed {
				log.Warn().Str("marker", current.guard.Path()).Msg("Run marker cleared")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no marker present")
			}
			return nil
		},
	}
}

func newLockStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock-status",
		Short: "Show whether a batch currently holds the run marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := current.guard.Status()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema to every enabled database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			databases, err := current.openDatabases()
			if err != nil {
				return err
			}
			defer databases.Close()
			return databases.RunMigrations(cmd.Context())
		},
	}
}
