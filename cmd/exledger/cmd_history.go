package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/exledger/internal/history"
	"github.com/sawpanic/exledger/internal/infrastructure/db"
	atomicio "github.com/sawpanic/exledger/internal/io"
	"github.com/sawpanic/exledger/internal/persistence"
)

const dateLayout = "2006-01-02"

// newHistoryService builds the reporting service over the open databases,
// with the Redis cache when enabled. The returned func releases the cache.
func (a *app) newHistoryService(databases *db.Integration) (*history.Service, func()) {
	var cache history.Cache
	release := func() {}
	if a.cfg.Cache.Redis.Enabled {
		rc := history.NewRedisCache(a.cfg.Cache.Redis.Addr, a.cfg.Cache.Redis.DB)
		cache = rc
		release = func() { _ = rc.Close() }
	}
	svc := history.NewService(
		databases.Repository(persistence.TargetLive),
		databases.Repository(persistence.TargetSimulation),
		cache,
		a.cfg.Cache.Redis.TTL,
		a.metrics,
	)
	return svc, release
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Report balance snapshots over time",
		Long:  "Selects balance snapshots between --since and --until, thinned to one per --step, optionally valued in --fiat",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	addHistoryFlags(cmd.Flags())
	return cmd
}

func addHistoryFlags(fs *pflag.FlagSet) {
	fs.String("since", "", "Start instant (RFC3339), inclusive")
	fs.String("until", "", "End instant (RFC3339), inclusive")
	fs.String("step", "1_day", "Minimum spacing between snapshots (N_day|N_hour|N_minute)")
	fs.String("fiat", "", "Value every balance in this currency")
	fs.StringSlice("symbols", nil, "Only report these currencies")
	fs.Bool("sim", false, "Read balances from the simulation database")
	fs.String("out", "", "Write the report to this file instead of stdout")
}

func historyQuery(fs *pflag.FlagSet) (history.Query, error) {
	var q history.Query
	for _, bound := range []struct {
		flag string
		dst  **time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		raw, _ := fs.GetString(bound.flag)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("--%s: %w", bound.flag, err)
		}
		*bound.dst = &t
	}
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return q, fmt.Errorf("--until is before --since")
	}

	rawStep, _ := fs.GetString("step")
	step, err := history.ParseStep(rawStep)
	if err != nil {
		return q, fmt.Errorf("--step: %w", err)
	}
	q.Step = step
	q.Fiat, _ = fs.GetString("fiat")
	q.Symbols, _ = fs.GetStringSlice("symbols")
	q.Simulation, _ = fs.GetBool("sim")
	return q, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	q, err := historyQuery(cmd.Flags())
	if err != nil {
		return err
	}

	databases, err := current.openDatabases()
	if err != nil {
		return err
	}
	defer databases.Close()

	svc, release := current.newHistoryService(databases)
	defer release()

	snapshots, err := svc.Balances(cmd.Context(), q)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	return emit(cmd, out, snapshots)
}

func newAssetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Value the asset ledger of one day",
		Args:  cobra.NoArgs,
		RunE:  runAssets,
	}
	cmd.Flags().String("date", "", "Day to report (YYYY-MM-DD), defaults to today")
	cmd.Flags().String("fiat", "", "Valuation currency")
	cmd.Flags().String("out", "", "Write the report to this file instead of stdout")
	_ = cmd.MarkFlagRequired("fiat")
	return cmd
}

func runAssets(cmd *cobra.Command, args []string) error {
	date := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return fmt.Errorf("--date: %w", err)
		}
		date = d
	}
	fiat, _ := cmd.Flags().GetString("fiat")

	databases, err := current.openDatabases()
	if err != nil {
		return err
	}
	defer databases.Close()

	svc, release := current.newHistoryService(databases)
	defer release()

	report, err := svc.AssetSnapshot(cmd.Context(), date, strings.ToUpper(fiat))
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	return emit(cmd, out, report)
}

// emit writes v as indented JSON to path, atomically, or to stdout
func emit(cmd *cobra.Command, path string, v interface{}) error {
	if path != "" {
		return atomicio.WriteJSONAtomic(path, v)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
