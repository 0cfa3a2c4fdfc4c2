package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/exledger/internal/pipeline"
)

const pushJob = "exledger_batch"

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one guarded batch",
		Long:  "Scrapes the live and simulation exchanges, then speculates against live. Refuses to start while another batch holds the marker.",
		Args:  cobra.NoArgs,
		RunE:  runBatch,
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	p, err := pipeline.New(current.cfg.Pipeline, current.dsns(), current.guard, current.metrics)
	if err != nil {
		return err
	}

	summary, runErr := p.Run()
	if err := current.metrics.Push(current.cfg.Metrics.PushgatewayURL, pushJob); err != nil {
		log.Warn().Err(err).Msg("Metrics push failed")
	}
	if runErr != nil {
		return runErr
	}

	for _, st := range summary.Stages {
		line := fmt.Sprintf("%-18s %-8s %s", st.Stage, st.Result, st.Duration.Round(time.Millisecond))
		if st.Reason != "" {
			line += "  " + st.Reason
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	if summary.Failed() {
		return fmt.Errorf("run %s: one or more stages failed", summary.RunID)
	}
	return nil
}
