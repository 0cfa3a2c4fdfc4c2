package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/exledger/internal/infrastructure/db"
	httpserver "github.com/sawpanic/exledger/internal/interfaces/http"
	"github.com/sawpanic/exledger/internal/pipeline"
	"github.com/sawpanic/exledger/internal/retention"
	"github.com/sawpanic/exledger/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve health, run marker, metrics and reports over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("listen")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			databases, err := current.openDatabases()
			if err != nil {
				return err
			}
			defer databases.Close()

			g, gctx := errgroup.WithContext(ctx)
			release := current.serveMonitor(gctx, g, databases, addr)
			defer release()
			return g.Wait()
		},
	}
	cmd.Flags().String("listen", "", "Listen address, defaults to metrics.listen")
	return cmd
}

// serveMonitor starts the HTTP server in g and shuts it down once ctx ends
func (a *app) serveMonitor(ctx context.Context, g *errgroup.Group, databases *db.Integration, addr string) func() {
	if addr == "" {
		addr = a.cfg.Metrics.Listen
	}
	svc, release := a.newHistoryService(databases)
	srv := httpserver.NewServer(httpserver.DefaultServerConfig(addr), httpserver.Deps{
		Databases: databases,
		Guard:     a.guard,
		Metrics:   a.metrics,
		History:   svc,
	})

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return release
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the batch and retention jobs on their cron schedules",
		Long:  "Daemon mode. SIGINT or SIGTERM stops new ticks and waits for a running batch to finish.",
		Args:  cobra.NoArgs,
		RunE:  runSchedule,
	}
	cmd.Flags().Bool("monitor", true, "Also serve the monitor endpoints")
	cmd.Flags().String("listen", "", "Monitor listen address, defaults to metrics.listen")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg := current.cfg
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databases, err := current.openDatabases()
	if err != nil {
		return err
	}
	defer databases.Close()

	p, err := pipeline.New(cfg.Pipeline, current.dsns(), current.guard, current.metrics)
	if err != nil {
		return err
	}
	manager := retention.NewManager(databases.Repositories(), cfg.Retention.OrderBookWindow, current.metrics)
	rotator := retention.NewLogRotator(cfg.Retention.LogFiles, cfg.Retention.ArchiveDir, current.metrics)

	push := func() {
		if err := current.metrics.Push(cfg.Metrics.PushgatewayURL, pushJob); err != nil {
			log.Warn().Err(err).Msg("Metrics push failed")
		}
	}
	sched, err := scheduler.NewScheduler(
		scheduler.PipelineJob(cfg.Schedule.Pipeline, p, push),
		scheduler.RetentionJob(cfg.Schedule.Retention, manager, rotator, time.Now, push),
	)
	if err != nil {
		return err
	}
	for _, job := range sched.ListJobs() {
		log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Msg("Job registered")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(gctx) })
	if withMonitor, _ := cmd.Flags().GetBool("monitor"); withMonitor {
		addr, _ := cmd.Flags().GetString("listen")
		release := current.serveMonitor(gctx, g, databases, addr)
		defer release()
	}
	return g.Wait()
}
