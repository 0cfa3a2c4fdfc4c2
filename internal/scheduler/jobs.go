package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/exledger/internal/pipeline"
	"github.com/sawpanic/exledger/internal/retention"
	"github.com/sawpanic/exledger/internal/runguard"
)

// Job names
const (
	JobPipeline  = "pipeline"
	JobRetention = "retention"
)

// BatchRunner runs one guarded pipeline batch
type BatchRunner interface {
	Run() (*pipeline.Summary, error)
}

// PipelineJob triggers a batch. A run refused by the marker is logged and
// the tick counts as done; failed stages fail the job.
func PipelineJob(schedule string, p BatchRunner, after func()) Job {
	return Job{
		Name:        JobPipeline,
		Schedule:    schedule,
		Description: "scrape live, scrape simulation, speculate live",
		Run: func(ctx context.Context) error {
			if after != nil {
				defer after()
			}
			summary, err := p.Run()
			if errors.Is(err, runguard.ErrAlreadyRunning) {
				log.Warn().Err(err).Msg("Skipping pipeline tick")
				return nil
			}
			if err != nil {
				return err
			}
			if summary.Failed() {
				return fmt.Errorf("run %s: one or more stages failed", summary.RunID)
			}
			return nil
		},
	}
}

// RetentionJob prunes the order book, reports database sizes and rotates
// the logs. Every step runs even when an earlier one fails.
func RetentionJob(schedule string, m *retention.Manager, r *retention.LogRotator, now func() time.Time, after func()) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:        JobRetention,
		Schedule:    schedule,
		Description: "prune order book, report sizes, rotate logs",
		Run: func(ctx context.Context) error {
			if after != nil {
				defer after()
			}
			var errs []error
			if _, err := m.Prune(ctx, now()); err != nil {
				errs = append(errs, err)
			}
			if _, err := m.ReportSizes(ctx); err != nil {
				errs = append(errs, err)
			}
			if r != nil {
				if _, err := r.Rotate(now()); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}
