package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/exledger/internal/metrics"
	"github.com/sawpanic/exledger/internal/persistence"
	"github.com/sawpanic/exledger/internal/persistence/memory"
	"github.com/sawpanic/exledger/internal/pipeline"
	"github.com/sawpanic/exledger/internal/retention"
	"github.com/sawpanic/exledger/internal/runguard"
)

func TestNewScheduler_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := NewScheduler(Job{Name: "a", Schedule: "every minute", Run: noop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job a")

	_, err = NewScheduler(Job{Name: "a", Schedule: "* * * * *"})
	assert.Error(t, err)

	_, err = NewScheduler(
		Job{Name: "a", Schedule: "* * * * *", Run: noop},
		Job{Name: "a", Schedule: "@hourly", Run: noop},
	)
	assert.Error(t, err)
}

func TestRunJob(t *testing.T) {
	s, err := NewScheduler(
		Job{Name: "ok", Schedule: "@hourly", Run: func(context.Context) error { return nil }},
		Job{Name: "bad", Schedule: "@hourly", Run: func(context.Context) error { return errors.New("boom") }},
	)
	require.NoError(t, err)

	res, err := s.RunJob(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = s.RunJob(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)

	_, err = s.RunJob(context.Background(), "missing")
	assert.Error(t, err)

	st := s.GetStatus()
	require.Len(t, st.Jobs, 2)
	assert.Equal(t, "bad", st.Jobs[0].Name)
	require.NotNil(t, st.Jobs[0].LastRun)
	assert.False(t, st.Jobs[0].LastRun.Success)
}

func TestStart_WaitsForInFlightJob(t *testing.T) {
	started := make(chan struct{})
	var finished, sawCancel atomic.Bool

	s, err := NewScheduler(Job{
		Name:     "slow",
		Schedule: "@every 1s",
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			sawCancel.Store(ctx.Err() != nil)
			finished.Store(true)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	assert.True(t, s.GetStatus().Running)
	cancel()

	require.NoError(t, <-done)
	assert.True(t, finished.Load(), "Start returned before the job completed")
	assert.False(t, sawCancel.Load(), "a running job must not be cancelled")
	assert.False(t, s.GetStatus().Running)
}

type fakeBatch struct {
	summary *pipeline.Summary
	err     error
	runs    int
}

func (f *fakeBatch) Run() (*pipeline.Summary, error) {
	f.runs++
	return f.summary, f.err
}

func TestPipelineJob(t *testing.T) {
	var pushed int
	after := func() { pushed++ }

	busy := &fakeBatch{err: runguard.ErrAlreadyRunning}
	assert.NoError(t, PipelineJob("@every 5m", busy, after).Run(context.Background()), "a held marker is not a job failure")

	failed := &fakeBatch{summary: &pipeline.Summary{RunID: "r1", Stages: []pipeline.StageResult{{Stage: "scrape-live", Result: metrics.ResultError}}}}
	err := PipelineJob("@every 5m", failed, after).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r1")

	ok := &fakeBatch{summary: &pipeline.Summary{RunID: "r2"}}
	assert.NoError(t, PipelineJob("@every 5m", ok, after).Run(context.Background()))

	assert.Equal(t, 3, pushed)
}

func TestRetentionJob(t *testing.T) {
	live := memory.New()
	sim := memory.New()
	sim.SetUnavailable(true)
	m := retention.NewManager([]*persistence.Repository{
		live.Repository(persistence.TargetLive),
		sim.Repository(persistence.TargetSimulation),
	}, time.Hour, nil)
	rotator := retention.NewLogRotator(nil, filepath.Join(t.TempDir(), "archive"), nil)

	err := RetentionJob("0 3 * * 0", m, rotator, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulation")

	sim.SetUnavailable(false)
	assert.NoError(t, RetentionJob("0 3 * * 0", m, rotator, nil, nil).Run(context.Background()))
}
