// Package scheduler is the in-process alternative to an external cron: it
// triggers the batch pipeline and the retention job on configured specs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JobFunc is the body of a scheduled job
type JobFunc func(ctx context.Context) error

// Job represents a scheduled job configuration
type Job struct {
	Name        string
	Schedule    string // standard 5-field cron spec or a descriptor such as "@every 5m"
	Description string
	Run         JobFunc
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// JobStatus is the schedule position of one job
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  time.Time  `json:"next_run"`
	LastRun  *JobResult `json:"last_run,omitempty"`
}

// Status represents scheduler status
type Status struct {
	Running bool          `json:"running"`
	Uptime  time.Duration `json:"uptime"`
	Jobs    []JobStatus   `json:"jobs"`
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	entries map[string]cron.EntryID
	baseCtx context.Context

	mu        sync.Mutex
	last      map[string]*JobResult
	startTime time.Time
	running   bool
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewScheduler registers jobs. An overlapping tick of the same job is
// skipped rather than queued.
func NewScheduler(jobs ...Job) (*Scheduler, error) {
	logger := cronLogger{logger: log.Logger.With().Str("component", "scheduler").Logger()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs:    make(map[string]Job, len(jobs)),
		entries: make(map[string]cron.EntryID, len(jobs)),
		last:    make(map[string]*JobResult, len(jobs)),
		baseCtx: context.Background(),
	}

	for _, job := range jobs {
		if job.Run == nil {
			return nil, fmt.Errorf("job %s: no function", job.Name)
		}
		if _, dup := s.jobs[job.Name]; dup {
			return nil, fmt.Errorf("job %s: registered twice", job.Name)
		}
		job := job
		id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(s.baseCtx, job) })
		if err != nil {
			return nil, fmt.Errorf("job %s: schedule %q: %w", job.Name, job.Schedule, err)
		}
		s.jobs[job.Name] = job
		s.entries[job.Name] = id
	}
	return s, nil
}

// ListJobs returns all configured jobs sorted by name
func (s *Scheduler) ListJobs() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	for _, job := range s.ListJobs() {
		js := JobStatus{Name: job.Name, Schedule: job.Schedule}
		if entry := s.cron.Entry(s.entries[job.Name]); entry.Valid() {
			js.NextRun = entry.Next
		}
		if last := s.last[job.Name]; last != nil {
			copied := *last
			js.LastRun = &copied
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// Start runs the schedule until ctx is cancelled, then waits for the jobs in
// flight. Jobs never see the cancellation; a started batch completes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler starting")
	s.cron.Start()

	<-ctx.Done()
	log.Info().Msg("Scheduler stopping, waiting for running jobs")
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Info().Msg("Scheduler stopped")
	return nil
}

// RunJob executes a specific job immediately
func (s *Scheduler) RunJob(ctx context.Context, jobName string) (*JobResult, error) {
	job, ok := s.jobs[jobName]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobName)
	}
	return s.execute(ctx, job), nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) *JobResult {
	result := &JobResult{JobName: job.Name, StartTime: time.Now(), Success: true}
	log.Info().Str("job", job.Name).Msg("Executing job")

	if err := job.Run(ctx); err != nil {
		result.Success = false
		result.Error = err.Error()
		log.Error().Err(err).Str("job", job.Name).Msg("Job failed")
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	s.mu.Lock()
	s.last[job.Name] = result
	s.mu.Unlock()
	return result
}
