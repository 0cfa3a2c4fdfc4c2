// Package pipeline runs one guarded batch: scrape the live database, scrape
// the simulation database, then speculate against live.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/exledger/internal/config"
	applog "github.com/sawpanic/exledger/internal/log"
	"github.com/sawpanic/exledger/internal/metrics"
	"github.com/sawpanic/exledger/internal/persistence"
	"github.com/sawpanic/exledger/internal/runguard"
)

// Environment handed to every collaborator next to the DSN variable
const (
	EnvTarget = "EXLEDGER_TARGET"
	EnvRunID  = "EXLEDGER_RUN_ID"
)

// stage is one step of the batch
type stage struct {
	name     string
	target   persistence.Target
	command  config.CommandConfig
	requires string // stage that must have succeeded first
}

// StageResult is the outcome of one stage
type StageResult struct {
	Stage    string             `json:"stage"`
	Target   persistence.Target `json:"target"`
	Result   string             `json:"result"`
	Reason   string             `json:"reason,omitempty"`
	Duration time.Duration      `json:"duration"`
	Err      error              `json:"-"`
}

// Summary describes a finished run
type Summary struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Stages   []StageResult `json:"stages"`
}

// Failed reports whether any stage failed or was skipped for a failed
// dependency
func (s *Summary) Failed() bool {
	for _, st := range s.Stages {
		if st.Result == metrics.ResultError || (st.Result == metrics.ResultSkipped && st.Err != nil) {
			return true
		}
	}
	return false
}

// Pipeline wires the collaborators to the logical databases
type Pipeline struct {
	cfg     config.PipelineSection
	dsns    map[persistence.Target]string
	guard   *runguard.Guard
	runner  Runner
	metrics *metrics.Registry
	now     func() time.Time
	newID   func() string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRunner replaces the exec runner
func WithRunner(r Runner) Option {
	return func(p *Pipeline) { p.runner = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline. dsns holds the connection string of every enabled
// logical database; a target without one has its stages skipped.
func New(cfg config.PipelineSection, dsns map[persistence.Target]string, guard *runguard.Guard, m *metrics.Registry, opts ...Option) (*Pipeline, error) {
	if cfg.Scraper.Command == "" {
		return nil, fmt.Errorf("pipeline.scraper.command: required")
	}
	if cfg.Speculator.Command == "" {
		return nil, fmt.Errorf("pipeline.speculator.command: required")
	}
	if m == nil {
		m = metrics.NewRegistry()
	}

	p := &Pipeline{
		cfg:     cfg,
		dsns:    dsns,
		guard:   guard,
		runner:  ExecRunner{},
		metrics: m,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{name: config.StageScrapeLive, target: persistence.TargetLive, command: p.cfg.Scraper},
		{name: config.StageScrapeSimulation, target: persistence.TargetSimulation, command: p.cfg.Scraper},
		{name: config.StageSpeculateLive, target: persistence.TargetLive, command: p.cfg.Speculator, requires: config.StageScrapeLive},
	}
}

// Run executes the batch under the run guard. It returns ErrAlreadyRunning
// without starting anything when another run holds the marker. Stage
// failures are reported in the summary, not as an error.
func (p *Pipeline) Run() (*Summary, error) {
	summary := &Summary{RunID: p.newID()}

	audit, closeAudit, err := p.openAudit(summary.RunID)
	if err != nil {
		return nil, err
	}
	defer closeAudit()

	err = p.guard.Run(func() error {
		p.metrics.GuardHeld.Set(1)
		defer p.metrics.GuardHeld.Set(0)

		summary.Started = p.now().UTC()
		audit.Info().Time("started", summary.Started).Str("marker", p.guard.Path()).Msg("run started")

		p.runStages(summary)

		summary.Finished = p.now().UTC()
		outcome := metrics.ResultSuccess
		if summary.Failed() {
			outcome = metrics.ResultError
		}
		p.metrics.RecordPipeline(outcome, summary.Finished)

		audit.Info().
			Time("finished", summary.Finished).
			Str("outcome", outcome).
			Interface("stages", summary.Stages).
			Msg("run finished")
		return nil
	})

	if errors.Is(err, runguard.ErrAlreadyRunning) {
		p.metrics.GuardRejected.Inc()
		p.metrics.RecordPipeline("refused", p.now())
		audit.Warn().Err(err).Msg("run refused: a previous run is still active or crashed")
		log.Warn().Err(err).Str("marker", p.guard.Path()).Msg("Previous batch presumed running; remove the marker with 'exledger unlock' if it crashed")
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	logSummary(summary)
	return summary, nil
}

func (p *Pipeline) runStages(summary *Summary) {
	results := make(map[string]StageResult, 3)

	for _, st := range p.stages() {
		res := StageResult{Stage: st.name, Target: st.target}
		dsn, enabled := p.dsns[st.target]

		switch {
		case !enabled:
			res.Result = metrics.ResultSkipped
			res.Reason = fmt.Sprintf("%s database is not enabled", st.target)
		case st.requires != "" && results[st.requires].Result != metrics.ResultSuccess:
			res.Result = metrics.ResultSkipped
			res.Reason = fmt.Sprintf("%s did not succeed", st.requires)
			res.Err = fmt.Errorf("%s: %s", st.name, res.Reason)
		default:
			res = p.runStage(summary.RunID, st, dsn)
		}

		if res.Result == metrics.ResultSkipped {
			p.metrics.RecordSkipped(st.name)
			log.Warn().Str("stage", st.name).Str("reason", res.Reason).Msg("Stage skipped")
		}
		results[st.name] = res
		summary.Stages = append(summary.Stages, res)
	}
}

func (p *Pipeline) runStage(runID string, st stage, dsn string) StageResult {
	res := StageResult{Stage: st.name, Target: st.target}

	out, err := applog.OpenAppend(p.cfg.StageLog(st.name))
	if err != nil {
		res.Result = metrics.ResultError
		res.Err = err
		res.Reason = err.Error()
		return res
	}
	defer out.Close()

	fmt.Fprintf(out, "=== %s run %s started %s ===\n", st.name, runID, p.now().UTC().Format(time.RFC3339))

	timer := p.metrics.StartStage(st.name)
	err = p.runner.Run(Invocation{
		Stage:   st.name,
		Command: st.command.Command,
		Args:    st.command.Args,
		Env:     p.environment(runID, st.target, dsn),
		Output:  out,
	})

	if err != nil {
		res.Result = metrics.ResultError
		res.Err = err
		res.Reason = err.Error()
		fmt.Fprintf(out, "=== %s run %s failed: %v ===\n", st.name, runID, err)
	} else {
		res.Result = metrics.ResultSuccess
		fmt.Fprintf(out, "=== %s run %s finished ===\n", st.name, runID)
	}
	res.Duration = timer.Stop(res.Result)
	return res
}

func (p *Pipeline) environment(runID string, target persistence.Target, dsn string) []string {
	return append(os.Environ(),
		p.cfg.DatabaseURLEnv+"="+dsn,
		EnvTarget+"="+string(target),
		EnvRunID+"="+runID,
	)
}

// openAudit returns a JSON logger appending to the audit file. Every line
// carries the run id.
func (p *Pipeline) openAudit(runID string) (zerolog.Logger, func(), error) {
	f, err := applog.OpenAppend(p.cfg.AuditLog)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger := zerolog.New(f).With().Timestamp().Str("run_id", runID).Logger()
	return logger, func() { f.Close() }, nil
}

func logSummary(s *Summary) {
	event := log.Info()
	if s.Failed() {
		event = log.Error()
	}
	for _, st := range s.Stages {
		event = event.Str(st.Stage, st.Result)
	}
	event.Str("run_id", s.RunID).
		Dur("elapsed", s.Finished.Sub(s.Started)).
		Msg("Batch pipeline finished")
}
