// Package metrics holds the Prometheus instruments of the batch tooling.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// Stage results
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Registry holds all exledger metrics on a private Prometheus registry
type Registry struct {
	reg *prometheus.Registry

	// Pipeline
	StageDuration *prometheus.HistogramVec
	StageRuns     *prometheus.CounterVec
	PipelineRuns  *prometheus.CounterVec
	LastSuccess   prometheus.Gauge

	// Run guard
	GuardHeld     prometheus.Gauge
	GuardRejected prometheus.Counter

	// Retention
	PrunedRows   *prometheus.CounterVec
	DatabaseSize *prometheus.GaugeVec
	RotatedBytes prometheus.Counter

	// History cache
	CacheLookups *prometheus.CounterVec
}

// NewRegistry creates and registers every metric
func NewRegistry() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exledger_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"stage", "result"},
		),

		StageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exledger_stage_runs_total",
				Help: "Pipeline stages executed by result",
			},
			[]string{"stage", "result"},
		),

		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exledger_pipeline_runs_total",
				Help: "Pipeline invocations by outcome",
			},
			[]string{"outcome"},
		),

		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "exledger_pipeline_last_success_timestamp_seconds",
				Help: "Unix time of the last pipeline run without failed stages",
			},
		),

		GuardHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "exledger_runguard_held",
				Help: "1 while this process holds the run marker",
			},
		),

		GuardRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exledger_runguard_rejected_total",
				Help: "Runs refused because the marker was present",
			},
		),

		PrunedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exledger_orderbook_pruned_rows_total",
				Help: "Order book rows deleted by retention",
			},
			[]string{"database"},
		),

		DatabaseSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "exledger_database_size_bytes",
				Help: "Size of each logical database",
			},
			[]string{"database"},
		),

		RotatedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exledger_log_rotated_bytes_total",
				Help: "Bytes of log moved into archives",
			},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exledger_history_cache_lookups_total",
				Help: "Balance history cache lookups by result",
			},
			[]string{"result"},
		),
	}

	m.reg.MustRegister(
		m.StageDuration,
		m.StageRuns,
		m.PipelineRuns,
		m.LastSuccess,
		m.GuardHeld,
		m.GuardRejected,
		m.PrunedRows,
		m.DatabaseSize,
		m.RotatedBytes,
		m.CacheLookups,
	)

	return m
}

// Gatherer exposes the underlying registry
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}

// StageTimer tracks execution time of one pipeline stage
type StageTimer struct {
	metrics *Registry
	stage   string
	start   time.Time
}

// StartStage begins timing a stage
func (m *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{metrics: m, stage: stage, start: time.Now()}
}

// Stop records the stage duration under result
func (st *StageTimer) Stop(result string) time.Duration {
	duration := time.Since(st.start)
	st.metrics.StageDuration.WithLabelValues(st.stage, result).Observe(duration.Seconds())
	st.metrics.StageRuns.WithLabelValues(st.stage, result).Inc()

	log.Debug().
		Str("stage", st.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline stage completed")
	return duration
}

// RecordSkipped counts a stage that was not started
func (m *Registry) RecordSkipped(stage string) {
	m.StageRuns.WithLabelValues(stage, ResultSkipped).Inc()
}

// RecordPipeline counts a finished pipeline run
func (m *Registry) RecordPipeline(outcome string, finished time.Time) {
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	if outcome == ResultSuccess {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// RecordPrune counts rows removed from database
func (m *Registry) RecordPrune(database string, rows int64) {
	m.PrunedRows.WithLabelValues(database).Add(float64(rows))
}

// SetDatabaseSize records the on-disk size of database
func (m *Registry) SetDatabaseSize(database string, bytes int64) {
	m.DatabaseSize.WithLabelValues(database).Set(float64(bytes))
}

// RecordCache counts a cache hit or miss
func (m *Registry) RecordCache(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Push sends the current values to a Pushgateway. Batch runs are too short
// lived to be scraped, so cron invocations push once before exiting.
func (m *Registry) Push(url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.reg).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
