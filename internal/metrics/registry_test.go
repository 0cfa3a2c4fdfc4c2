package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTimer(t *testing.T) {
	m := NewRegistry()

	m.StartStage("scrape-live").Stop(ResultSuccess)
	m.StartStage("scrape-live").Stop(ResultError)
	m.RecordSkipped("speculate-live")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("scrape-live", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("scrape-live", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues("speculate-live", ResultSkipped)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))
}

func TestRecordPipeline(t *testing.T) {
	m := NewRegistry()
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.RecordPipeline(ResultError, finished)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastSuccess))

	m.RecordPipeline(ResultSuccess, finished)
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestRetentionMetrics(t *testing.T) {
	m := NewRegistry()
	m.RecordPrune("live", 12)
	m.RecordPrune("live", 0)
	m.SetDatabaseSize("simulation", 4096)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.PrunedRows.WithLabelValues("live")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.DatabaseSize.WithLabelValues("simulation")))
}

func TestHandlerExposesPrivateRegistry(t *testing.T) {
	m := NewRegistry()
	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `exledger_history_cache_lookups_total{result="miss"} 2`)
	assert.False(t, strings.Contains(body, "cryptorun_"))
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	assert.NoError(t, NewRegistry().Push("", "exledger_batch"))
}

func TestPushToGateway(t *testing.T) {
	var path string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	require.NoError(t, NewRegistry().Push(gw.URL, "exledger_batch"))
	assert.Equal(t, "/metrics/job/exledger_batch", path)
}

func TestGathererHistogramBuckets(t *testing.T) {
	m := NewRegistry()
	m.StageDuration.WithLabelValues("scrape-live", ResultSuccess).Observe(3)

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "exledger_stage_duration_seconds" {
			found = mf
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, dto.MetricType_HISTOGRAM, found.GetType())

	h := found.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.Equal(t, 3.0, h.GetSampleSum())
	for _, b := range h.GetBucket() {
		if b.GetUpperBound() >= 5 {
			assert.Equal(t, uint64(1), b.GetCumulativeCount(), "bucket le=%v", b.GetUpperBound())
		} else {
			assert.Equal(t, uint64(0), b.GetCumulativeCount(), "bucket le=%v", b.GetUpperBound())
		}
	}
}
