package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/exledger/internal/history"
	"github.com/sawpanic/exledger/internal/metrics"
	"github.com/sawpanic/exledger/internal/persistence"
	"github.com/sawpanic/exledger/internal/persistence/memory"
	"github.com/sawpanic/exledger/internal/runguard"
)

type fakeHealth []persistence.HealthCheck

func (f fakeHealth) Health(context.Context) []persistence.HealthCheck { return f }

var t0 = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, health fakeHealth) (*Server, *runguard.Guard, *memory.Store) {
	t.Helper()
	store := memory.New()
	guard := runguard.New(filepath.Join(t.TempDir(), "batch.lock"))
	svc := history.NewService(store.Repository(persistence.TargetLive), nil, nil, 0, nil)

	srv := NewServer(DefaultServerConfig("127.0.0.1:0"), Deps{
		Databases: health,
		Guard:     guard,
		Metrics:   metrics.NewRegistry(),
		History:   svc,
	})
	return srv, guard, store
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	healthy := fakeHealth{
		{Target: persistence.TargetLive, Healthy: true},
		{Target: persistence.TargetSimulation, Healthy: true, Errors: []string{"Database disabled"}},
	}
	srv, _, _ := newTestServer(t, healthy)

	rec := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Databases, 2)
	assert.Equal(t, persistence.TargetSimulation, resp.Databases[1].Target)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestHealth_Unhealthy(t *testing.T) {
	srv, _, _ := newTestServer(t, fakeHealth{
		{Target: persistence.TargetLive, Healthy: false, Errors: []string{"ping failed: connection refused"}},
	})

	rec := get(t, srv, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestRunGuard(t *testing.T) {
	srv, guard, _ := newTestServer(t, nil)

	var st runguard.Status
	rec := get(t, srv, "/runguard")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Present)
	assert.Equal(t, guard.Path(), st.Path)

	h, err := guard.Acquire()
	require.NoError(t, err)
	defer h.Release()

	rec = get(t, srv, "/runguard")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Present)
	assert.False(t, st.Since.IsZero())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	srv.deps.Metrics.RecordPrune("live", 3)

	rec := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `exledger_orderbook_pruned_rows_total{database="live"} 3`)
}

func TestHistory(t *testing.T) {
	srv, _, store := newTestServer(t, nil)
	ctx := context.Background()

	btc, err := store.UpsertCurrency(ctx, "BTC", "Bitcoin")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		st, err := store.Stamp(ctx, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		_, err = store.AddBalance(ctx, btc.ID, st.ID, decimal.NewFromInt(int64(i+1)), decimal.Zero)
		require.NoError(t, err)
	}

	rec := get(t, srv, "/history?since=2026-01-10T00:00:00Z&until=2026-01-10T03:00:00Z&step=2_hour")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success bool               `json:"success"`
		History []history.Snapshot `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.History, 2)
	assert.True(t, body.History[0].Stamp.Equal(t0))
	assert.True(t, body.History[1].Stamp.Equal(t0.Add(2*time.Hour)))
	assert.True(t, body.History[1].Currencies[0].Available.Equal(decimal.NewFromInt(3)))
}

func TestHistory_BadQueries(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	for _, path := range []string{
		"/history?since=yesterday",
		"/history?step=2_weeks",
		"/history?since=2026-01-10T05:00:00Z&until=2026-01-10T00:00:00Z",
		"/history?sim=1",
		"/assets",
		"/assets?fiat=JPY&date=01/02/2026",
	} {
		rec := get(t, srv, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), path)
		assert.NotEmpty(t, resp.RequestID)
	}
}

func TestHistory_StorageUnavailable(t *testing.T) {
	srv, _, store := newTestServer(t, nil)
	store.SetUnavailable(true)

	rec := get(t, srv, "/history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAssets(t *testing.T) {
	srv, _, store := newTestServer(t, nil)
	ctx := context.Background()
	bank, err := store.EnsureService(ctx, "bank")
	require.NoError(t, err)
	jpy, err := store.EnsureAsset(ctx, nil, "JPY")
	require.NoError(t, err)
	_, err = store.AddAssetHistory(ctx, t0, bank.ID, jpy.ID, decimal.NewFromInt(5000))
	require.NoError(t, err)

	rec := get(t, srv, "/assets?date=2026-01-10&fiat=jpy")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report history.AssetReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Total.Equal(decimal.NewFromInt(5000)))
}

func TestNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	rec := get(t, srv, "/candidates")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
