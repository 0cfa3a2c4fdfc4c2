package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sawpanic/exledger/internal/history"
	"github.com/sawpanic/exledger/internal/ledger"
	"github.com/sawpanic/exledger/internal/persistence"
)

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                    `json:"status"` // "healthy" or "unhealthy"
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	GoVersion string                    `json:"go_version"`
	Databases []persistence.HealthCheck `json:"databases"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

// writeStoreError maps ledger errors onto status codes
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, history.ErrDatabaseDisabled):
		writeError(w, r, http.StatusBadRequest, "database_disabled", err.Error())
	case errors.Is(err, ledger.ErrStorageUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		GoVersion: runtime.Version(),
		Databases: []persistence.HealthCheck{},
	}
	if s.deps.Databases != nil {
		resp.Databases = s.deps.Databases.Health(r.Context())
	}

	status := http.StatusOK
	for _, db := range resp.Databases {
		if !db.Healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleRunGuard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Guard == nil {
		writeError(w, r, http.StatusNotFound, "runguard_not_configured", "No run marker is configured")
		return
	}
	st, err := s.deps.Guard.Status()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "runguard_status_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// parseHistoryQuery reads since, until (RFC3339), step, fiat, symbols and
// sim=1 from the URL
func parseHistoryQuery(r *http.Request) (history.Query, error) {
	values := r.URL.Query()
	var q history.Query

	for name, dst := range map[string]**time.Time{"since": &q.Since, "until": &q.Until} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%s: want RFC3339, got %q", name, raw)
		}
		*dst = &t
	}
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return q, fmt.Errorf("until is before since")
	}

	step, err := history.ParseStep(values.Get("step"))
	if err != nil {
		return q, err
	}
	q.Step = step
	q.Fiat = values.Get("fiat")
	q.Symbols = splitList(values.Get("symbols"))
	q.Simulation = values.Get("sim") == "1"
	return q, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, r, http.StatusServiceUnavailable, "history_unavailable", "The live database is not enabled")
		return
	}
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	snaps, err := s.deps.History.Balances(r.Context(), q)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": snaps,
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, r, http.StatusServiceUnavailable, "history_unavailable", "The live database is not enabled")
		return
	}

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_query", fmt.Sprintf("date: want YYYY-MM-DD, got %q", raw))
			return
		}
		date = parsed
	}
	fiat := r.URL.Query().Get("fiat")
	if fiat == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_query", "fiat is required")
		return
	}

	report, err := s.deps.History.AssetSnapshot(r.Context(), date, fiat)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
