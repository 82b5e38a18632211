package simd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/logger"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

// maxBodyBytes bounds request bodies on /v1
const maxBodyBytes = 4 << 20

type HTTPServer struct {
	mux      *http.ServeMux
	api      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
	logs     *LogsAPI
	metrics  *observability.Collector
	token    string
	logger   *slog.Logger
}

// NewHTTPServer serves the run API. logs may be nil when storage is disabled;
// a nil collector serves the default Prometheus registry.
func NewHTTPServer(store *RunStore, executor *RunExecutor, logs *LogsAPI, collector *observability.Collector) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		api:      http.NewServeMux(),
		store:    store,
		Executor: executor,
		logs:     logs,
		metrics:  collector,
		logger:   logger.Component("http"),
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.api.HandleFunc("/v1/runs", s.handleRuns)
	s.api.HandleFunc("/v1/runs/", s.handleRunByID)
	if logs != nil {
		logs.register(s.api)
	}
	s.mux.Handle("/v1/", s.authMiddleware(bodyLimit(s.api)))
	return s
}

// SetToken requires "Authorization: Bearer <token>" on /v1. Empty disables auth.
func (s *HTTPServer) SetToken(token string) {
	s.token = token
	if config.IsWeakToken(token) {
		s.logger.Warn("API token is weak, use a longer random token")
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		switch {
		case auth == "":
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
		case !strings.HasPrefix(auth, prefix):
			writeError(w, http.StatusUnauthorized, "invalid Authorization header format")
		case auth[len(prefix):] != s.token:
			writeError(w, http.StatusUnauthorized, "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"runs":      s.store.Size(),
		"storage":   s.logs != nil,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRuns handles /v1/runs endpoint
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRunByID handles /v1/runs/{id}, /v1/runs/{id}:start, /v1/runs/{id}:stop and /v1/runs/{id}/report
func (s *HTTPServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	route := func(suffix, method string, h func(http.ResponseWriter, string)) bool {
		if !strings.HasSuffix(path, suffix) {
			return false
		}
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return true
		}
		h(w, strings.TrimSuffix(path, suffix))
		return true
	}

	switch {
	case route(":start", http.MethodPost, s.handleStartRun):
	case route(":stop", http.MethodPost, s.handleStopRun):
	case route("/report", http.MethodGet, s.handleGetReport):
	case r.Method == http.MethodGet:
		s.handleGetRun(w, path)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCreateRun handles POST /v1/runs
func (s *HTTPServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	// same flat body as the gRPC CreateRun
	var req struct {
		RunID string `json:"run_id,omitempty"`
		RunInput
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.store.Create(req.RunID, &req.RunInput)
	if err != nil {
		writeRunError(w, err)
		return
	}

	run := rec.Run()
	s.logger.Info("Run created", "run_id", run.ID, "seed", run.Seed)
	writeJSON(w, http.StatusCreated, map[string]any{"run": run})
}

// handleListRuns handles GET /v1/runs with pagination and filtering
func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := min(queryInt(q.Get("limit"), 50), 1000)
	offset := queryInt(q.Get("offset"), 0)
	status := models.RunStatus(strings.ToLower(q.Get("status")))

	recs := s.store.List(limit, offset, status)
	runs := make([]*models.Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(runs),
		},
	})
}

func (s *HTTPServer) handleGetRun(w http.ResponseWriter, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run()})
}

func (s *HTTPServer) handleStartRun(w http.ResponseWriter, runID string) {
	rec, err := s.Executor.Start(runID)
	if err != nil {
		writeRunError(w, err)
		return
	}
	s.logger.Info("Run started", "run_id", runID)
	writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run()})
}

func (s *HTTPServer) handleStopRun(w http.ResponseWriter, runID string) {
	rec, err := s.Executor.Stop(runID)
	if err != nil {
		writeRunError(w, err)
		return
	}
	s.logger.Info("Run cancelled", "run_id", runID)
	writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run()})
}

func (s *HTTPServer) handleGetReport(w http.ResponseWriter, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	report := rec.Report()
	if report == nil {
		writeError(w, http.StatusPreconditionFailed, "report not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run(), "report": report})
}

// writeRunError maps executor and store errors to HTTP statuses
func writeRunError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrRunExists):
		status = http.StatusConflict
	case errors.Is(err, ErrRunTerminal), errors.Is(err, ErrNoLogStore):
		status = http.StatusPreconditionFailed
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
