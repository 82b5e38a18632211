package simd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/storage"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

const baseMs = int64(1735689600000)

func logEntry(offsetMs int64, domain string, bw, req, hit int64) models.LogEntry {
	return models.LogEntry{
		TenantID:  "tenant-1",
		StartTime: baseMs + offsetMs,
		Country:   "CN",
		Region:    "east",
		Domain:    domain,
		Interval:  300,
		MetricRecord: models.MetricRecord{
			BandwidthMbps: bw,
			Flux:          bw * 300 / 8,
			Requests:      req,
			Hits:          hit,
			HTTP2xx:       req,
		},
	}
}

type testServer struct {
	srv   *HTTPServer
	store *RunStore
	logs  *LogsAPI
}

func newTestServer(t *testing.T, withLogs bool) *testServer {
	t.Helper()
	store := NewRunStore()
	exec := NewRunExecutor(store)

	var logs *LogsAPI
	if withLogs {
		db, err := storage.Open(filepath.Join(t.TempDir(), "cdn_logs.db"))
		if err != nil {
			t.Fatalf("storage.Open error: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		if logs, err = NewLogsAPI(db); err != nil {
			t.Fatalf("NewLogsAPI error: %v", err)
		}
		exec.SetLogStore(logs, nil)
	}

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector error: %v", err)
	}
	exec.SetMetrics(collector)
	t.Cleanup(exec.Wait)
	return &testServer{srv: NewHTTPServer(store, exec, logs, collector), store: store, logs: logs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid json from %s %s: %v", method, path, err)
		}
	}
	return rr, out
}

func runField(body map[string]any, key string) any {
	run, _ := body["run"].(map[string]any)
	return run[key]
}

func TestHTTPServerHealthz(t *testing.T) {
	ts := newTestServer(t, false)
	rr, body := ts.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rr.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, expected ok", body["status"])
	}
	if body["storage"] != false {
		t.Errorf("storage = %v, expected false", body["storage"])
	}
	if body["timestamp"] == "" {
		t.Errorf("expected timestamp to be set")
	}
}

func TestHTTPServerMetrics(t *testing.T) {
	ts := newTestServer(t, false)
	rr, _ := ts.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cdnsim_intervals_generated_total") {
		t.Errorf("metrics output missing cdnsim_intervals_generated_total")
	}
}

func TestHTTPServerRunLifecycle(t *testing.T) {
	ts := newTestServer(t, false)

	rr, body := ts.do(t, http.MethodPost, "/v1/runs", map[string]any{
		"run_id":      "run-1",
		"config_yaml": testConfigYAML,
		"seed":        7,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%v), expected 201", rr.Code, body)
	}
	if runField(body, "status") != string(models.RunStatusPending) {
		t.Errorf("status = %v, expected pending", runField(body, "status"))
	}
	if runField(body, "seed") != float64(7) {
		t.Errorf("seed = %v, expected 7", runField(body, "seed"))
	}

	rr, _ = ts.do(t, http.MethodGet, "/v1/runs/run-1/report", nil)
	if rr.Code != http.StatusPreconditionFailed {
		t.Errorf("report before start status = %d, expected 412", rr.Code)
	}

	rr, body = ts.do(t, http.MethodPost, "/v1/runs/run-1:start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d (%v), expected 200", rr.Code, body)
	}
	ts.srv.Executor.Wait()

	rr, body = ts.do(t, http.MethodGet, "/v1/runs/run-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, expected 200", rr.Code)
	}
	if runField(body, "status") != string(models.RunStatusCompleted) {
		t.Fatalf("status = %v (%v), expected completed", runField(body, "status"), runField(body, "error"))
	}

	rr, body = ts.do(t, http.MethodGet, "/v1/runs/run-1/report", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("report status = %d, expected 200", rr.Code)
	}
	report, _ := body["report"].(map[string]any)
	if report["log_count"] == nil || report["billing"] == nil {
		t.Errorf("report = %v, expected log_count and billing", report)
	}

	rr, _ = ts.do(t, http.MethodPost, "/v1/runs/run-1:start", nil)
	if rr.Code != http.StatusPreconditionFailed {
		t.Errorf("restart status = %d, expected 412", rr.Code)
	}
}

func TestHTTPServerStopRun(t *testing.T) {
	ts := newTestServer(t, false)
	if _, err := ts.store.Create("run-1", &RunInput{ConfigYAML: testConfigYAML}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	rr, body := ts.do(t, http.MethodPost, "/v1/runs/run-1:stop", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stop status = %d, expected 200", rr.Code)
	}
	if runField(body, "status") != string(models.RunStatusCancelled) {
		t.Errorf("status = %v, expected cancelled", runField(body, "status"))
	}
}

func TestHTTPServerRunErrors(t *testing.T) {
	ts := newTestServer(t, false)
	if _, err := ts.store.Create("dup", &RunInput{ConfigYAML: testConfigYAML}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := ts.store.Create("wants-store", &RunInput{ConfigYAML: testConfigYAML, Store: true}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate", http.MethodPost, "/v1/runs", map[string]any{"run_id": "dup", "config_yaml": testConfigYAML}, http.StatusConflict},
		{"missing config", http.MethodPost, "/v1/runs", map[string]any{"run_id": "x"}, http.StatusBadRequest},
		{"nested input rejected", http.MethodPost, "/v1/runs", map[string]any{"run_id": "x", "input": map[string]any{"config_yaml": testConfigYAML}}, http.StatusBadRequest},
		{"invalid config", http.MethodPost, "/v1/runs", map[string]any{"config_yaml": "target: {bandwidth_gbps: -1}"}, http.StatusBadRequest},
		{"unknown run", http.MethodGet, "/v1/runs/nope", nil, http.StatusNotFound},
		{"start unknown", http.MethodPost, "/v1/runs/nope:start", nil, http.StatusNotFound},
		{"start needs storage", http.MethodPost, "/v1/runs/wants-store:start", nil, http.StatusPreconditionFailed},
		{"start with GET", http.MethodGet, "/v1/runs/dup:start", nil, http.StatusMethodNotAllowed},
		{"delete run", http.MethodDelete, "/v1/runs/dup", nil, http.StatusMethodNotAllowed},
		{"put runs", http.MethodPut, "/v1/runs", nil, http.StatusMethodNotAllowed},
		{"empty id", http.MethodGet, "/v1/runs/", nil, http.StatusBadRequest},
		{"logs disabled", http.MethodGet, "/v1/logs", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := ts.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("%s %s status = %d, expected %d", tt.method, tt.path, rr.Code, tt.want)
			}
		})
	}
}

func TestHTTPServerInvalidBody(t *testing.T) {
	ts := newTestServer(t, false)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader("{not json"))
	ts.srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected 400", rr.Code)
	}
}

func TestHTTPServerListRuns(t *testing.T) {
	ts := newTestServer(t, false)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := ts.store.Create(id, &RunInput{ConfigYAML: testConfigYAML}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if _, err := ts.srv.Executor.Stop("b"); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?limit=2", 2},
		{"?offset=2", 1},
		{"?status=cancelled", 1},
		{"?status=PENDING", 2},
		{"?status=running", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr, body := ts.do(t, http.MethodGet, "/v1/runs"+tt.query, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, expected 200", rr.Code)
			}
			runs, _ := body["runs"].([]any)
			if len(runs) != tt.want {
				t.Errorf("runs = %d, expected %d", len(runs), tt.want)
			}
		})
	}
}

func TestHTTPServerAuth(t *testing.T) {
	ts := newTestServer(t, false)
	ts.srv.SetToken("correct-horse-battery-staple-2025")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer correct-horse-battery-staple-2025", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			ts.srv.Handler().ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, expected %d", rr.Code, tt.want)
			}
		})
	}

	rr, _ := ts.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("healthz with auth enabled status = %d, expected 200", rr.Code)
	}
}

func TestLogsAPIQueries(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := t.Context()
	n, err := ts.logs.InsertLogs(ctx, []models.LogEntry{
		logEntry(0, "a.example.com", 10240, 10, 9),
		logEntry(0, "b.example.com", 30720, 20, 10),
		logEntry(300_000, "a.example.com", 10240, 10, 8),
	})
	if err != nil || n != 3 {
		t.Fatalf("InsertLogs = %d, %v, expected 3, nil", n, err)
	}

	rr, body := ts.do(t, http.MethodGet, "/v1/logs?domain=a.example.com", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logs status = %d, expected 200", rr.Code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v, expected 2", body["count"])
	}

	rr, body = ts.do(t, http.MethodGet, "/v1/logs/domains", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("domains status = %d, expected 200", rr.Code)
	}
	if domains, _ := body["domains"].([]any); len(domains) != 2 {
		t.Errorf("domains = %v, expected 2", body["domains"])
	}

	_, body = ts.do(t, http.MethodGet, "/v1/logs/range", nil)
	if body["empty"] != false || body["start_ms"] != float64(baseMs) || body["end_ms"] != float64(baseMs+300_000) {
		t.Errorf("range = %v", body)
	}

	_, body = ts.do(t, http.MethodGet, "/v1/logs/timeseries?bucket_ms=300000", nil)
	if points, _ := body["points"].([]any); len(points) != 2 {
		t.Errorf("points = %d, expected 2", len(points))
	}

	_, body = ts.do(t, http.MethodGet, "/v1/logs/top-domains?limit=1", nil)
	top, _ := body["domains"].([]any)
	if len(top) != 1 {
		t.Fatalf("top domains = %v, expected 1", body["domains"])
	}
	if first, _ := top[0].(map[string]any); first["domain"] != "b.example.com" {
		t.Errorf("top domain = %v, expected b.example.com", first["domain"])
	}
}

func TestLogsAPICache(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := t.Context()
	if _, err := ts.logs.InsertLogs(ctx, []models.LogEntry{logEntry(0, "a.example.com", 1024, 10, 5)}); err != nil {
		t.Fatalf("InsertLogs error: %v", err)
	}

	rr, body := ts.do(t, http.MethodGet, "/v1/logs/summary", nil)
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Errorf("first X-Cache = %q, expected MISS", rr.Header().Get("X-Cache"))
	}
	if body["hit_rate"] != 0.5 {
		t.Errorf("hit_rate = %v, expected 0.5", body["hit_rate"])
	}

	rr, _ = ts.do(t, http.MethodGet, "/v1/logs/summary", nil)
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second X-Cache = %q, expected HIT", rr.Header().Get("X-Cache"))
	}

	if _, err := ts.logs.InsertLogs(ctx, []models.LogEntry{logEntry(300_000, "a.example.com", 1024, 10, 10)}); err != nil {
		t.Fatalf("InsertLogs error: %v", err)
	}
	rr, body = ts.do(t, http.MethodGet, "/v1/logs/summary", nil)
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache after insert = %q, expected MISS", rr.Header().Get("X-Cache"))
	}
	if body["hit_rate"] != 0.75 {
		t.Errorf("hit_rate after insert = %v, expected 0.75", body["hit_rate"])
	}
}

func TestLogsAPIBadRequests(t *testing.T) {
	ts := newTestServer(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"bad start", http.MethodGet, "/v1/logs?start=yesterday", http.StatusBadRequest},
		{"end before start", http.MethodGet, "/v1/logs/summary?start=2025-01-02&end=2025-01-01", http.StatusBadRequest},
		{"zero bucket", http.MethodGet, "/v1/logs/timeseries?bucket_ms=0", http.StatusBadRequest},
		{"post query", http.MethodPost, "/v1/logs", http.StatusMethodNotAllowed},
		{"get validate", http.MethodGet, "/v1/logs:validate?target_gbps=1", http.StatusMethodNotAllowed},
		{"missing target", http.MethodPost, "/v1/logs:validate", http.StatusBadRequest},
		{"validate empty store", http.MethodPost, "/v1/logs:validate?target_gbps=1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := ts.do(t, tt.method, tt.path, nil)
			if rr.Code != tt.want {
				t.Errorf("%s %s status = %d, expected %d", tt.method, tt.path, rr.Code, tt.want)
			}
		})
	}
}

func TestLogsAPIValidate(t *testing.T) {
	ts := newTestServer(t, true)
	var entries []models.LogEntry
	for i := range 12 {
		entries = append(entries, logEntry(int64(i)*300_000, "a.example.com", 10240, 10, 9))
	}
	if _, err := ts.logs.InsertLogs(t.Context(), entries); err != nil {
		t.Fatalf("InsertLogs error: %v", err)
	}

	rr, body := ts.do(t, http.MethodPost, "/v1/logs:validate?target_gbps=10", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("validate status = %d (%v), expected 200", rr.Code, body)
	}
	v, _ := body["validation"].(map[string]any)
	if v["target_gbps"] != float64(10) {
		t.Errorf("target_gbps = %v, expected 10", v["target_gbps"])
	}
	if v["passed"] != true {
		t.Errorf("passed = %v, expected true for a flat 10 Gbps series", v["passed"])
	}
}

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1735689600000", baseMs, false},
		{"2025-01-01T00:00:00Z", baseMs, false},
		{"2025-01-01", baseMs, false},
		{"01/01/2025", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseTimeParam(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTimeParam(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseTimeParam(%q) = %d, expected %d", tt.raw, got, tt.want)
			}
		})
	}
}
