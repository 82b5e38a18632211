//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/simd"
	"github.com/GoSim-25-26J-441/cdnsim/internal/storage"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
)

const runConfigYAML = `
target:
  bandwidth_gbps: 5
time:
  start_date: "2025-03-01"
  duration_days: 2
  interval_seconds: 3600
dimensions:
  tenant_id: tenant-it
  domains: [img.example.com, api.example.com]
  regions:
    - {country: CN, region: east, weight: 0.5}
    - {country: CN, region: west, weight: 0.5}
realism:
  seed: 7
mode:
  dry_run: true
  save_local: false
`

type daemon struct {
	http *httptest.Server
	grpc *simd.RunServiceClient
	exec *simd.RunExecutor
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()
	store := simd.NewRunStore()
	exec := simd.NewRunExecutor(store)

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector error: %v", err)
	}
	exec.SetMetrics(collector)

	db, err := storage.Open(filepath.Join(t.TempDir(), "cdn_logs.db"))
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	logs, err := simd.NewLogsAPI(db)
	if err != nil {
		t.Fatalf("NewLogsAPI error: %v", err)
	}
	exec.SetLogStore(logs, nil)

	httpSrv := httptest.NewServer(simd.NewHTTPServer(store, exec, logs, collector).Handler())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcSrv, _ := simd.NewGRPCServer(store, exec, collector)
	go grpcSrv.Serve(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient error: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		grpcSrv.Stop()
		httpSrv.Close()
		exec.Shutdown()
		db.Close()
	})
	return &daemon{http: httpSrv, grpc: simd.NewRunServiceClient(conn), exec: exec}
}

func (d *daemon) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, d.http.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("invalid json from %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (d *daemon) waitCompleted(t *testing.T, runID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		_, body := d.do(t, http.MethodGet, "/v1/runs/"+runID, nil)
		run, _ := body["run"].(map[string]any)
		switch run["status"] {
		case "completed":
			return body
		case "failed", "cancelled":
			t.Fatalf("run %s ended with %v: %v", runID, run["status"], run["error"])
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not complete", runID)
	return nil
}

// reportValidation digs report.validation.validation out of a run response
func reportValidation(body map[string]any) map[string]any {
	report, _ := body["report"].(map[string]any)
	outer, _ := report["validation"].(map[string]any)
	inner, _ := outer["validation"].(map[string]any)
	return inner
}

func TestIntegration_ExampleConfigLoads(t *testing.T) {
	path := filepath.Join("..", "..", "config.example.yaml")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig(%s) failed: %v", path, err)
	}
	if !cfg.Mode.DryRun {
		t.Errorf("example config must default to dry run")
	}
	if got := cfg.Time.TotalPoints(); got != 30*288 {
		t.Errorf("TotalPoints = %d, expected %d", got, 30*288)
	}
}

func TestIntegration_HTTPRunStoresQueryableLogs(t *testing.T) {
	d := startDaemon(t)

	code, _ := d.do(t, http.MethodPost, "/v1/runs", map[string]any{
		"run_id":      "it-http",
		"config_yaml": runConfigYAML,
		"store":       true,
	})
	if code != http.StatusCreated {
		t.Fatalf("create status = %d, expected 201", code)
	}
	if code, _ := d.do(t, http.MethodPost, "/v1/runs/it-http:start", nil); code != http.StatusOK {
		t.Fatalf("start status = %d, expected 200", code)
	}
	done := d.waitCompleted(t, "it-http")
	run := done["run"].(map[string]any)
	// 2 days of hourly samples, one entry per region
	if run["log_count"] != float64(48*2) {
		t.Errorf("log_count = %v, expected %d", run["log_count"], 48*2)
	}

	_, body := d.do(t, http.MethodGet, "/v1/runs/it-http/report", nil)
	// region weights jitter by up to 10%, so allow more than the 5% pass band
	if dev, _ := reportValidation(body)["deviation_percent"].(float64); dev >= 10 {
		t.Errorf("deviation_percent = %v, expected < 10", dev)
	}

	_, domains := d.do(t, http.MethodGet, "/v1/logs/domains", nil)
	if got := fmt.Sprint(domains["domains"]); got != "[api.example.com img.example.com]" {
		t.Errorf("domains = %s", got)
	}

	code, validated := d.do(t, http.MethodPost, "/v1/logs:validate?target_gbps=5", nil)
	if code != http.StatusOK {
		t.Fatalf("validate status = %d, expected 200", code)
	}
	v, _ := validated["validation"].(map[string]any)
	if dev, _ := v["deviation_percent"].(float64); dev >= 10 {
		t.Errorf("stored logs deviation_percent = %v, expected < 10", dev)
	}
}

func TestIntegration_GRPCRunMatchesHTTPRun(t *testing.T) {
	d := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{"run_id": "it-grpc", "config_yaml": runConfigYAML})
	if err != nil {
		t.Fatalf("NewStruct error: %v", err)
	}
	if _, err := d.grpc.CreateRun(ctx, req); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	id, _ := structpb.NewStruct(map[string]any{"run_id": "it-grpc"})
	if _, err := d.grpc.StartRun(ctx, id); err != nil {
		t.Fatalf("StartRun error: %v", err)
	}
	d.waitCompleted(t, "it-grpc")

	got, err := d.grpc.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	grpcBilled := reportValidation(got.AsMap())["billed_gbps"]

	d.do(t, http.MethodPost, "/v1/runs", map[string]any{"run_id": "it-twin", "config_yaml": runConfigYAML})
	d.do(t, http.MethodPost, "/v1/runs/it-twin:start", nil)
	d.waitCompleted(t, "it-twin")
	_, body := d.do(t, http.MethodGet, "/v1/runs/it-twin/report", nil)
	httpBilled := reportValidation(body)["billed_gbps"]

	// realism.seed is fixed, so both transports produce the same logs
	if httpBilled != grpcBilled {
		t.Errorf("billed_gbps over gRPC = %v, over HTTP = %v", grpcBilled, httpBilled)
	}
}

func TestIntegration_MetricsExposeRunCounters(t *testing.T) {
	d := startDaemon(t)
	d.do(t, http.MethodPost, "/v1/runs", map[string]any{"run_id": "it-metrics", "config_yaml": runConfigYAML})
	d.do(t, http.MethodPost, "/v1/runs/it-metrics:start", nil)
	d.waitCompleted(t, "it-metrics")

	resp, err := http.Get(d.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "cdnsim_intervals_generated_total 48") {
		t.Errorf("expected 48 generated intervals in /metrics")
	}
}
