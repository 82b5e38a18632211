package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c, reg
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	c, _ := newTestCollector(t)
	interceptor := c.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/cdnsim.v1.RunService/CreateRun"}

	_, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("RunService", "CreateRun", "OK")); got != 1 {
		t.Fatalf("OK requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RPCRequests.WithLabelValues("RunService", "CreateRun", "InvalidArgument")); got != 1 {
		t.Fatalf("InvalidArgument requests = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.RPCDurations); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestRecorders(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordInterval(3, []string{"ddos", "cache_purge"})
	c.RecordInterval(3, nil)
	c.RecordPush(true, 10*time.Millisecond)
	c.RecordPush(false, 0)
	c.RecordRetry()
	c.RecordStored(5)
	c.RunStarted()
	c.RunStarted()
	c.RunFinished("completed")
	c.SetRealtimeIndex(42)

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"intervals", testutil.ToFloat64(c.IntervalsGenerated), 2},
		{"entries", testutil.ToFloat64(c.EntriesGenerated), 6},
		{"ddos", testutil.ToFloat64(c.Anomalies.WithLabelValues("ddos")), 1},
		{"pushed ok", testutil.ToFloat64(c.EntriesPushed.WithLabelValues("success")), 1},
		{"pushed failed", testutil.ToFloat64(c.EntriesPushed.WithLabelValues("failed")), 1},
		{"retries", testutil.ToFloat64(c.PushRetries), 1},
		{"stored", testutil.ToFloat64(c.EntriesStored), 5},
		{"active runs", testutil.ToFloat64(c.RunsActive), 1},
		{"completed runs", testutil.ToFloat64(c.Runs.WithLabelValues("completed")), 1},
		{"realtime index", testutil.ToFloat64(c.RealtimeIndex), 42},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = %v, expected %v", tt.name, tt.got, tt.expected)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordInterval(1, []string{"ddos"})
	c.RecordPush(true, time.Second)
	c.RecordRetry()
	c.RecordStored(1)
	c.RunStarted()
	c.RunFinished("failed")
	c.SetRealtimeIndex(1)
	if c.Gatherer() != nil {
		t.Fatal("expected nil gatherer")
	}
	if c.Handler() == nil {
		t.Fatal("expected default handler")
	}
}

func TestNewCollectorTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.RecordRetry()
	if got := testutil.ToFloat64(second.PushRetries); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordStored(7)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cdnsim_entries_stored_total 7") {
		t.Fatalf("metrics body missing stored counter:\n%s", rec.Body.String())
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in             string
		service, method string
	}{
		{"/cdnsim.v1.RunService/GetRun", "RunService", "GetRun"},
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"", "unknown", "unknown"},
		{"/only", "unknown", "unknown"},
		{"/svc/", "svc", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.method {
			t.Errorf("SplitMethod(%q) = %q, %q, expected %q, %q", tt.in, s, m, tt.service, tt.method)
		}
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	env := map[string]string{
		EnvTracingEnabled:     "TRUE",
		EnvTracingExporter:    "OTLP",
		EnvTracingSampleRatio: "0.25",
		EnvOTLPEndpoint:       "collector:4317",
	}
	cfg := TracingConfigFromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.ServiceName != "cdnsim" {
		t.Errorf("service name = %q, expected cdnsim", cfg.ServiceName)
	}

	defaults := TracingConfigFromEnv(func(string) (string, bool) { return "", false })
	if defaults.Enabled || defaults.Exporter != "stdout" || defaults.SampleRatio != 1 {
		t.Errorf("defaults = %+v", defaults)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "cdnsim-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "unit-span") {
		t.Fatalf("exported spans missing unit-span: %q", buf.String())
	}
}

func TestInitTracingErrors(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("disabled InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}
