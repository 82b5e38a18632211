// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into the generator, pusher, and daemon.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Collector bundles the Prometheus metrics of one process. A nil *Collector
// is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	IntervalsGenerated prometheus.Counter
	EntriesGenerated   prometheus.Counter
	Anomalies          *prometheus.CounterVec

	EntriesPushed *prometheus.CounterVec
	PushRetries   prometheus.Counter
	PushDuration  prometheus.Histogram

	EntriesStored prometheus.Counter

	Runs       *prometheus.CounterVec
	RunsActive prometheus.Gauge

	RealtimeIndex prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnsim_rpc_requests_total",
		Help: "Handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "cdnsim_rpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdnsim_rpc_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "cdnsim_rpc_duration_seconds"); err != nil {
		return nil, err
	}
	if c.IntervalsGenerated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnsim_intervals_generated_total",
		Help: "Sampling intervals run through the generation pipeline.",
	}), "cdnsim_intervals_generated_total"); err != nil {
		return nil, err
	}
	if c.EntriesGenerated, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnsim_entries_generated_total",
		Help: "Log entries produced by the distributor.",
	}), "cdnsim_entries_generated_total"); err != nil {
		return nil, err
	}
	if c.Anomalies, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnsim_anomalies_total",
		Help: "Injected anomalies, labeled by kind.",
	}, []string{"kind"}), "cdnsim_anomalies_total"); err != nil {
		return nil, err
	}
	if c.EntriesPushed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnsim_entries_pushed_total",
		Help: "Log entries sent to the ingestion API, labeled by result.",
	}, []string{"result"}), "cdnsim_entries_pushed_total"); err != nil {
		return nil, err
	}
	if c.PushRetries, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnsim_push_retries_total",
		Help: "Retried push requests.",
	}), "cdnsim_push_retries_total"); err != nil {
		return nil, err
	}
	if c.PushDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdnsim_push_request_duration_seconds",
		Help:    "Latency of single push requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}), "cdnsim_push_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.EntriesStored, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdnsim_entries_stored_total",
		Help: "Log entries newly written to SQLite.",
	}), "cdnsim_entries_stored_total"); err != nil {
		return nil, err
	}
	if c.Runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdnsim_runs_total",
		Help: "Finished daemon runs, labeled by final status.",
	}, []string{"status"}), "cdnsim_runs_total"); err != nil {
		return nil, err
	}
	if c.RunsActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdnsim_runs_active",
		Help: "Daemon runs currently executing.",
	}), "cdnsim_runs_active"); err != nil {
		return nil, err
	}
	if c.RealtimeIndex, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdnsim_realtime_current_index",
		Help: "Next curve index the realtime scheduler will push.",
	}), "cdnsim_realtime_current_index"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordInterval counts one generated interval and the anomalies it carried
func (c *Collector) RecordInterval(entries int, anomalies []string) {
	if c == nil {
		return
	}
	c.IntervalsGenerated.Inc()
	c.EntriesGenerated.Add(float64(entries))
	for _, a := range anomalies {
		c.Anomalies.WithLabelValues(a).Inc()
	}
}

// RecordPush counts one pushed entry and the latency of its final attempt
func (c *Collector) RecordPush(success bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "failed"
	}
	c.EntriesPushed.WithLabelValues(result).Inc()
	if elapsed > 0 {
		c.PushDuration.Observe(elapsed.Seconds())
	}
}

// RecordRetry counts one retried push request
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.PushRetries.Inc()
}

// RecordStored counts newly stored entries
func (c *Collector) RecordStored(n int) {
	if c == nil {
		return
	}
	c.EntriesStored.Add(float64(n))
}

// RunStarted marks a run as executing
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.RunsActive.Inc()
}

// RunFinished records the final status of an executing run
func (c *Collector) RunFinished(status string) {
	if c == nil {
		return
	}
	c.RunsActive.Dec()
	c.Runs.WithLabelValues(status).Inc()
}

// SetRealtimeIndex publishes the realtime scheduler position
func (c *Collector) SetRealtimeIndex(index int) {
	if c == nil {
		return
	}
	c.RealtimeIndex.Set(float64(index))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// SplitMethod parses "/pkg.Service/Method" into its service and method
// names, returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds collector to reg, reusing an already registered collector of the same type
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
