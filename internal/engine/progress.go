package engine

import (
	"github.com/GoSim-25-26J-441/cdnsim/internal/observability"
	"github.com/GoSim-25-26J-441/cdnsim/internal/traffic"
)

// MultiProgress forwards every call to each recorder in order
type MultiProgress []ProgressRecorder

func (m MultiProgress) SetTotal(intervals int) {
	for _, p := range m {
		p.SetTotal(intervals)
	}
}

func (m MultiProgress) RecordInterval(entries int, fired traffic.Anomaly) {
	for _, p := range m {
		p.RecordInterval(entries, fired)
	}
}

// collectorProgress counts intervals into Prometheus
type collectorProgress struct {
	c *observability.Collector
}

// CollectorProgress adapts a metrics collector to a ProgressRecorder
func CollectorProgress(c *observability.Collector) ProgressRecorder {
	return collectorProgress{c: c}
}

func (p collectorProgress) SetTotal(int) {}

func (p collectorProgress) RecordInterval(entries int, fired traffic.Anomaly) {
	p.c.RecordInterval(entries, fired.Names())
}
