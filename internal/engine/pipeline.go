package engine

import (
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/internal/traffic"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

// DerivedRecord is an interval aggregate that has not seen anomaly injection yet
type DerivedRecord struct {
	record models.MetricRecord
}

// Record returns the derived aggregate
func (d DerivedRecord) Record() models.MetricRecord {
	return d.record
}

// InjectedRecord is an aggregate that went through anomaly injection.
// Only injected records can be distributed.
type InjectedRecord struct {
	record    models.MetricRecord
	Anomalies traffic.Anomaly
}

// Record returns the perturbed aggregate
func (i InjectedRecord) Record() models.MetricRecord {
	return i.record
}

// Pipeline chains derive -> inject -> distribute for one interval
type Pipeline struct {
	derivator   *traffic.Derivator
	injector    *traffic.Injector
	distributor *traffic.Distributor
}

// NewPipeline creates a pipeline from its three stages
func NewPipeline(d *traffic.Derivator, inj *traffic.Injector, dist *traffic.Distributor) *Pipeline {
	return &Pipeline{derivator: d, injector: inj, distributor: dist}
}

// Derive builds the aggregate record of one bandwidth sample
func (p *Pipeline) Derive(bandwidthGbps float64, intervalSeconds int) DerivedRecord {
	return DerivedRecord{record: p.derivator.Derive(bandwidthGbps, intervalSeconds)}
}

// Inject applies anomalies to a derived aggregate
func (p *Pipeline) Inject(d DerivedRecord, ts time.Time) InjectedRecord {
	rec, fired := p.injector.Inject(d.record, ts)
	return InjectedRecord{record: rec, Anomalies: fired}
}

// Distribute fans an injected aggregate out into per-region log entries
func (p *Pipeline) Distribute(i InjectedRecord, ts time.Time) []models.LogEntry {
	return p.distributor.Distribute(i.record, ts)
}

// Process runs all three stages for one interval
func (p *Pipeline) Process(bandwidthGbps float64, intervalSeconds int, ts time.Time) ([]models.LogEntry, traffic.Anomaly) {
	injected := p.Inject(p.Derive(bandwidthGbps, intervalSeconds), ts)
	return p.Distribute(injected, ts), injected.Anomalies
}
