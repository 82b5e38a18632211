package traffic

import (
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// Anomaly is a bitset of the perturbations applied to one record
type Anomaly uint8

const (
	AnomalyMaintenance Anomaly = 1 << iota
	AnomalyOriginOutage
	AnomalyCachePurge
	AnomalyDDoS
)

// AllAnomalies lists every anomaly in injection order
var AllAnomalies = []Anomaly{AnomalyMaintenance, AnomalyOriginOutage, AnomalyCachePurge, AnomalyDDoS}

// Has reports whether a is set
func (s Anomaly) Has(a Anomaly) bool {
	return s&a != 0
}

func (s Anomaly) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), "|")
}

// Names lists the set anomalies in injection order
func (s Anomaly) Names() []string {
	var names []string
	for _, a := range AllAnomalies {
		if s.Has(a) {
			names = append(names, a.name())
		}
	}
	return names
}

func (s Anomaly) name() string {
	switch s {
	case AnomalyMaintenance:
		return "maintenance"
	case AnomalyOriginOutage:
		return "origin_outage"
	case AnomalyCachePurge:
		return "cache_purge"
	case AnomalyDDoS:
		return "ddos"
	}
	return "unknown"
}

// AnomalyRates holds the fixed-rate anomaly probabilities.
// The origin outage rate comes from realism.anomaly_probability instead.
type AnomalyRates struct {
	Maintenance float64 // per interval inside the maintenance window
	CachePurge  float64
	DDoS        float64

	// MaintenanceHours is the local-hour window, inclusive on both ends
	MaintenanceHours [2]int
}

// DefaultAnomalyRates returns the production rates
func DefaultAnomalyRates() AnomalyRates {
	return AnomalyRates{
		Maintenance:      0.05,
		CachePurge:       0.01,
		DDoS:             0.005,
		MaintenanceHours: [2]int{2, 4},
	}
}

// Injector applies independent low-probability anomalies to interval records
type Injector struct {
	outageProbability float64
	rates             AnomalyRates
	loc               *time.Location
	rng               *utils.RandSource
}

// NewInjector creates an injector. Maintenance hours are read in loc (UTC when nil).
func NewInjector(outageProbability float64, rates AnomalyRates, loc *time.Location, rng *utils.RandSource) *Injector {
	if loc == nil {
		loc = time.UTC
	}
	return &Injector{
		outageProbability: outageProbability,
		rates:             rates,
		loc:               loc,
		rng:               rng,
	}
}

// Inject returns a perturbed copy of rec and the set of anomalies that fired.
// Checks run in a fixed order: maintenance, origin outage, cache purge, DDoS.
func (inj *Injector) Inject(rec models.MetricRecord, ts time.Time) (models.MetricRecord, Anomaly) {
	var fired Anomaly

	hour := ts.In(inj.loc).Hour()
	if hour >= inj.rates.MaintenanceHours[0] && hour <= inj.rates.MaintenanceHours[1] &&
		inj.rng.BernoulliBool(inj.rates.Maintenance) {
		spike := int64(float64(rec.Requests) * inj.rng.UniformFloat64(0.05, 0.15))
		rec.HTTP5xx = spike
		rec.HTTP2xx = utils.NonNegative(rec.HTTP2xx - spike)
		fired |= AnomalyMaintenance
	}

	if inj.rng.BernoulliBool(inj.outageProbability) {
		rec.OriginFailures = int64(float64(rec.OriginRequests) * inj.rng.UniformFloat64(0.3, 0.8))
		rec.OriginHTTP5xx = rec.OriginFailures
		rec.OriginHTTP2xx = utils.NonNegative(rec.OriginRequests - rec.OriginFailures)
		fired |= AnomalyOriginOutage
	}

	if inj.rng.BernoulliBool(inj.rates.CachePurge) {
		hitRate := inj.rng.UniformFloat64(0.5, 0.7)
		rec.Hits = int64(float64(rec.Requests) * hitRate)
		rec.OriginRequests = rec.Requests - rec.Hits
		rec.HitFlux = int64(float64(rec.Flux) * hitRate)
		rec.OriginFlux = rec.Flux - rec.HitFlux
		fired |= AnomalyCachePurge
	}

	if inj.rng.BernoulliBool(inj.rates.DDoS) {
		spike := int64(float64(rec.Requests) * inj.rng.UniformFloat64(0.2, 0.4))
		rec.HTTP4xx = spike
		rec.HTTP2xx = utils.NonNegative(rec.HTTP2xx - spike)
		fired |= AnomalyDDoS
	}

	return rec, fired
}
