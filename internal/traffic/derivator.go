// Package traffic turns bandwidth samples into CDN interval records:
// derivation, anomaly injection, and per-dimension distribution.
package traffic

import (
	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

const bytesPerGiB = 1 << 30

// statusShares is the sampling range of one status bucket's share of requests
type statusShares struct {
	ok, clientErr, redirect config.Range
}

var (
	clientShares = statusShares{
		ok:        config.Range{0.75, 0.90},
		clientErr: config.Range{0.05, 0.15},
		redirect:  config.Range{0.02, 0.08},
	}
	originShares = statusShares{
		ok:        config.Range{0.85, 0.95},
		clientErr: config.Range{0.02, 0.08},
		redirect:  config.Range{0.01, 0.05},
	}
)

// Derivator maps one bandwidth sample to a full interval record
type Derivator struct {
	realism config.Realism
	rng     *utils.RandSource
}

// NewDerivator creates a derivator drawing from rng
func NewDerivator(realism config.Realism, rng *utils.RandSource) *Derivator {
	return &Derivator{realism: realism, rng: rng}
}

// Derive builds the interval record for bandwidthGbps sustained over intervalSeconds.
// Hits plus origin requests always equal requests; status buckets may fall
// short of requests when the sampled shares exceed 1.
func (d *Derivator) Derive(bandwidthGbps float64, intervalSeconds int) models.MetricRecord {
	flux := int64(bandwidthGbps * bytesPerGiB * float64(intervalSeconds) / 8)

	hitRate := d.uniform(d.realism.CacheHitRate)
	originFlux := int64(float64(flux) * (1 - hitRate))

	objectSize := d.uniform(d.realism.AvgObjectSizeKB) * 1024
	requests := max(1, int64(float64(flux)/objectSize))

	hits := int64(float64(requests) * hitRate)
	origin := requests - hits
	failures := utils.NonNegative(int64(float64(origin) * d.uniform(d.realism.OriginFailRate)))

	rec := models.MetricRecord{
		BandwidthMbps:  int64(bandwidthGbps * 1024),
		Flux:           flux,
		OriginFlux:     originFlux,
		HitFlux:        flux - originFlux,
		Requests:       requests,
		Hits:           hits,
		OriginRequests: origin,
		OriginFailures: failures,
	}
	if intervalSeconds > 0 {
		rec.OriginBandwidthMbps = int64(float64(originFlux) * 8 / float64(intervalSeconds) / 1024 / 1024)
	}

	rec.HTTP2xx, rec.HTTP3xx, rec.HTTP4xx, rec.HTTP5xx = d.histogram(requests, clientShares)
	if origin > 0 {
		rec.OriginHTTP2xx, rec.OriginHTTP3xx, rec.OriginHTTP4xx, rec.OriginHTTP5xx = d.histogram(origin, originShares)
	}

	return rec
}

// histogram splits total into 2xx/3xx/4xx/5xx; 5xx takes the clamped remainder
func (d *Derivator) histogram(total int64, shares statusShares) (ok, redirect, clientErr, serverErr int64) {
	n := float64(total)
	ok = int64(n * d.uniform(shares.ok))
	clientErr = int64(n * d.uniform(shares.clientErr))
	redirect = int64(n * d.uniform(shares.redirect))
	serverErr = utils.NonNegative(total - ok - clientErr - redirect)
	return ok, redirect, clientErr, serverErr
}

func (d *Derivator) uniform(r config.Range) float64 {
	return d.rng.UniformFloat64(r.Low(), r.High())
}
