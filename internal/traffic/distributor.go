package traffic

import (
	"time"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/config"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

// Distributor splits an aggregate record into one log entry per region
type Distributor struct {
	dims     config.Dimensions
	interval int
	rng      *utils.RandSource
}

// NewDistributor creates a distributor for the configured dimensions
func NewDistributor(dims config.Dimensions, intervalSeconds int, rng *utils.RandSource) *Distributor {
	return &Distributor{dims: dims, interval: intervalSeconds, rng: rng}
}

// Distribute returns one entry per region, each scaled by weight*U[0.9,1.1]
// and tagged with a uniformly chosen domain. The entries are a plausible
// partition of rec, not an exact one.
func (d *Distributor) Distribute(rec models.MetricRecord, ts time.Time) []models.LogEntry {
	entries := make([]models.LogEntry, 0, len(d.dims.Regions))
	startMs := ts.UnixMilli()

	for _, region := range d.dims.Regions {
		w := region.Weight * d.rng.UniformFloat64(0.9, 1.1)
		entries = append(entries, models.LogEntry{
			TenantID:     d.dims.TenantID,
			StartTime:    startMs,
			Country:      region.Country,
			Region:       region.Region,
			Domain:       utils.Choice(d.rng, d.dims.Domains),
			Interval:     d.interval,
			MetricRecord: rec.Scaled(w),
		})
	}

	return entries
}
