package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

const rule = "============================================================"

// WriteReport renders a validation report for terminals
func WriteReport(w io.Writer, r *models.ValidationReport) error {
	v := r.Validation
	status := "PASSED"
	if !v.Passed {
		status = "FAILED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nBandwidth validation report\n%s\n", rule, rule)
	fmt.Fprintf(&b, "\nResult: %s\n", status)
	fmt.Fprintf(&b, "  Target:          %.2f Gbps\n", v.TargetGbps)
	fmt.Fprintf(&b, "  Billed (day p95): %.2f Gbps (deviation %.2f%%)\n", v.BilledGbps, v.DeviationPercent)
	fmt.Fprintf(&b, "  Average:         %.2f Gbps (deviation %.2f%%)\n", v.ActualAvgGbps, v.AvgDeviationPercent)
	fmt.Fprintf(&b, "  P95:             %.2f Gbps\n", v.ActualP95Gbps)
	// Gbps * 86400s / 8 = GB per day
	fmt.Fprintf(&b, "  Daily volume:    %.2f TB\n", v.ActualAvgGbps*86400/8/1024)

	o := r.Overall
	fmt.Fprintf(&b, "\nOverall\n")
	fmt.Fprintf(&b, "  Points: %d\n", o.TotalPoints)
	fmt.Fprintf(&b, "  Min/Avg/Max: %.2f / %.2f / %.2f Gbps\n", o.Min, o.Avg, o.Max)
	fmt.Fprintf(&b, "  P50/P95/P99: %.2f / %.2f / %.2f Gbps\n", o.P50, o.P95, o.P99)
	fmt.Fprintf(&b, "\nTop 5%% (unbilled)\n")
	fmt.Fprintf(&b, "  Count: %d, range %.2f - %.2f Gbps, avg %.2f Gbps\n",
		o.TopPercent.Count, o.TopPercent.Min, o.TopPercent.Max, o.TopPercent.Avg)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	if err := writeGroup(w, "By region", r.ByRegion); err != nil {
		return err
	}
	if err := writeGroup(w, "By domain", r.ByDomain); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, rule)
	return err
}

func writeGroup(w io.Writer, title string, groups map[string]models.Stats) error {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "\n%s\n", title)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tP95\tAVG\tMAX")
	for _, k := range keys {
		s := groups[k]
		fmt.Fprintf(tw, "  %s\t%.2f\t%.2f\t%.2f\n", k, s.P95, s.Avg, s.Max)
	}
	return tw.Flush()
}

// WriteBillingReport renders a billing estimate for terminals
func WriteBillingReport(w io.Writer, e *models.BillingEstimate) error {
	verdict := "95th percentile billing is cheaper"
	if e.Saving < 0 {
		verdict = "volume billing is cheaper"
	}

	_, err := fmt.Fprintf(w, `
%s
Billing estimate
%s
  Billed bandwidth (P95): %.2f Gbps
  Unit price:             %.2f per Gbps
  Monthly cost:           %.2f

  Total volume:           %.2f GB (%.2f TB)
  Volume price:           %.2f per GB
  Volume cost:            %.2f

  Saving:                 %.2f (%.1f%%), %s
%s
`, rule, rule,
		e.P95BandwidthGbps, e.UnitPrice, e.MonthlyCost,
		e.TotalFluxGB, e.TotalFluxGB/1024, e.FluxUnitPrice, e.FluxCost,
		e.Saving, e.SavingPercent, verdict, rule)
	return err
}

// WriteSummary renders the generation summary
func WriteSummary(w io.Writer, s models.StatsSummary) error {
	_, err := fmt.Fprintf(w, `
Generation summary
  Points:      %d
  P50/P95/P99: %.2f / %.2f / %.2f Gbps
  Min/Avg/Max: %.2f / %.2f / %.2f Gbps
  Total flux:  %.2f TB
`, s.TotalPoints, s.P50Gbps, s.P95Gbps, s.P99Gbps, s.MinGbps, s.AvgGbps, s.MaxGbps, s.TotalFluxTB)
	return err
}
