package storage

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

// DefaultBucketMs is the time bucket used when none is given
const DefaultBucketMs = 300_000

// Summary holds totals over a time range
type Summary struct {
	TotalRecords        int64 `json:"total_records"`
	DomainCount         int64 `json:"domain_count"`
	TotalBandwidthMbps  int64 `json:"total_bw"`
	TotalFlux           int64 `json:"total_flux"`
	TotalRequests       int64 `json:"total_requests"`
	TotalHits           int64 `json:"total_hits"`
	TotalOrigin         int64 `json:"total_bs"`
	TotalOriginFailures int64 `json:"total_bs_fail"`
}

// HitRate returns hits/requests, 0 without requests
func (s Summary) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalHits) / float64(s.TotalRequests)
}

// TimeBucket is the sum of every metric field over one time bucket
type TimeBucket struct {
	TimeBucket int64 `json:"time_bucket"`
	models.MetricRecord
}

// BandwidthGbps returns the bucket's summed bandwidth in Gbps
func (b TimeBucket) BandwidthGbps() float64 {
	return float64(b.BandwidthMbps) / 1024
}

// DomainAggregate ranks one domain by transferred volume
type DomainAggregate struct {
	Domain        string  `json:"domain"`
	TotalFlux     int64   `json:"total_flux"`
	TotalRequests int64   `json:"total_requests"`
	AvgHitRate    float64 `json:"avg_hit_rate"` // percent
}

// Summary returns totals for entries with start time in [startMs, endMs]; zero bounds are open
func (s *Store) Summary(ctx context.Context, startMs, endMs int64) (Summary, error) {
	if err := s.check(); err != nil {
		return Summary{}, err
	}
	where, args := Filter{Start: startMs, End: endMs}.where(false)
	query := `SELECT
		COUNT(*),
		COUNT(DISTINCT domain),
		COALESCE(SUM(bw), 0),
		COALESCE(SUM(flux), 0),
		COALESCE(SUM(req_num), 0),
		COALESCE(SUM(hit_num), 0),
		COALESCE(SUM(bs_num), 0),
		COALESCE(SUM(bs_fail_num), 0)
	FROM cdn_logs` + where

	var sum Summary
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sum.TotalRecords, &sum.DomainCount, &sum.TotalBandwidthMbps, &sum.TotalFlux,
		&sum.TotalRequests, &sum.TotalHits, &sum.TotalOrigin, &sum.TotalOriginFailures,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}
	return sum, nil
}

// AggregateByTime sums every metric per bucket of bucketMs (DefaultBucketMs
// when not positive). Limit and Offset of f are ignored.
func (s *Store) AggregateByTime(ctx context.Context, f Filter, bucketMs int64) ([]TimeBucket, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if bucketMs <= 0 {
		bucketMs = DefaultBucketMs
	}

	where, args := f.where(true)
	query := `SELECT
		(start_time / ?) * ? AS time_bucket,
		SUM(bw), SUM(flux), SUM(bs_bw), SUM(bs_flux),
		SUM(req_num), SUM(hit_num), SUM(bs_num), SUM(bs_fail_num), SUM(hit_flux),
		SUM(http_code_2xx), SUM(http_code_3xx), SUM(http_code_4xx), SUM(http_code_5xx),
		SUM(bs_http_code_2xx), SUM(bs_http_code_3xx), SUM(bs_http_code_4xx), SUM(bs_http_code_5xx)
	FROM cdn_logs` + where + " GROUP BY time_bucket ORDER BY time_bucket"

	rows, err := s.db.QueryContext(ctx, query, append([]any{bucketMs, bucketMs}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by time: %w", err)
	}
	defer rows.Close()

	var out []TimeBucket
	for rows.Next() {
		var b TimeBucket
		if err := rows.Scan(
			&b.TimeBucket,
			&b.BandwidthMbps, &b.Flux, &b.OriginBandwidthMbps, &b.OriginFlux,
			&b.Requests, &b.Hits, &b.OriginRequests, &b.OriginFailures, &b.HitFlux,
			&b.HTTP2xx, &b.HTTP3xx, &b.HTTP4xx, &b.HTTP5xx,
			&b.OriginHTTP2xx, &b.OriginHTTP3xx, &b.OriginHTTP4xx, &b.OriginHTTP5xx,
		); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return out, nil
}

// AggregateByDomain returns the top limit domains by flux (10 when not positive)
func (s *Store) AggregateByDomain(ctx context.Context, startMs, endMs int64, limit int) ([]DomainAggregate, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	where, args := Filter{Start: startMs, End: endMs}.where(false)
	query := `SELECT
		domain,
		SUM(flux) AS total_flux,
		SUM(req_num),
		AVG(CASE WHEN req_num > 0 THEN hit_num * 100.0 / req_num ELSE 0 END)
	FROM cdn_logs` + where + " GROUP BY domain ORDER BY total_flux DESC, domain ASC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by domain: %w", err)
	}
	defer rows.Close()

	var out []DomainAggregate
	for rows.Next() {
		var d DomainAggregate
		if err := rows.Scan(&d.Domain, &d.TotalFlux, &d.TotalRequests, &d.AvgHitRate); err != nil {
			return nil, fmt.Errorf("scan domain aggregate: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain aggregates: %w", err)
	}
	return out, nil
}
