package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
	"github.com/GoSim-25-26J-441/cdnsim/pkg/utils"
)

const logColumns = `start_time, tenant_id, domain, country, region, interval,
	bw, flux, bs_bw, bs_flux, req_num, hit_num, bs_num, bs_fail_num, hit_flux,
	http_code_2xx, http_code_3xx, http_code_4xx, http_code_5xx,
	bs_http_code_2xx, bs_http_code_3xx, bs_http_code_4xx, bs_http_code_5xx`

const insertLogSQL = `INSERT OR IGNORE INTO cdn_logs (entry_key, ` + logColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Filter restricts log queries. Zero Start/End leave that bound open; End is inclusive.
type Filter struct {
	Start  int64
	End    int64
	Domain string
	Limit  int
	Offset int
}

// where renders the filter as a WHERE clause; domain is skipped when withDomain is false
func (f Filter) where(withDomain bool) (string, []any) {
	var conds []string
	var args []any
	if f.Start > 0 {
		conds = append(conds, "start_time >= ?")
		args = append(args, f.Start)
	}
	if f.End > 0 {
		conds = append(conds, "start_time <= ?")
		args = append(args, f.End)
	}
	if withDomain && f.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, f.Domain)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// InsertLogs writes entries in one transaction. Entries whose slot
// (tenant, start time, country, region, domain) is already stored are
// skipped, so re-running a window is idempotent. Returns the number of rows inserted.
func (s *Store) InsertLogs(ctx context.Context, entries []models.LogEntry) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertLogSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range entries {
		e := &entries[i]
		res, err := stmt.ExecContext(ctx,
			utils.EntryKey(e.TenantID, e.StartTime, e.Country, e.Region, e.Domain),
			e.StartTime, e.TenantID, e.Domain, e.Country, e.Region, e.Interval,
			e.BandwidthMbps, e.Flux, e.OriginBandwidthMbps, e.OriginFlux,
			e.Requests, e.Hits, e.OriginRequests, e.OriginFailures, e.HitFlux,
			e.HTTP2xx, e.HTTP3xx, e.HTTP4xx, e.HTTP5xx,
			e.OriginHTTP2xx, e.OriginHTTP3xx, e.OriginHTTP4xx, e.OriginHTTP5xx,
		)
		if err != nil {
			return 0, fmt.Errorf("insert entry %d: %w", i, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert entry %d: %w", i, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}

	s.logger.Debug("Inserted logs", "inserted", inserted, "skipped", len(entries)-inserted)
	return inserted, nil
}

// QueryLogs returns entries matching f ordered by start time
func (s *Store) QueryLogs(ctx context.Context, f Filter) ([]models.LogEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	where, args := f.where(true)
	query := "SELECT " + logColumns + " FROM cdn_logs" + where + " ORDER BY start_time ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(
			&e.StartTime, &e.TenantID, &e.Domain, &e.Country, &e.Region, &e.Interval,
			&e.BandwidthMbps, &e.Flux, &e.OriginBandwidthMbps, &e.OriginFlux,
			&e.Requests, &e.Hits, &e.OriginRequests, &e.OriginFailures, &e.HitFlux,
			&e.HTTP2xx, &e.HTTP3xx, &e.HTTP4xx, &e.HTTP5xx,
			&e.OriginHTTP2xx, &e.OriginHTTP3xx, &e.OriginHTTP4xx, &e.OriginHTTP5xx,
		); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return out, nil
}

// TimeRange returns the earliest and latest start times; ok is false when the store is empty
func (s *Store) TimeRange(ctx context.Context) (minMs, maxMs int64, ok bool, err error) {
	if err := s.check(); err != nil {
		return 0, 0, false, err
	}
	var lo, hi sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(start_time), MAX(start_time) FROM cdn_logs").Scan(&lo, &hi); err != nil {
		return 0, 0, false, fmt.Errorf("query time range: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// Domains returns the distinct domains in alphabetical order
func (s *Store) Domains(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT domain FROM cdn_logs ORDER BY domain")
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count returns the number of stored entries
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cdn_logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

// Clear deletes every stored entry
func (s *Store) Clear(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM cdn_logs")
	if err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("Cleared logs", "deleted", n)
	return nil
}
