package query

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sells-group/parcel-query/internal/dataset"
)

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// PIDs returns up to limit parcel ids. With random set the ids come from a
// 0.1% block sample of the table instead of its head.
func (s *Service) PIDs(ctx context.Context, ds *dataset.Dataset, limit int, ptype string, random bool) ([]string, error) {
	if limit <= 0 {
		return nil, invalidArg("limit must be positive, got %d", limit)
	}
	parcels, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return nil, err
	}
	pidCol, err := ds.ColumnIdent(dataset.ColumnParcelID)
	if err != nil {
		return nil, err
	}

	sample := ""
	if random {
		sample = " TABLESAMPLE SYSTEM(0.1)"
	}

	sql := fmt.Sprintf(`SELECT %s::text AS pids FROM %s%s LIMIT $1`, pidCol, parcels, sample)

	res, err := s.run(ctx, ds, "pids", sql, limit)
	if err != nil {
		return nil, err
	}
	return res.Strings(0), nil
}

// Markers returns the signal markers of a parcel from the {aoi}.markers_{year}
// table.
func (s *Service) Markers(ctx context.Context, ds *dataset.Dataset, aoi, year, pid string) (*Result, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	if !yearPattern.MatchString(year) {
		return nil, invalidArg("year %q", year)
	}
	table, err := dataset.QuoteIdent(aoi, "markers_"+year)
	if err != nil {
		return nil, invalidArg("markers table for aoi %q: %v", aoi, err)
	}
	pidCol, err := ds.ColumnIdent(dataset.ColumnParcelID)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT foi_id, marker, marker_type, date_start::text,
			date_main::text, date_end::text, duration_days,
			value_1, value_2, value_3, pid, practice
		FROM %s
		WHERE %s = $1`,
		table, pidCol)

	return s.run(ctx, ds, "markers", sql, pid)
}
