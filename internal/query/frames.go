package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/parcel-query/internal/dataset"
)

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date ("2020-06-01") or an RFC 3339 timestamp,
// truncated to midnight UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, invalidArg("date %q, want YYYY-MM-DD", s)
}

// FrameWindow turns an inclusive [start, end] date range into the half-open
// interval [start 00:00, day after end 00:00).
func FrameWindow(start, end string) (time.Time, time.Time, error) {
	from, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to = to.AddDate(0, 0, 1)
	if !from.Before(to) {
		return time.Time{}, time.Time{}, invalidArg("start %s is after end %s", start, end)
	}
	return from, to, nil
}

// S2Frames returns the references of the Sentinel-2 catalog entries whose
// footprint intersects the parcel within the date range, oldest first.
func (s *Service) S2Frames(ctx context.Context, ds *dataset.Dataset, pid, start, end, ptype string) ([]string, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	from, to, err := FrameWindow(start, end)
	if err != nil {
		return nil, err
	}

	parcels, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return nil, err
	}
	catalog, err := ds.TableIdent(dataset.TableDIASCatalog, "")
	if err != nil {
		return nil, err
	}
	pidCol, err := ds.ColumnIdent(dataset.ColumnParcelID)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT reference, obstime, status
		FROM %s, %s
		WHERE card = 's2'
			AND footprint && ST_Transform(wkb_geometry, 4326)
			AND %s = $1
			AND obstime >= $2 AND obstime < $3
		ORDER BY obstime ASC`,
		catalog, parcels, pidCol)

	res, err := s.run(ctx, ds, "s2_frames", sql, pid, from, to)
	if err != nil {
		return nil, err
	}
	return res.Strings(0), nil
}
