package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/parcel-query/internal/dataset"
)

// MinPeerArea is the smallest parcel area, in m² of EPSG:3035, a peer may have.
const MinPeerArea = 3000.0

// DefaultStatsPeers is the peer cap used when StatsPeersOptions.MaxPeers is 0.
const DefaultStatsPeers = 100

// signatureStats are the per-band statistic columns of a signature table.
var signatureStats = map[string]bool{
	"count": true, "mean": true, "std": true, "min": true,
	"p25": true, "p50": true, "p75": true, "max": true,
}

// ParcelPeers returns up to maxPeers parcels with the same crop as pid lying
// within distance metres, nearest first. Parcels below MinPeerArea are
// excluded.
func (s *Service) ParcelPeers(ctx context.Context, ds *dataset.Dataset, pid string, distance float64, maxPeers int, ptype string) (*Result, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	if distance < 0 {
		return nil, invalidArg("distance must not be negative, got %v", distance)
	}
	if maxPeers <= 0 {
		return nil, invalidArg("max peers must be positive, got %d", maxPeers)
	}

	pt, err := resolveParcelTable(ds, ptype)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		WITH current_parcel AS (
			SELECT %[2]s AS crop, ST_Transform(wkb_geometry, 3035) AS geom
			FROM %[1]s
			WHERE %[3]s = $1)
		SELECT %[3]s::text AS pids,
			ST_Distance(ST_Transform(wkb_geometry, 3035),
				(SELECT geom FROM current_parcel)) AS distance
		FROM %[1]s
		WHERE %[2]s = (SELECT crop FROM current_parcel)
			AND %[3]s != $1
			AND ST_DWithin(ST_Transform(wkb_geometry, 3035),
				(SELECT geom FROM current_parcel), $2)
			AND ST_Area(ST_Transform(wkb_geometry, 3035)) > %[4]s
		ORDER BY distance ASC
		LIMIT $3`,
		pt.table, pt.cropName, pt.pid, strconv.FormatFloat(MinPeerArea, 'f', 1, 64))

	return s.run(ctx, ds, "parcel_peers", sql, pid, distance, maxPeers)
}

// ValueRange is a statistic filter: an inclusive range or an exact value.
type ValueRange struct {
	Min     float64
	Max     float64
	IsRange bool
}

// ParseValueRange parses "X-Y" as the inclusive range [X, Y] and anything
// else as the exact value. Negative bounds are allowed ("-10--5").
func ParseValueRange(s string) (ValueRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ValueRange{}, invalidArg("value is required")
	}

	for i := 1; i < len(s); i++ {
		if s[i] != '-' {
			continue
		}
		prev := s[i-1]
		if prev == '-' || prev == 'e' || prev == 'E' {
			continue
		}
		lo, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return ValueRange{}, invalidArg("value range lower bound %q", s[:i])
		}
		hi, err := strconv.ParseFloat(s[i+1:], 64)
		if err != nil {
			return ValueRange{}, invalidArg("value range upper bound %q", s[i+1:])
		}
		if lo > hi {
			return ValueRange{}, invalidArg("value range %q is inverted", s)
		}
		return ValueRange{Min: lo, Max: hi, IsRange: true}, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ValueRange{}, invalidArg("value %q", s)
	}
	return ValueRange{Min: v, Max: v}, nil
}

// predicate renders the filter on column, binding its bounds after the
// existing args.
func (v ValueRange) predicate(column string, args []any) (string, []any) {
	if v.IsRange {
		args = append(args, v.Min, v.Max)
		return fmt.Sprintf("%s BETWEEN $%d AND $%d", column, len(args)-1, len(args)), args
	}
	args = append(args, v.Min)
	return fmt.Sprintf("%s = $%d", column, len(args)), args
}

// StatsPeersOptions selects parcels by a signature statistic.
type StatsPeersOptions struct {
	PType     string
	StartDate string
	EndDate   string
	Band      string
	// Stat is the statistic column: count, mean, std, min, p25, p50, p75 or max.
	Stat string
	// Value is an exact value or an "X-Y" range, see ParseValueRange.
	Value    string
	MaxPeers int
}

// ParcelStatsPeers returns the ids of parcels whose S2 signature statistic
// for the band matches the value within the date range. Both dates are
// inclusive whole days.
func (s *Service) ParcelStatsPeers(ctx context.Context, ds *dataset.Dataset, opts StatsPeersOptions) ([]string, error) {
	stat := strings.ToLower(opts.Stat)
	if !signatureStats[stat] {
		return nil, invalidArg("unknown statistic %q", opts.Stat)
	}
	if opts.Band == "" {
		return nil, invalidArg("band is required")
	}
	vr, err := ParseValueRange(opts.Value)
	if err != nil {
		return nil, err
	}
	start, err := parseDate(opts.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate(opts.EndDate)
	if err != nil {
		return nil, err
	}
	end = end.Add(24*time.Hour - time.Second)
	maxPeers := opts.MaxPeers
	if maxPeers <= 0 {
		maxPeers = DefaultStatsPeers
	}

	parcels, err := ds.TableIdent(dataset.TableParcels, opts.PType)
	if err != nil {
		return nil, err
	}
	sigs, err := ds.TableIdent(dataset.TableS2, "")
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

	args := []any{opts.Band}
	valueSQL, args := vr.predicate("s."+stat, args)
	args = append(args, start, end, maxPeers)
	n := len(args)

	sql := fmt.Sprintf(`
		SELECT p.%[1]s::text AS pids
		FROM %[2]s s, %[3]s p, %[4]s d
		WHERE s.obsid = d.id AND p.ogc_fid = s.pid
			AND s.band = $1
			AND %[5]s
			AND d.obstime BETWEEN $%[6]d AND $%[7]d
		GROUP BY p.%[1]s
		LIMIT $%[8]d`,
		pidCol, sigs, parcels, catalog, valueSQL, n-2, n-1, n)

	res, err := s.run(ctx, ds, "parcel_stats_peers", sql, args...)
	if err != nil {
		return nil, err
	}
	return res.Strings(0), nil
}
