package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/parcel-query/internal/dataset"
)

// Series types.
const (
	SeriesS2  = "s2"
	SeriesBS  = "bs"
	SeriesC6  = "c6"
	SeriesC1  = "c1"
	SeriesSCL = "scl"
)

// seriesBands is the fixed band set each series type is filtered to. Series
// types not listed here are returned unfiltered.
var seriesBands = map[string][]string{
	SeriesS2: {"B02", "B03", "B04", "B05", "B08", "B11", "B2", "B3", "B4", "B5", "B8", "SC"},
	SeriesBS: {"VVb", "VHb"},
	SeriesC6: {"VVc", "VHc"},
	SeriesC1: {"VVc", "VHc"},
}

// SeriesBands returns the band set for a series type, or nil if unfiltered.
func SeriesBands(seriesType string) []string {
	bands := seriesBands[strings.ToLower(seriesType)]
	if bands == nil {
		return nil
	}
	out := make([]string, len(bands))
	copy(out, bands)
	return out
}

// TimeSeriesOptions selects the signature table and optional columns of a
// parcel time series.
type TimeSeriesOptions struct {
	PType string
	// Type is the signature table role: s2, bs, c6 or c1.
	Type string
	// Band limits the series to a single band when set.
	Band string
	// SCL joins the per-observation SCL histogram.
	SCL bool
	// Reference adds the catalog reference of each observation.
	Reference bool
}

// ParcelTimeSeries returns the signature statistics of a parcel ordered by
// observation time and band.
func (s *Service) ParcelTimeSeries(ctx context.Context, ds *dataset.Dataset, pid string, opts TimeSeriesOptions) (*Result, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	seriesType := strings.ToLower(opts.Type)
	if seriesType == "" {
		seriesType = SeriesS2
	}

	parcels, err := ds.TableIdent(dataset.TableParcels, opts.PType)
	if err != nil {
		return nil, err
	}
	sigs, err := ds.TableIdent(seriesType, "")
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

	var (
		selectExtra []string
		fromExtra   string
		where       []string
		args        = []any{pid}
	)

	if opts.SCL {
		hists, err := ds.TableIdent(dataset.TableSCL, "")
		if err != nil {
			return nil, err
		}
		selectExtra = append(selectExtra, "h.hist")
		fromExtra = fmt.Sprintf(", %s h", hists)
		where = append(where, "s.pid = h.pid AND s.obsid = h.obsid")
	}
	if opts.Reference {
		selectExtra = append(selectExtra, "d.reference")
	}
	if opts.Band != "" {
		args = append(args, opts.Band)
		where = append(where, fmt.Sprintf("s.band = $%d", len(args)))
	}
	if bands := seriesBands[seriesType]; bands != nil {
		args = append(args, bands)
		where = append(where, fmt.Sprintf("s.band = ANY($%d)", len(args)))
	}

	sql := fmt.Sprintf(`
		SELECT extract('epoch' FROM d.obstime)::double precision AS date_part, s.band,
			s.count, s.mean, s.std, s.min, s.p25, s.p50, s.p75, s.max%s
		FROM %s p, %s s, %s d%s
		WHERE p.ogc_fid = s.pid
			AND p.%s = $1
			AND s.obsid = d.id%s
		ORDER BY d.obstime, s.band ASC`,
		prefixJoin(", ", selectExtra),
		parcels, sigs, catalog, fromExtra,
		pidCol, prefixJoin("\n\t\t\tAND ", where))

	return s.run(ctx, ds, "parcel_time_series", sql, args...)
}

// ParcelWeatherTS returns the daily weather series of a parcel. With an env
// table configured the parcel-to-grid mapping is read from it; otherwise the
// grid cell containing the parcel centroid is used.
func (s *Service) ParcelWeatherTS(ctx context.Context, ds *dataset.Dataset, pid, ptype string) (*Result, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	parcels, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return nil, err
	}
	pidCol, err := ds.ColumnIdent(dataset.ColumnParcelID)
	if err != nil {
		return nil, err
	}

	var sql string
	if ds.HasTable(dataset.TableEnv) {
		env, err := ds.TableIdent(dataset.TableEnv, "")
		if err != nil {
			return nil, err
		}
		sql = fmt.Sprintf(`
			SELECT TO_CHAR(meteo_date, 'YYYY-MM-DD') AS meteo_date,
				tmin, tmax, tmean, prec
			FROM %s e, %s p, public.era5_data, public.era5_grid
			WHERE p.%s = $1
				AND e.grid_id = era5_grid.grid_id
				AND era5_grid.grid_id = era5_data.grid_id
				AND e.pid = p.ogc_fid
			ORDER BY meteo_date`,
			env, parcels, pidCol)
	} else {
		sql = fmt.Sprintf(`
			SELECT TO_CHAR(meteo_date, 'YYYY-MM-DD') AS meteo_date,
				tmin, tmax, tmean, prec
			FROM %s p, public.era5_grid, public.era5_data
			WHERE p.%s = $1
				AND era5_grid.grid_id = era5_data.grid_id
				AND ST_Intersects(geom_cell, ST_Transform(ST_Centroid(p.wkb_geometry), 4326))
			ORDER BY meteo_date`,
			parcels, pidCol)
	}

	return s.run(ctx, ds, "parcel_weather_ts", sql, pid)
}

// ParcelSCL returns the SCL histogram of every observation of a parcel,
// ordered by observation id.
func (s *Service) ParcelSCL(ctx context.Context, ds *dataset.Dataset, pid, ptype string) (*Result, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	parcels, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return nil, err
	}
	hists, err := ds.TableIdent(dataset.TableSCL, "")
	if err != nil {
		return nil, err
	}
	pidCol, err := ds.ColumnIdent(dataset.ColumnParcelID)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT h.obsid, h.hist
		FROM %s h, %s p
		WHERE h.pid = p.ogc_fid
			AND p.%s = $1
		ORDER BY h.obsid ASC`,
		hists, parcels, pidCol)

	return s.run(ctx, ds, "parcel_scl", sql, pid)
}

func prefixJoin(sep string, parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return sep + strings.Join(parts, sep)
}
