package query

import (
	"context"
	"fmt"
	"math"

	"github.com/sells-group/parcel-query/internal/dataset"
)

// MaxPolygonParcels caps the rows returned by ParcelsByPolygon.
const MaxPolygonParcels = 100

// ParcelOptions selects the parcel table variant and the geometry output.
type ParcelOptions struct {
	PType        string
	WithGeometry bool
	// WGS84 reprojects the returned geometry to EPSG:4326.
	WGS84 bool
	// OnlyIDs restricts ParcelsByPolygon to the identifier (and geometry).
	OnlyIDs bool
}

// parcelTable bundles the identifiers every parcel query needs.
type parcelTable struct {
	table    string
	pid      string
	cropName string
	cropCode string
}

func resolveParcelTable(ds *dataset.Dataset, ptype string) (parcelTable, error) {
	var (
		pt  parcelTable
		err error
	)
	if pt.table, err = ds.TableIdent(dataset.TableParcels, ptype); err != nil {
		return pt, err
	}
	if pt.pid, err = ds.ColumnIdent(dataset.ColumnParcelID); err != nil {
		return pt, err
	}
	if pt.cropName, err = ds.ColumnIdent(dataset.ColumnCropName); err != nil {
		return pt, err
	}
	if pt.cropCode, err = ds.ColumnIdent(dataset.ColumnCropCode); err != nil {
		return pt, err
	}
	return pt, nil
}

func geometrySelect(opts ParcelOptions) string {
	switch {
	case !opts.WithGeometry:
		return ""
	case opts.WGS84:
		return ", ST_AsGeoJSON(ST_Transform(wkb_geometry, 4326)) AS geom"
	default:
		return ", ST_AsGeoJSON(wkb_geometry) AS geom"
	}
}

// parcelColumns is the select list shared by the parcel lookups. Area is
// measured in EPSG:3035 and truncated to an integer; the centroid is
// reported in EPSG:4326.
func (pt parcelTable) parcelColumns(opts ParcelOptions) string {
	return fmt.Sprintf(`%s::text AS pid, %s AS cropname, %s::text AS cropcode,
			ST_SRID(wkb_geometry) AS srid%s,
			ST_Area(ST_Transform(wkb_geometry, 3035))::integer AS area,
			ST_X(ST_Transform(ST_Centroid(wkb_geometry), 4326)) AS clon,
			ST_Y(ST_Transform(ST_Centroid(wkb_geometry), 4326)) AS clat`,
		pt.pid, pt.cropName, pt.cropCode, geometrySelect(opts))
}

// tableSRID is a scalar subquery yielding the SRID of the table's geometries.
func (pt parcelTable) tableSRID() string {
	return fmt.Sprintf("(SELECT ST_SRID(wkb_geometry) FROM %s LIMIT 1)", pt.table)
}

// ParcelByLocation returns the parcels whose geometry contains the WGS84
// point (lon, lat). The point is reprojected to the table's SRID.
func (s *Service) ParcelByLocation(ctx context.Context, ds *dataset.Dataset, lon, lat float64, opts ParcelOptions) (*Result, error) {
	if err := validateLonLat(lon, lat); err != nil {
		return nil, err
	}
	pt, err := resolveParcelTable(ds, opts.PType)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ST_Intersects(wkb_geometry,
			ST_Transform(ST_SetSRID(ST_MakePoint($1, $2), 4326), %s))`,
		pt.parcelColumns(opts), pt.table, pt.tableSRID())

	return s.run(ctx, ds, "parcel_by_location", sql, lon, lat)
}

// ParcelByID returns the parcel with the given identifier.
func (s *Service) ParcelByID(ctx context.Context, ds *dataset.Dataset, pid string, opts ParcelOptions) (*Result, error) {
	if pid == "" {
		return nil, invalidArg("parcel id is required")
	}
	pt, err := resolveParcelTable(ds, opts.PType)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s = $1`,
		pt.parcelColumns(opts), pt.table, pt.pid)

	return s.run(ctx, ds, "parcel_by_id", sql, pid)
}

// ParcelsByPolygon returns up to MaxPolygonParcels parcels intersecting the
// WGS84 polygon given by its vertices.
func (s *Service) ParcelsByPolygon(ctx context.Context, ds *dataset.Dataset, vertices [][2]float64, opts ParcelOptions) (*Result, error) {
	polygon, err := PolygonWKT(vertices)
	if err != nil {
		return nil, err
	}
	pt, err := resolveParcelTable(ds, opts.PType)
	if err != nil {
		return nil, err
	}

	columns := pt.parcelColumns(opts)
	if opts.OnlyIDs {
		columns = fmt.Sprintf("%s::text AS pid%s", pt.pid, geometrySelect(opts))
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ST_Intersects(wkb_geometry,
			ST_Transform(ST_GeomFromText($1, 4326), %s))
		LIMIT %d`,
		columns, pt.table, pt.tableSRID(), MaxPolygonParcels)

	return s.run(ctx, ds, "parcels_by_polygon", sql, polygon)
}

// SRID returns the spatial reference id of the parcels table geometries.
func (s *Service) SRID(ctx context.Context, ds *dataset.Dataset, ptype string) (int, error) {
	table, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`SELECT ST_SRID(wkb_geometry) FROM %s LIMIT 1`, table)

	var srid int32
	if err := s.scanOne(ctx, ds, "srid", sql, nil, &srid); err != nil {
		return 0, err
	}
	return int(srid), nil
}

func validateLonLat(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return invalidArg("coordinates out of range: (%v, %v)", lon, lat)
	}
	return nil
}
