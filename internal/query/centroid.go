package query

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/parcel-query/internal/dataset"
)

// tableCentroidSample is how many parcels TableCentroid unions.
const tableCentroidSample = 100

// ParcelCentroid returns the parcel centroid in EPSG:4326 as (lon, lat).
// An unknown parcel yields ErrNotFound.
func (s *Service) ParcelCentroid(ctx context.Context, ds *dataset.Dataset, pid, ptype string) ([2]float64, error) {
	if pid == "" {
		return [2]float64{}, invalidArg("parcel id is required")
	}
	parcels, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return [2]float64{}, err
	}
	pidCol, err := ds.ColumnIdent(dataset.ColumnParcelID)
	if err != nil {
		return [2]float64{}, err
	}

	sql := fmt.Sprintf(`
		SELECT ST_AsGeoJSON(ST_Transform(ST_Centroid(wkb_geometry), 4326))
		FROM %s
		WHERE %s = $1
		LIMIT 1`,
		parcels, pidCol)

	var doc string
	if err := s.scanOne(ctx, ds, "parcel_centroid", sql, []any{pid}, &doc); err != nil {
		return [2]float64{}, err
	}
	return DecodePoint(doc)
}

// DecodePoint decodes a GeoJSON point into its first two coordinates.
func DecodePoint(doc string) ([2]float64, error) {
	var g geom.T
	if err := geojson.Unmarshal([]byte(doc), &g); err != nil {
		return [2]float64{}, eris.Wrap(err, "query: decode centroid")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return [2]float64{}, eris.Errorf("query: centroid is a %T, not a point", g)
	}
	return [2]float64{pt.X(), pt.Y()}, nil
}

// PolygonCentroid returns the parcel centroid ("center") and outline
// ("polygon") as EPSG:4326 GeoJSON text.
func (s *Service) PolygonCentroid(ctx context.Context, ds *dataset.Dataset, pid, ptype string) (*Result, error) {
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

	sql := fmt.Sprintf(`
		SELECT ST_AsGeoJSON(ST_Transform(ST_Centroid(wkb_geometry), 4326)) AS center,
			ST_AsGeoJSON(ST_Transform(wkb_geometry, 4326)) AS polygon
		FROM %s
		WHERE %s = $1
		LIMIT 1`,
		parcels, pidCol)

	return s.run(ctx, ds, "polygon_centroid", sql, pid)
}

// TableCentroid returns a representative point ("center", EPSG:4326 GeoJSON)
// of the first parcels of the table.
func (s *Service) TableCentroid(ctx context.Context, ds *dataset.Dataset, ptype string) (*Result, error) {
	parcels, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT ST_AsGeoJSON(ST_Transform(ST_PointOnSurface(ST_Union(geom)), 4326)) AS center
		FROM (SELECT wkb_geometry FROM %s LIMIT %d) AS t(geom)`,
		parcels, tableCentroidSample)

	return s.run(ctx, ds, "table_centroid", sql)
}
