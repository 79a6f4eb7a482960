// Package tiles renders the parcels of a dataset as Mapbox Vector Tiles.
package tiles

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/query"
)

// LayerName is the MVT layer parcels are encoded into.
const LayerName = "parcels"

const contentType = "application/vnd.mapbox-vector-tile"

// Generate renders tile z/x/y of the dataset's parcels table. Geometries are
// reprojected to EPSG:3857; each feature carries the parcel id, crop name and
// crop code.
func Generate(ctx context.Context, pools query.Pools, ds *dataset.Dataset, ptype string, z, x, y int) ([]byte, error) {
	if err := ValidateTile(z, x, y); err != nil {
		return nil, err
	}
	table, err := ds.TableIdent(dataset.TableParcels, ptype)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, 3)
	for _, role := range []string{dataset.ColumnParcelID, dataset.ColumnCropName, dataset.ColumnCropCode} {
		col, err := ds.ColumnIdent(role)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}

	sql := fmt.Sprintf(`
		SELECT ST_AsMVT(q, '%s', 4096, 'geom') FROM (
			SELECT %s::text AS pid, %s AS cropname, %s::text AS cropcode,
				ST_AsMVTGeom(
					ST_Transform(wkb_geometry, 3857),
					ST_TileEnvelope($1, $2, $3),
					4096, 256, true
				) AS geom
			FROM %s
			WHERE ST_Transform(wkb_geometry, 3857) && ST_TileEnvelope($1, $2, $3)
		) q`,
		LayerName, cols[0], cols[1], cols[2], table)

	pool, err := pools.Pool(ctx, ds.DB)
	if err != nil {
		return nil, eris.Wrap(err, "tiles: generate MVT")
	}

	var tile []byte
	if err := pool.QueryRow(ctx, sql, z, x, y).Scan(&tile); err != nil {
		return nil, eris.Wrap(err, "tiles: generate MVT")
	}
	return tile, nil
}

// ValidateTile checks that x and y address a tile of zoom level z.
func ValidateTile(z, x, y int) error {
	if z < 0 || z > 30 {
		return eris.Wrapf(query.ErrInvalidArgument, "tiles: zoom %d", z)
	}
	n := 1 << uint(z)
	if x < 0 || x >= n || y < 0 || y >= n {
		return eris.Wrapf(query.ErrInvalidArgument, "tiles: tile %d/%d/%d out of range", z, x, y)
	}
	return nil
}

// Handler serves /tiles/{dataset}/{z}/{x}/{y}.pbf.
type Handler struct {
	pools    query.Pools
	registry *dataset.Registry
	minZoom  int
	maxZoom  int
}

// NewHandler creates a tile handler serving zoom levels minZoom..maxZoom.
func NewHandler(pools query.Pools, registry *dataset.Registry, minZoom, maxZoom int) *Handler {
	return &Handler{
		pools:    pools,
		registry: registry,
		minZoom:  minZoom,
		maxZoom:  maxZoom,
	}
}

// ServeHTTP renders one tile. An optional ptype query parameter selects the
// parcel-type table variant.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ds, err := h.registry.Get(chi.URLParam(r, "dataset"))
	if err != nil {
		http.Error(w, "unknown dataset", http.StatusNotFound)
		return
	}

	z, err := strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil {
		http.Error(w, "invalid z coordinate", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		http.Error(w, "invalid x coordinate", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(strings.TrimSuffix(chi.URLParam(r, "y"), ".pbf"))
	if err != nil {
		http.Error(w, "invalid y coordinate", http.StatusBadRequest)
		return
	}

	// Check zoom bounds.
	if z < h.minZoom || z > h.maxZoom {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	tile, err := Generate(r.Context(), h.pools, ds, r.URL.Query().Get("ptype"), z, x, y)
	switch {
	case eris.Is(err, query.ErrInvalidArgument), eris.Is(err, dataset.ErrInvalidIdentifier):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		zap.L().Error("tiles: tile generation failed",
			zap.String("dataset", ds.Name),
			zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
			zap.Error(err),
		)
		http.Error(w, "tile generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(tile)
}
