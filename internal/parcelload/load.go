package parcelload

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/db"
)

// GeometryColumn is the geometry column of every parcels table.
const GeometryColumn = "wkb_geometry"

// Options controls a parcel import.
type Options struct {
	// PType selects the parcel-type variant of the parcels table.
	PType string
	// Truncate empties the table before loading.
	Truncate  bool
	BatchSize int
}

// Load copies rows produced by ReadShapefile into the dataset's parcels
// table, then repairs invalid geometries in place. It returns the number of
// rows copied.
func Load(ctx context.Context, pool db.Pool, ds *dataset.Dataset, rows [][]any, opts Options) (int64, error) {
	table, err := ds.TableIdentifier(dataset.TableParcels, opts.PType)
	if err != nil {
		return 0, err
	}
	columns := make([]string, 0, 4)
	for _, role := range []string{dataset.ColumnParcelID, dataset.ColumnCropName, dataset.ColumnCropCode} {
		col, err := ds.ColumnName(role)
		if err != nil {
			return 0, err
		}
		columns = append(columns, col)
	}
	columns = append(columns, GeometryColumn)

	log := zap.L().With(
		zap.String("component", "parcelload"),
		zap.String("dataset", ds.Name),
		zap.String("table", table.Sanitize()),
	)

	if opts.Truncate {
		if _, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table.Sanitize())); err != nil {
			return 0, eris.Wrapf(err, "parcelload: truncate %s", table.Sanitize())
		}
		log.Info("parcelload: table truncated")
	}

	n, err := db.CopyFrom(ctx, pool, table, columns, rows, opts.BatchSize)
	if err != nil {
		return n, eris.Wrap(err, "parcelload: copy parcels")
	}

	geomCol, _ := dataset.QuoteIdent(GeometryColumn)
	tag, err := pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %[1]s SET %[2]s = ST_Multi(ST_CollectionExtract(ST_MakeValid(%[2]s), 3)) WHERE NOT ST_IsValid(%[2]s)`,
		table.Sanitize(), geomCol))
	if err != nil {
		return n, eris.Wrapf(err, "parcelload: repair geometries in %s", table.Sanitize())
	}

	log.Info("parcelload: parcels loaded",
		zap.Int64("rows", n),
		zap.Int64("repaired", tag.RowsAffected()),
	)
	return n, nil
}
