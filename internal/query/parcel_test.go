package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcel-query/internal/dataset"
)

var parcelColumnNames = []string{"pid", "cropname", "cropcode", "srid", "area", "clon", "clat"}

func TestParcelByLocation(t *testing.T) {
	svc, mock := newMockService(t)

	rows := pgxmock.NewRows(parcelColumnNames).
		AddRow("1042", "Maize", "1101", int32(3035), int32(15234), 14.01, 51.02)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "es"."parcels_2020"`) +
		`.*` + regexp.QuoteMeta(`ST_MakePoint($1, $2), 4326)`) +
		`.*` + regexp.QuoteMeta(`(SELECT ST_SRID(wkb_geometry) FROM "es"."parcels_2020" LIMIT 1)`)).
		WithArgs(14.0, 51.0).
		WillReturnRows(rows)

	res, err := svc.ParcelByLocation(context.Background(), testDataset(), 14.0, 51.0, ParcelOptions{})
	require.NoError(t, err)
	assert.Equal(t, parcelColumnNames, res.Columns)
	require.Equal(t, 1, res.Len())
	assert.Equal(t, "1042", res.Rows[0][0])
	assert.IsType(t, int32(0), res.Rows[0][4])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelByLocation_Empty(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("SELECT").WithArgs(0.5, 0.5).
		WillReturnRows(pgxmock.NewRows(parcelColumnNames))

	res, err := svc.ParcelByLocation(context.Background(), testDataset(), 0.5, 0.5, ParcelOptions{})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, parcelColumnNames, res.Columns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelByLocation_Failure(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("SELECT").WillReturnError(errTest)

	res, err := svc.ParcelByLocation(context.Background(), testDataset(), 14.0, 51.0, ParcelOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, eris.Is(err, errTest))
}

func TestParcelByLocation_InvalidCoordinates(t *testing.T) {
	svc, _ := newMockService(t)

	_, err := svc.ParcelByLocation(context.Background(), testDataset(), 200, 51, ParcelOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidArgument))
}

func TestParcelByID_Geometry(t *testing.T) {
	tests := []struct {
		name string
		opts ParcelOptions
		want string
	}{
		{"none", ParcelOptions{}, `AS srid,\s+ST_Area`},
		{"native", ParcelOptions{WithGeometry: true}, regexp.QuoteMeta(`ST_AsGeoJSON(wkb_geometry) AS geom`)},
		{"wgs84", ParcelOptions{WithGeometry: true, WGS84: true}, regexp.QuoteMeta(`ST_AsGeoJSON(ST_Transform(wkb_geometry, 4326)) AS geom`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newMockService(t)
			mock.ExpectQuery(tt.want).WithArgs("1042").
				WillReturnRows(pgxmock.NewRows(parcelColumnNames))

			_, err := svc.ParcelByID(context.Background(), testDataset(), "1042", tt.opts)
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestParcelByID_PTypeTable(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "es"."parcels_2020_b"`) + `\s+WHERE "id" = \$1`).
		WithArgs("7").
		WillReturnRows(pgxmock.NewRows(parcelColumnNames))

	_, err := svc.ParcelByID(context.Background(), testDataset(), "7", ParcelOptions{PType: "b"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelByID_Validation(t *testing.T) {
	svc, _ := newMockService(t)
	ds := testDataset()

	_, err := svc.ParcelByID(context.Background(), ds, "", ParcelOptions{})
	assert.True(t, eris.Is(err, ErrInvalidArgument))

	_, err = svc.ParcelByID(context.Background(), ds, "1", ParcelOptions{PType: "b; DROP TABLE x"})
	assert.True(t, eris.Is(err, dataset.ErrInvalidIdentifier))

	noCrop := testDataset()
	delete(noCrop.PColumns, dataset.ColumnCropName)
	_, err = svc.ParcelByID(context.Background(), noCrop, "1", ParcelOptions{})
	assert.True(t, eris.Is(err, dataset.ErrMissingRole))
}

func TestParcelsByPolygon(t *testing.T) {
	svc, mock := newMockService(t)

	vertices := [][2]float64{{14.0, 51.0}, {14.1, 51.0}, {14.1, 51.1}, {14.0, 51.1}}
	mock.ExpectQuery(regexp.QuoteMeta(`ST_GeomFromText($1, 4326)`) + `.*LIMIT 100`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"pid"}).AddRow("1").AddRow("2"))

	res, err := svc.ParcelsByPolygon(context.Background(), testDataset(), vertices, ParcelOptions{OnlyIDs: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, res.Strings(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParcelsByPolygon_TooFewVertices(t *testing.T) {
	svc, _ := newMockService(t)

	_, err := svc.ParcelsByPolygon(context.Background(), testDataset(), [][2]float64{{1, 1}, {2, 2}}, ParcelOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidArgument))
}

func TestSRID(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ST_SRID(wkb_geometry) FROM "es"."parcels_2020" LIMIT 1`)).
		WillReturnRows(pgxmock.NewRows([]string{"st_srid"}).AddRow(int32(25830)))

	srid, err := svc.SRID(context.Background(), testDataset(), "")
	require.NoError(t, err)
	assert.Equal(t, 25830, srid)
	assert.NoError(t, mock.ExpectationsWereMet())
}
