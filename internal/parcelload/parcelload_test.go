package parcelload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jonas-p/go-shp"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/parcel-query/internal/dataset"
)

func square(x, y float64) []shp.Point {
	return []shp.Point{{X: x, Y: y}, {X: x, Y: y + 1}, {X: x + 1, Y: y + 1}, {X: x + 1, Y: y}, {X: x, Y: y}}
}

func polygon(rings ...[]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

// writeShapefile writes a polygon shapefile with PID, CROP and CODE attributes.
func writeShapefile(t *testing.T, records []struct {
	shape *shp.Polygon
	attrs [3]string
}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parcels.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("PID", 16),
		shp.StringField("CROP", 32),
		shp.StringField("CODE", 8),
	}))
	for _, rec := range records {
		row := int(w.Write(rec.shape))
		for i, v := range rec.attrs {
			require.NoError(t, w.WriteAttribute(row, i, v))
		}
	}
	w.Close()
	return path
}

func TestEncodeParcel(t *testing.T) {
	data, err := EncodeParcel(polygon(square(500000, 4400000), square(500010, 4400000)), 25830)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	mp, ok := g.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 25830, mp.SRID())
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestEncodeParcel_Unsupported(t *testing.T) {
	data, err := EncodeParcel(&shp.Point{X: 1, Y: 2}, 4326)
	assert.NoError(t, err)
	assert.Nil(t, data)

	data, err = EncodeParcel(nil, 4326)
	assert.NoError(t, err)
	assert.Nil(t, data)

	data, err = EncodeParcel(&shp.Polygon{}, 4326)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodeParcel_SkipsShortRings(t *testing.T) {
	short := []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}
	data, err := EncodeParcel(polygon(short), 4326)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestReadShapefile(t *testing.T) {
	path := writeShapefile(t, []struct {
		shape *shp.Polygon
		attrs [3]string
	}{
		{polygon(square(14, 51)), [3]string{"1042", "Maize", "1101"}},
		{polygon(square(15, 51)), [3]string{"1043", "", "1102"}},
		{polygon(square(16, 51)), [3]string{"", "Wheat", "1201"}},
	})

	rows, stats, err := ReadShapefile(path, FieldMap{ParcelID: "pid", CropName: "CROP", CropCode: "code"}, 4326)
	require.NoError(t, err)
	assert.Equal(t, ReadStats{Records: 3, Skipped: 1}, stats)
	require.Len(t, rows, 2)

	assert.Equal(t, "1042", rows[0][0])
	assert.Equal(t, "Maize", rows[0][1])
	assert.Equal(t, "1101", rows[0][2])
	assert.Nil(t, rows[1][1])

	g, err := ewkb.Unmarshal(rows[0][3].([]byte))
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())
}

func TestReadShapefile_LogsGeometrySkips(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	short := []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}
	path := writeShapefile(t, []struct {
		shape *shp.Polygon
		attrs [3]string
	}{
		{polygon(square(14, 51)), [3]string{"1042", "Maize", "1101"}},
		{polygon(short), [3]string{"1043", "Wheat", "1201"}},
	})

	rows, stats, err := ReadShapefile(path, FieldMap{ParcelID: "pid"}, 4326)
	require.NoError(t, err)
	assert.Equal(t, ReadStats{Records: 2, Skipped: 1}, stats)
	require.Len(t, rows, 1)

	skips := logs.FilterMessage("parcelload: skipping record without usable geometry").All()
	require.Len(t, skips, 1)
	fields := skips[0].ContextMap()
	assert.Equal(t, int64(1), fields["record"])
	assert.Equal(t, "1043", fields["pid"])
}

func TestReadShapefile_UnknownField(t *testing.T) {
	path := writeShapefile(t, []struct {
		shape *shp.Polygon
		attrs [3]string
	}{
		{polygon(square(14, 51)), [3]string{"1", "Maize", "1101"}},
	})

	_, _, err := ReadShapefile(path, FieldMap{ParcelID: "parcel"}, 4326)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no field "parcel"`)
}

func TestReadShapefile_Charset(t *testing.T) {
	records := []struct {
		shape *shp.Polygon
		attrs [3]string
	}{
		{polygon(square(2, 48)), [3]string{"7", "Ma\xefs", "1101"}},
	}
	fields := FieldMap{ParcelID: "PID", CropName: "CROP", CropCode: "CODE"}

	path := writeShapefile(t, records)
	fields.Charset = "iso-8859-1"
	rows, _, err := ReadShapefile(path, fields, 2154)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Maïs", rows[0][1])

	// A .cpg sidecar names the charset when none is given.
	path = writeShapefile(t, records)
	require.NoError(t, os.WriteFile(strings.TrimSuffix(path, ".shp")+".cpg", []byte("windows-1252\n"), 0o644))
	fields.Charset = ""
	rows, _, err = ReadShapefile(path, fields, 2154)
	require.NoError(t, err)
	assert.Equal(t, "Maïs", rows[0][1])

	fields.Charset = "klingon"
	_, _, err = ReadShapefile(path, fields, 2154)
	assert.Error(t, err)
}

func TestReadShapefile_Missing(t *testing.T) {
	_, _, err := ReadShapefile(filepath.Join(t.TempDir(), "none.shp"), FieldMap{ParcelID: "pid"}, 4326)
	assert.Error(t, err)
}

func testDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Name:   "es_2020",
		DB:     "main",
		Tables: map[string]string{dataset.TableParcels: "es.parcels_2020"},
		PColumns: map[string]string{
			dataset.ColumnParcelID: "id",
			dataset.ColumnCropName: "cropname",
			dataset.ColumnCropCode: "cropcode",
		},
	}
}

func TestLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	table := pgx.Identifier{"es", "parcels_2020_a"}
	mock.ExpectExec(regexp.QuoteMeta(`TRUNCATE TABLE "es"."parcels_2020_a"`)).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(table, []string{"id", "cropname", "cropcode", "wkb_geometry"}).
		WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`ST_MakeValid("wkb_geometry")`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rows := [][]any{
		{"1", "Maize", "1101", []byte{0x01}},
		{"2", "Wheat", "1201", []byte{0x01}},
	}
	n, err := Load(context.Background(), mock, testDataset(), rows, Options{PType: "a", Truncate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"es", "parcels_2020"}, []string{"id", "cropname", "cropcode", "wkb_geometry"}).
		WillReturnError(errors.New("permission denied"))

	_, err = Load(context.Background(), mock, testDataset(), [][]any{{"1", nil, nil, []byte{0x01}}}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestLoad_MissingColumnRole(t *testing.T) {
	ds := testDataset()
	delete(ds.PColumns, dataset.ColumnCropCode)

	_, err := Load(context.Background(), nil, ds, nil, Options{})
	assert.True(t, eris.Is(err, dataset.ErrMissingRole))
}
