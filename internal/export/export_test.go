package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/parcel-query/internal/query"
)

func sampleResult() *query.Result {
	return &query.Result{
		Columns: []string{"pid", "cropname", "area", "clon"},
		Rows: [][]any{
			{"1042", "Maize", int32(15234), 14.0125},
			{"1043", nil, int32(8001), 14.5},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResult()))

	want := "pid,cropname,area,clon\n" +
		"1042,Maize,15234,14.0125\n" +
		"1043,,8001,14.5\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_EmptyKeepsHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &query.Result{Columns: []string{"meteo_date", "tmin"}}))
	assert.Equal(t, "meteo_date,tmin\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))

	var got map[string][]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []any{"1042", "1043"}, got["pid"])
	assert.Equal(t, []any{"Maize", nil}, got["cropname"])
	assert.Equal(t, []any{15234.0, 8001.0}, got["area"])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleResult()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	rows := f.Sheets[0].Rows
	require.Len(t, rows, 3)
	assert.Equal(t, "pid", rows[0].Cells[0].String())
	assert.Equal(t, "1042", rows[1].Cells[0].String())

	area, err := rows[1].Cells[2].Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(15234), area)

	lon, err := rows[2].Cells[3].Float()
	require.NoError(t, err)
	assert.InDelta(t, 14.5, lon, 1e-9)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleResult()))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "pid")
	assert.Contains(t, string(lines[1]), "Maize")
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, sampleResult(), "parquet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parquet")
}

func TestStrings(t *testing.T) {
	res := Strings("pids", []string{"1", "2"})
	assert.Equal(t, []string{"pids"}, res.Columns)
	assert.Equal(t, []string{"1", "2"}, res.Strings(0))
}

func TestTimeSeriesFilename(t *testing.T) {
	assert.Equal(t, "timeseries_es2020_b_1042_s2.csv", TimeSeriesFilename("es", "2020", "_b", "1042", "s2"))
	assert.Equal(t, "timeseries_es2020_1042_WeatherTS.csv", TimeSeriesFilename("es", "2020", "", "1042", "WeatherTS"))
}

func TestWriteCSV_JSONValues(t *testing.T) {
	res := &query.Result{
		Columns: []string{"obsid", "hist"},
		Rows: [][]any{
			{int32(7), map[string]any{"4": float64(120), "5": float64(3)}},
			{int32(8), []any{float64(1), "x"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res))
	assert.Equal(t, "obsid,hist\n7,\"{\"\"4\"\":120,\"\"5\"\":3}\"\n8,\"[1,\"\"x\"\"]\"\n", buf.String())
}
