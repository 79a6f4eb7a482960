package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/export"
	"github.com/sells-group/parcel-query/internal/query"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "datasets", "query", "import"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "parcel-query", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestQueryCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range queryCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{
		"by-location", "by-id", "by-polygon", "timeseries", "weather", "scl",
		"peers", "stats-peers", "frames", "srid", "centroid", "pids", "markers",
	}
	for _, name := range expected {
		assert.True(t, names[name], "query should have subcommand %q", name)
	}
}

func TestQueryCommand_FlagDefaults(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"peers", "distance", "2000"},
		{"peers", "max", "10"},
		{"stats-peers", "max", "100"},
		{"stats-peers", "stat", "mean"},
		{"timeseries", "type", "s2"},
		{"timeseries", "scl", "true"},
		{"by-polygon", "only-ids", "true"},
		{"pids", "limit", "100"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			c, _, err := queryCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			f := c.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}

	format := queryCmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, export.FormatTable, format.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	for _, name := range []string{"ptype", "srid", "truncate", "pid-field", "crop-name-field", "crop-code-field", "charset"} {
		assert.NotNil(t, importCmd.Flags().Lookup(name), "import should have --%s flag", name)
	}
	assert.Error(t, importCmd.Args(importCmd, []string{"es_2020"}))
}

func testRegistry() *dataset.Registry {
	return dataset.NewRegistry(map[string]dataset.Dataset{
		"es_2020": {
			DB:          "main",
			Year:        "2020",
			Description: "Spain 2020",
			Tables:      map[string]string{dataset.TableParcels: "es.parcels_2020", dataset.TableS2: "es.s2_signatures"},
			PColumns:    map[string]string{dataset.ColumnParcelID: "id"},
		},
		"fr_2021": {DB: "fr", Year: "2021"},
	})
}

func TestResolveDataset(t *testing.T) {
	registry := testRegistry()
	t.Cleanup(func() { queryDataset, queryAOI, queryYear = "", "", "" })

	queryDataset = "fr_2021"
	ds, err := resolveDataset(registry)
	require.NoError(t, err)
	assert.Equal(t, "fr_2021", ds.Name)

	queryDataset, queryAOI, queryYear = "", "ES", "2020"
	ds, err = resolveDataset(registry)
	require.NoError(t, err)
	assert.Equal(t, "es_2020", ds.Name)

	queryAOI = ""
	_, err = resolveDataset(registry)
	assert.Error(t, err)
}

func TestValidFormat(t *testing.T) {
	for _, f := range export.Formats {
		assert.True(t, validFormat(f))
	}
	assert.False(t, validFormat("parquet"))
}

func TestWriteOutput_File(t *testing.T) {
	res := &query.Result{Columns: []string{"pid", "area"}, Rows: [][]any{{"1", int32(5100)}}}

	csvPath := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeOutput(res, export.FormatCSV, csvPath))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "pid,area\n1,5100\n", string(data))

	xlsxPath := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, writeOutput(res, export.FormatXLSX, xlsxPath))
	f, err := xlsx.OpenFile(xlsxPath)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Equal(t, "pid", f.Sheets[0].Cell(0, 0).String())
}

func TestFormatDatasetList(t *testing.T) {
	var buf bytes.Buffer
	formatDatasetList(&buf, testRegistry())

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "es_2020")
	assert.Contains(t, out, "Spain 2020")
	assert.Contains(t, out, "fr_2021")
}

func TestWriteDatasetYAML(t *testing.T) {
	ds, err := testRegistry().Get("es_2020")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeDatasetYAML(&buf, ds))

	var doc struct {
		Name    string `yaml:"name"`
		Dataset struct {
			DB     string            `yaml:"db"`
			Tables map[string]string `yaml:"tables"`
		} `yaml:"dataset"`
		Roles []string `yaml:"roles"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "es_2020", doc.Name)
	assert.Equal(t, "main", doc.Dataset.DB)
	assert.Equal(t, "es.parcels_2020", doc.Dataset.Tables[dataset.TableParcels])
	assert.Equal(t, []string{dataset.TableParcels, dataset.TableS2}, doc.Roles)
}
