// Package export renders query results as CSV, XLSX, column-oriented JSON or
// an aligned text table.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/parcel-query/internal/query"
)

// Output formats.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
	FormatTable = "table"
)

// Formats lists the supported output formats.
var Formats = []string{FormatJSON, FormatCSV, FormatXLSX, FormatTable}

// sheetName is the worksheet XLSX exports are written to.
const sheetName = "results"

// Write renders res to w in the given format.
func Write(w io.Writer, res *query.Result, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return WriteJSON(w, res)
	case FormatCSV:
		return WriteCSV(w, res)
	case FormatXLSX:
		return WriteXLSX(w, res)
	case FormatTable:
		return WriteTable(w, res)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// WriteJSON writes res keyed by column name, each key holding the column's
// values in row order.
func WriteJSON(w io.Writer, res *query.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Columnar()); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

// WriteCSV writes a header line followed by one line per row. NULLs become
// empty fields.
func WriteCSV(w io.Writer, res *query.Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(res.Columns); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, v := range row {
			record[i] = FormatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush CSV")
	}
	return nil
}

// WriteXLSX writes res as a single-sheet workbook with a header row. Numeric
// values are stored as numbers.
func WriteXLSX(w io.Writer, res *query.Result) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range res.Columns {
		header.AddCell().SetString(c)
	}
	for _, row := range res.Rows {
		r := sheet.AddRow()
		for _, v := range row {
			setCell(r.AddCell(), v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func setCell(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
		cell.SetString("")
	case float64:
		cell.SetFloat(x)
	case float32:
		cell.SetFloat(float64(x))
	case int:
		cell.SetInt64(int64(x))
	case int16:
		cell.SetInt64(int64(x))
	case int32:
		cell.SetInt64(int64(x))
	case int64:
		cell.SetInt64(x)
	case bool:
		cell.SetBool(x)
	default:
		cell.SetString(FormatValue(v))
	}
}

// WriteTable writes res as whitespace-aligned columns.
func WriteTable(w io.Writer, res *query.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	fields := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, v := range row {
			fields[i] = FormatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(fields, "\t"))
	}

	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "export: write table")
	}
	return nil
}

// FormatValue renders a result value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []byte:
		return string(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// Strings wraps a list of values, such as parcel ids, as a one-column result.
func Strings(column string, values []string) *query.Result {
	res := &query.Result{Columns: []string{column}, Rows: make([][]any, len(values))}
	for i, v := range values {
		res.Rows[i] = []any{v}
	}
	return res
}

// TimeSeriesFilename names a time-series CSV download. suffix is the
// parcel-type table suffix, empty or "_"-prefixed.
func TimeSeriesFilename(aoi, year, suffix, pid, tstype string) string {
	return fmt.Sprintf("timeseries_%s%s%s_%s_%s.csv", aoi, year, suffix, pid, tstype)
}
