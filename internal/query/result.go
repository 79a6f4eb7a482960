package query

import (
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
)

// TimestampLayout is the text form timestamps take in a Result.
const TimestampLayout = "2006-01-02 15:04:05"

// Result is a tabular query result: the column names followed by the rows in
// the order the database returned them. A Result with no rows still carries
// its columns.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Empty reports whether the query matched no rows.
func (r *Result) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns every value of the named column.
func (r *Result) Column(name string) ([]any, bool) {
	idx := r.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	vals := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		vals[i] = row[idx]
	}
	return vals, true
}

// Strings returns the values of column idx formatted as strings. NULLs
// are skipped.
func (r *Result) Strings(idx int) []string {
	out := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		if idx >= len(row) || row[idx] == nil {
			continue
		}
		if s, ok := row[idx].(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(row[idx]))
	}
	return out
}

// Columnar returns the result keyed by column name, each holding the column's
// values in row order. Columns of an empty result map to empty slices.
func (r *Result) Columnar() map[string][]any {
	out := make(map[string][]any, len(r.Columns))
	for i, c := range r.Columns {
		vals := make([]any, 0, len(r.Rows))
		for _, row := range r.Rows {
			vals = append(vals, row[i])
		}
		out[c] = vals
	}
	return out
}

// collectResult drains rows into a Result and closes them.
func collectResult(rows pgx.Rows) (*Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &Result{Columns: make([]string, len(fields))}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "query: read row values")
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "query: iterate rows")
	}
	return res, nil
}

// normalizeValue maps driver types onto plain values that encode cleanly to
// JSON and CSV. NaN and infinities become NULL.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finite(f.Float64)
	case float64:
		return finite(x)
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	case time.Time:
		return x.Format(TimestampLayout)
	default:
		return v
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
