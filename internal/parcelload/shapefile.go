// Package parcelload imports parcel polygons from ESRI shapefiles into a
// dataset's parcels table.
package parcelload

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// FieldMap names the shapefile attribute holding each parcel column.
type FieldMap struct {
	ParcelID string
	CropName string
	CropCode string
	// Charset of the DBF attributes, e.g. "windows-1252". Empty reads the
	// shapefile's .cpg sidecar and falls back to UTF-8.
	Charset string
}

// Fields returns the attribute names in row order.
func (m FieldMap) Fields() []string {
	return []string{m.ParcelID, m.CropName, m.CropCode}
}

// ReadStats summarizes a shapefile read.
type ReadStats struct {
	Records int
	Skipped int
}

// ReadShapefile reads the polygon records of a shapefile. Each row holds the
// mapped attributes followed by the EWKB MultiPolygon with the given SRID.
// Records without a usable polygon or parcel id are skipped.
func ReadShapefile(path string, fields FieldMap, srid int) ([][]any, ReadStats, error) {
	var stats ReadStats
	if fields.ParcelID == "" {
		return nil, stats, eris.New("parcelload: parcel id field is required")
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, stats, eris.Wrapf(err, "parcelload: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	dec, err := attributeDecoder(path, fields.Charset)
	if err != nil {
		return nil, stats, err
	}

	// Build field name → index map.
	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	for _, name := range fields.Fields() {
		if name == "" {
			continue
		}
		if _, ok := fieldIdx[strings.ToLower(name)]; !ok {
			return nil, stats, eris.Errorf("parcelload: shapefile %s has no field %q", path, name)
		}
	}

	var rows [][]any
	for reader.Next() {
		stats.Records++
		idx, shape := reader.Shape()

		row := make([]any, 0, 4)
		for _, name := range fields.Fields() {
			if name == "" {
				row = append(row, nil)
				continue
			}
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(fieldIdx[strings.ToLower(name)]), "\x00"))
			if dec != nil {
				if decoded, err := dec.String(val); err == nil {
					val = decoded
				}
			}
			if val == "" {
				row = append(row, nil)
			} else {
				row = append(row, val)
			}
		}
		if row[0] == nil {
			stats.Skipped++
			continue
		}

		wkb, err := EncodeParcel(shape, srid)
		if err != nil || wkb == nil {
			zap.L().Debug("parcelload: skipping record without usable geometry",
				zap.Int("record", idx),
				zap.Any("pid", row[0]),
				zap.Error(err),
			)
			stats.Skipped++
			continue
		}
		rows = append(rows, append(row, wkb))
	}

	if stats.Skipped > 0 {
		zap.L().Debug("parcelload: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", stats.Skipped),
		)
	}

	return rows, stats, nil
}

// attributeDecoder returns the decoder for the DBF attribute charset, or nil
// for UTF-8. An unknown charset in a .cpg sidecar is ignored with a warning.
func attributeDecoder(path, charset string) (*encoding.Decoder, error) {
	explicit := charset != ""
	if !explicit {
		cpg := strings.TrimSuffix(path, filepath.Ext(path)) + ".cpg"
		if data, err := os.ReadFile(cpg); err == nil {
			charset = strings.TrimSpace(string(data))
		}
	}
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8":
		return nil, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		if explicit {
			return nil, eris.Wrapf(err, "parcelload: unsupported charset %q", charset)
		}
		zap.L().Warn("parcelload: ignoring unknown .cpg charset", zap.String("path", path), zap.String("charset", charset))
		return nil, nil
	}
	return enc.NewDecoder(), nil
}
