package dataset

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultPath is where datasets.json is looked up when no path is configured.
const DefaultPath = "config/datasets.json"

// Default returns the single-entry configuration written when no datasets
// file exists.
func Default() map[string]Dataset {
	return map[string]Dataset{
		"default_2020": {
			DB:              "main",
			Description:     "Dataset description",
			Center:          "51.0,14.0",
			Zoom:            "5",
			FlipCoordinates: "False",
			Tables: map[string]string{
				TableParcels:     "par",
				TableDIASCatalog: "dias_cat",
				TableSCL:         "hists",
				TableS2:          "s2_sig",
				TableBS:          "bs_sig",
				TableC6:          "c6_sig",
				"bs_tf":          "bs_ten",
			},
			PColumns: map[string]string{
				ColumnParcelID: "id",
				ColumnCropName: "name",
				ColumnCropCode: "code",
			},
		},
	}
}

// Load reads the datasets file at path. When the file does not exist the
// default configuration is written there first and then read back.
func Load(path string) (*Registry, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := WriteFile(path, Default()); err != nil {
			return nil, err
		}
		zap.L().Info("dataset: datasets file did not exist, a new file was created", zap.String("path", path))
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}

	var raw map[string]Dataset
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "dataset: parse %s", path)
	}

	zap.L().Debug("dataset: loaded", zap.String("path", path), zap.Int("datasets", len(raw)))
	return NewRegistry(raw), nil
}

// WriteFile writes datasets as indented JSON, creating parent directories.
func WriteFile(path string, datasets map[string]Dataset) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "dataset: create %s", dir)
		}
	}
	data, err := json.MarshalIndent(datasets, "", "    ")
	if err != nil {
		return eris.Wrap(err, "dataset: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write %s", path)
	}
	return nil
}
