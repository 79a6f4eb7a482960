// Package dataset loads the named dataset configurations (database name, table
// and column role mappings) and resolves roles into quoted SQL identifiers.
package dataset

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Table roles.
const (
	TableParcels     = "parcels"
	TableDIASCatalog = "dias_catalog"
	TableSCL         = "scl"
	TableS2          = "s2"
	TableBS          = "bs"
	TableC6          = "c6"
	TableC1          = "c1"
	TableEnv         = "env"
)

// Column roles.
const (
	ColumnParcelID = "parcel_id"
	ColumnCropName = "crop_name"
	ColumnCropCode = "crop_code"
)

var (
	// ErrUnknownDataset is returned when no dataset is configured under a name.
	ErrUnknownDataset = eris.New("dataset: unknown dataset")
	// ErrMissingRole is returned when a dataset lacks a table or column role.
	ErrMissingRole = eris.New("dataset: missing role")
	// ErrInvalidIdentifier is returned for names that are not plain SQL identifiers.
	ErrInvalidIdentifier = eris.New("dataset: invalid identifier")
)

var (
	identPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	suffixPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Dataset is one entry of datasets.json. It is read-only once loaded.
type Dataset struct {
	Name            string            `json:"-" yaml:"-"`
	DB              string            `json:"db" yaml:"db"`
	Description     string            `json:"description" yaml:"description"`
	Center          string            `json:"center" yaml:"center"`
	Zoom            string            `json:"zoom" yaml:"zoom"`
	Year            string            `json:"year" yaml:"year"`
	StartDate       string            `json:"start_date" yaml:"start_date"`
	EndDate         string            `json:"end_date" yaml:"end_date"`
	Extent          string            `json:"extent" yaml:"extent"`
	FlipCoordinates string            `json:"flip_coordinates" yaml:"flip_coordinates"`
	Tables          map[string]string `json:"tables" yaml:"tables"`
	PColumns        map[string]string `json:"pcolumns" yaml:"pcolumns"`
}

// AOI returns the area-of-interest part of the dataset name ("es" for "es_2020").
func (d *Dataset) AOI() string {
	aoi, _, _ := strings.Cut(d.Name, "_")
	return aoi
}

// HasTable reports whether the dataset maps the table role.
func (d *Dataset) HasTable(role string) bool {
	return d.Tables[role] != ""
}

// Table returns the raw table name configured for role.
func (d *Dataset) Table(role string) (string, error) {
	name := d.Tables[role]
	if name == "" {
		return "", eris.Wrapf(ErrMissingRole, "dataset %s: table %q", d.Name, role)
	}
	return name, nil
}

// TableIdent resolves a table role to a quoted, optionally schema-qualified
// identifier. A non-empty ptype selects the parcel-type variant of the table
// ("par" + "a" → "par_a").
func (d *Dataset) TableIdent(role, ptype string) (string, error) {
	ident, err := d.TableIdentifier(role, ptype)
	if err != nil {
		return "", err
	}
	return ident.Sanitize(), nil
}

// TableIdentifier is TableIdent returning the validated name parts, as
// pgx's COPY API takes them.
func (d *Dataset) TableIdentifier(role, ptype string) (pgx.Identifier, error) {
	name, err := d.Table(role)
	if err != nil {
		return nil, err
	}
	suffix, err := PTypeSuffix(ptype)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(name, ".")
	parts[len(parts)-1] += suffix
	parts, err = foldIdent(parts)
	if err != nil {
		return nil, err
	}
	return pgx.Identifier(parts), nil
}

// Column returns the raw column name configured for role.
func (d *Dataset) Column(role string) (string, error) {
	name := d.PColumns[role]
	if name == "" {
		return "", eris.Wrapf(ErrMissingRole, "dataset %s: column %q", d.Name, role)
	}
	return name, nil
}

// ColumnName resolves a column role to its validated, lower-cased name.
func (d *Dataset) ColumnName(role string) (string, error) {
	name, err := d.Column(role)
	if err != nil {
		return "", err
	}
	parts, err := foldIdent([]string{name})
	if err != nil {
		return "", err
	}
	return parts[0], nil
}

// ColumnIdent resolves a column role to a quoted identifier.
func (d *Dataset) ColumnIdent(role string) (string, error) {
	name, err := d.Column(role)
	if err != nil {
		return "", err
	}
	return QuoteIdent(name)
}

// PTypeSuffix turns a parcel type ("a") into a table-name suffix ("_a").
// The empty parcel type yields the empty suffix.
func PTypeSuffix(ptype string) (string, error) {
	if ptype == "" {
		return "", nil
	}
	if !suffixPattern.MatchString(ptype) {
		return "", eris.Wrapf(ErrInvalidIdentifier, "parcel type %q", ptype)
	}
	return "_" + ptype, nil
}

// QuoteIdent validates each part as a plain identifier and returns the quoted,
// dot-joined form. Parts are lower-cased first, so a configured "Parcels"
// names the same relation it would unquoted.
func QuoteIdent(parts ...string) (string, error) {
	folded, err := foldIdent(parts)
	if err != nil {
		return "", err
	}
	return pgx.Identifier(folded).Sanitize(), nil
}

// foldIdent validates parts as plain identifiers and folds them to lower case
// the way PostgreSQL treats unquoted names.
func foldIdent(parts []string) ([]string, error) {
	folded := make([]string, len(parts))
	for i, p := range parts {
		if !identPattern.MatchString(p) {
			return nil, eris.Wrapf(ErrInvalidIdentifier, "%q", p)
		}
		folded[i] = strings.ToLower(p)
	}
	return folded, nil
}

// Registry holds every configured dataset keyed by name.
type Registry struct {
	datasets map[string]*Dataset
}

// NewRegistry builds a registry from a name → dataset map.
func NewRegistry(datasets map[string]Dataset) *Registry {
	r := &Registry{datasets: make(map[string]*Dataset, len(datasets))}
	for name, ds := range datasets {
		ds.Name = name
		r.datasets[name] = &ds
	}
	return r
}

// Get returns the dataset configured under name.
func (r *Registry) Get(name string) (*Dataset, error) {
	ds, ok := r.datasets[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownDataset, "%q", name)
	}
	return ds, nil
}

// Lookup returns the dataset for an AOI and year ("{aoi}_{year}").
func (r *Registry) Lookup(aoi, year string) (*Dataset, error) {
	return r.Get(strings.ToLower(aoi) + "_" + year)
}

// Names returns all dataset names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AOIs returns the distinct AOIs of all datasets in sorted order.
func (r *Registry) AOIs() []string {
	seen := make(map[string]bool)
	var aois []string
	for _, ds := range r.datasets {
		if aoi := ds.AOI(); !seen[aoi] {
			seen[aoi] = true
			aois = append(aois, aoi)
		}
	}
	sort.Strings(aois)
	return aois
}
