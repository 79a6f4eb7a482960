package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/parcel-query/internal/dataset"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect configured datasets",
	Long:  "Commands for listing and showing the datasets of datasets.json.",
}

// -- datasets list --

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := dataset.Load(cfg.Datasets.Path)
		if err != nil {
			return eris.Wrap(err, "datasets list")
		}
		formatDatasetList(os.Stdout, registry)
		return nil
	},
}

// -- datasets show --

var datasetsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one dataset as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := dataset.Load(cfg.Datasets.Path)
		if err != nil {
			return eris.Wrap(err, "datasets show")
		}
		ds, err := registry.Get(args[0])
		if err != nil {
			return err
		}
		return writeDatasetYAML(os.Stdout, ds)
	},
}

func formatDatasetList(w io.Writer, registry *dataset.Registry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAOI\tYEAR\tDB\tTABLES\tDESCRIPTION")
	for _, name := range registry.Names() {
		ds, _ := registry.Get(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			name, ds.AOI(), ds.Year, ds.DB, len(ds.Tables), ds.Description)
	}
	tw.Flush() //nolint:errcheck
}

// datasetDoc is the YAML view of a dataset, with its name and roles sorted.
type datasetDoc struct {
	Name     string    `yaml:"name"`
	Dataset  yaml.Node `yaml:"dataset"`
	Roles    []string  `yaml:"roles"`
	PColumns []string  `yaml:"pcolumn_roles"`
}

func writeDatasetYAML(w io.Writer, ds *dataset.Dataset) error {
	doc := datasetDoc{Name: ds.Name}
	if err := doc.Dataset.Encode(ds); err != nil {
		return eris.Wrap(err, "encode dataset")
	}
	for role := range ds.Tables {
		doc.Roles = append(doc.Roles, role)
	}
	for role := range ds.PColumns {
		doc.PColumns = append(doc.PColumns, role)
	}
	sort.Strings(doc.Roles)
	sort.Strings(doc.PColumns)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "write dataset yaml")
	}
	return enc.Close()
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsShowCmd)
	rootCmd.AddCommand(datasetsCmd)
}
