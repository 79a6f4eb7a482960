package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-query/internal/parcelload"
)

var (
	importPType    string
	importSRID     int
	importTruncate bool
	importFields   parcelload.FieldMap
)

var importCmd = &cobra.Command{
	Use:   "import <dataset> <file.shp>",
	Short: "Import parcel polygons from a shapefile",
	Long:  "Reads parcel polygons and their id, crop name and crop code attributes from a shapefile and copies them into the dataset's parcels table.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("import_id", uuid.NewString()))

		env, err := initEnv("import")
		if err != nil {
			return err
		}
		defer env.Close()

		ds, err := env.Registry.Get(args[0])
		if err != nil {
			return err
		}

		srid := importSRID
		if srid == 0 {
			srid = cfg.Import.SRID
		}
		rows, stats, err := parcelload.ReadShapefile(args[1], importFields, srid)
		if err != nil {
			return eris.Wrap(err, "import shapefile")
		}
		log.Info("shapefile read",
			zap.String("path", args[1]),
			zap.Int("records", stats.Records),
			zap.Int("skipped", stats.Skipped),
		)

		pool, err := env.Pools.Pool(ctx, ds.DB)
		if err != nil {
			return err
		}
		n, err := parcelload.Load(ctx, pool, ds, rows, parcelload.Options{
			PType:     importPType,
			Truncate:  importTruncate,
			BatchSize: cfg.Import.BatchSize,
		})
		if err != nil {
			return eris.Wrap(err, "import parcels")
		}

		log.Info("import complete",
			zap.String("dataset", ds.Name),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importPType, "ptype", "", "parcel type table variant")
	f.IntVar(&importSRID, "srid", 0, "SRID of the shapefile coordinates (default from config)")
	f.BoolVar(&importTruncate, "truncate", false, "empty the parcels table first")
	f.StringVar(&importFields.ParcelID, "pid-field", "pid", "attribute holding the parcel id")
	f.StringVar(&importFields.CropName, "crop-name-field", "cropname", "attribute holding the crop name")
	f.StringVar(&importFields.CropCode, "crop-code-field", "cropcode", "attribute holding the crop code")
	f.StringVar(&importFields.Charset, "charset", "", "DBF attribute charset (default from .cpg, else UTF-8)")
	rootCmd.AddCommand(importCmd)
}
