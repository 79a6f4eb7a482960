package main

import (
	"context"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/export"
	"github.com/sells-group/parcel-query/internal/query"
)

var (
	queryDataset string
	queryAOI     string
	queryYear    string
	queryPType   string
	queryFormat  string
	queryOut     string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a single parcel query",
	Long:  "Runs one query against a dataset, selected by --dataset or --aoi and --year, and prints the result.",
}

// queryFunc runs one query against the resolved dataset.
type queryFunc func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error)

// runQuery resolves the dataset, runs fn and writes its result.
func runQuery(cmd *cobra.Command, fn queryFunc) error {
	if !validFormat(queryFormat) {
		return eris.Errorf("unknown format %q (want one of %v)", queryFormat, export.Formats)
	}

	env, err := initEnv("query")
	if err != nil {
		return err
	}
	defer env.Close()

	ds, err := resolveDataset(env.Registry)
	if err != nil {
		return err
	}

	res, err := fn(cmd.Context(), env.Service, ds)
	if err != nil {
		return eris.Wrapf(err, "query %s", cmd.Name())
	}
	if res.Empty() {
		zap.L().Info("query returned no rows", zap.String("query", cmd.Name()), zap.String("dataset", ds.Name))
	}
	return writeOutput(res, queryFormat, queryOut)
}

func resolveDataset(registry *dataset.Registry) (*dataset.Dataset, error) {
	if queryDataset != "" {
		return registry.Get(queryDataset)
	}
	if queryAOI == "" || queryYear == "" {
		return nil, eris.New("--dataset or both --aoi and --year are required")
	}
	return registry.Lookup(queryAOI, queryYear)
}

func validFormat(format string) bool {
	for _, f := range export.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// writeOutput writes res to path, or to stdout when path is empty.
func writeOutput(res *query.Result, format, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	if err := export.Write(w, res, format); err != nil {
		return err
	}
	if path != "" {
		zap.L().Info("query result written",
			zap.String("path", path),
			zap.String("format", format),
			zap.Int("rows", res.Len()),
		)
	}
	return nil
}

var (
	qLon, qLat      float64
	qPID            string
	qGeometry       bool
	qWGS84          bool
	qOnlyIDs        bool
	qPolygon        string
	qSeries         string
	qBand           string
	qSCL            bool
	qRef            bool
	qDistance       float64
	qPeersMax       int
	qStatsMax       int
	qStart, qEnd    string
	qStat, qValue   string
	qLimit          int
	qRandom         bool
	qPolygonOutline bool
)

func parcelOpts() query.ParcelOptions {
	return query.ParcelOptions{
		PType:        queryPType,
		WithGeometry: qGeometry,
		WGS84:        qWGS84,
		OnlyIDs:      qOnlyIDs,
	}
}

var queryByLocationCmd = &cobra.Command{
	Use:   "by-location",
	Short: "Parcels containing a WGS84 point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelByLocation(ctx, ds, qLon, qLat, parcelOpts())
		})
	},
}

var queryByIDCmd = &cobra.Command{
	Use:   "by-id",
	Short: "Parcel by identifier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelByID(ctx, ds, qPID, parcelOpts())
		})
	},
}

var queryByPolygonCmd = &cobra.Command{
	Use:   "by-polygon",
	Short: "Parcels intersecting a polygon given as lon_lat-lon_lat-...",
	RunE: func(cmd *cobra.Command, _ []string) error {
		vertices, err := query.ParsePolygon(qPolygon)
		if err != nil {
			return err
		}
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelsByPolygon(ctx, ds, vertices, parcelOpts())
		})
	},
}

var queryTimeSeriesCmd = &cobra.Command{
	Use:   "timeseries",
	Short: "Signature time series of a parcel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelTimeSeries(ctx, ds, qPID, query.TimeSeriesOptions{
				PType:     queryPType,
				Type:      qSeries,
				Band:      qBand,
				SCL:       qSCL,
				Reference: qRef,
			})
		})
	},
}

var queryWeatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Daily weather series of a parcel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelWeatherTS(ctx, ds, qPID, queryPType)
		})
	},
}

var querySCLCmd = &cobra.Command{
	Use:   "scl",
	Short: "SCL histograms of a parcel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelSCL(ctx, ds, qPID, queryPType)
		})
	},
}

var queryPeersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Nearby parcels with the same crop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.ParcelPeers(ctx, ds, qPID, qDistance, qPeersMax, queryPType)
		})
	},
}

var queryStatsPeersCmd = &cobra.Command{
	Use:   "stats-peers",
	Short: "Parcels whose S2 statistic matches a value or range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			pids, err := svc.ParcelStatsPeers(ctx, ds, query.StatsPeersOptions{
				PType:     queryPType,
				StartDate: qStart,
				EndDate:   qEnd,
				Band:      qBand,
				Stat:      qStat,
				Value:     qValue,
				MaxPeers:  qStatsMax,
			})
			if err != nil {
				return nil, err
			}
			return export.Strings("pids", pids), nil
		})
	},
}

var queryFramesCmd = &cobra.Command{
	Use:   "frames",
	Short: "Sentinel-2 frames covering a parcel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			frames, err := svc.S2Frames(ctx, ds, qPID, qStart, qEnd, queryPType)
			if err != nil {
				return nil, err
			}
			return export.Strings("frames", frames), nil
		})
	},
}

var querySRIDCmd = &cobra.Command{
	Use:   "srid",
	Short: "SRID of the parcels table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			srid, err := svc.SRID(ctx, ds, queryPType)
			if err != nil {
				return nil, err
			}
			return export.Strings("srid", []string{strconv.Itoa(srid)}), nil
		})
	},
}

var queryCentroidCmd = &cobra.Command{
	Use:   "centroid",
	Short: "Centroid of a parcel, or of the table without --pid",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			switch {
			case qPID == "":
				return svc.TableCentroid(ctx, ds, queryPType)
			case qPolygonOutline:
				return svc.PolygonCentroid(ctx, ds, qPID, queryPType)
			}
			c, err := svc.ParcelCentroid(ctx, ds, qPID, queryPType)
			if err != nil {
				return nil, err
			}
			return &query.Result{
				Columns: []string{"clon", "clat"},
				Rows:    [][]any{{c[0], c[1]}},
			}, nil
		})
	},
}

var queryPIDsCmd = &cobra.Command{
	Use:   "pids",
	Short: "Sample parcel identifiers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			pids, err := svc.PIDs(ctx, ds, qLimit, queryPType, qRandom)
			if err != nil {
				return nil, err
			}
			return export.Strings("pids", pids), nil
		})
	},
}

var queryMarkersCmd = &cobra.Command{
	Use:   "markers",
	Short: "Signal markers of a parcel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runQuery(cmd, func(ctx context.Context, svc *query.Service, ds *dataset.Dataset) (*query.Result, error) {
			return svc.Markers(ctx, ds, ds.AOI(), ds.Year, qPID)
		})
	},
}

func init() {
	pf := queryCmd.PersistentFlags()
	pf.StringVar(&queryDataset, "dataset", "", "dataset name, e.g. es_2020")
	pf.StringVar(&queryAOI, "aoi", "", "area of interest (with --year)")
	pf.StringVar(&queryYear, "year", "", "dataset year (with --aoi)")
	pf.StringVar(&queryPType, "ptype", "", "parcel type table variant")
	pf.StringVar(&queryFormat, "format", export.FormatTable, "output format: json, csv, xlsx, table")
	pf.StringVarP(&queryOut, "out", "o", "", "write output to file instead of stdout")

	for _, c := range []*cobra.Command{queryByLocationCmd, queryByIDCmd, queryByPolygonCmd} {
		c.Flags().BoolVar(&qGeometry, "geometry", false, "include the parcel geometry as GeoJSON")
		c.Flags().BoolVar(&qWGS84, "wgs84", false, "reproject the geometry to EPSG:4326")
	}
	queryByLocationCmd.Flags().Float64Var(&qLon, "lon", 0, "longitude (WGS84)")
	queryByLocationCmd.Flags().Float64Var(&qLat, "lat", 0, "latitude (WGS84)")
	queryByPolygonCmd.Flags().StringVar(&qPolygon, "polygon", "", "polygon vertices lon_lat-lon_lat-...")
	queryByPolygonCmd.Flags().BoolVar(&qOnlyIDs, "only-ids", true, "return only parcel ids")

	for _, c := range []*cobra.Command{
		queryByIDCmd, queryTimeSeriesCmd, queryWeatherCmd, querySCLCmd,
		queryPeersCmd, queryFramesCmd, queryCentroidCmd, queryMarkersCmd,
	} {
		c.Flags().StringVar(&qPID, "pid", "", "parcel id")
	}

	queryTimeSeriesCmd.Flags().StringVar(&qSeries, "type", query.SeriesS2, "series type: s2, bs, c6, c1")
	queryTimeSeriesCmd.Flags().StringVar(&qBand, "band", "", "limit to one band")
	queryTimeSeriesCmd.Flags().BoolVar(&qSCL, "scl", true, "join SCL histograms")
	queryTimeSeriesCmd.Flags().BoolVar(&qRef, "ref", false, "include catalog references")

	queryPeersCmd.Flags().Float64Var(&qDistance, "distance", 2000, "search radius in metres")
	queryPeersCmd.Flags().IntVar(&qPeersMax, "max", 10, "maximum peers")

	for _, c := range []*cobra.Command{queryStatsPeersCmd, queryFramesCmd} {
		c.Flags().StringVar(&qStart, "start", "", "start date (YYYY-MM-DD)")
		c.Flags().StringVar(&qEnd, "end", "", "end date (YYYY-MM-DD), inclusive")
	}
	queryStatsPeersCmd.Flags().StringVar(&qBand, "band", "", "signature band")
	queryStatsPeersCmd.Flags().StringVar(&qStat, "stat", "mean", "statistic: count, mean, std, min, p25, p50, p75, max")
	queryStatsPeersCmd.Flags().StringVar(&qValue, "value", "", "value or X-Y range")
	queryStatsPeersCmd.Flags().IntVar(&qStatsMax, "max", query.DefaultStatsPeers, "maximum parcels")

	queryCentroidCmd.Flags().BoolVar(&qPolygonOutline, "polygon", false, "include the parcel outline")

	queryPIDsCmd.Flags().IntVar(&qLimit, "limit", 100, "number of ids")
	queryPIDsCmd.Flags().BoolVar(&qRandom, "random", false, "sample ids from random table blocks")

	queryCmd.AddCommand(
		queryByLocationCmd, queryByIDCmd, queryByPolygonCmd,
		queryTimeSeriesCmd, queryWeatherCmd, querySCLCmd,
		queryPeersCmd, queryStatsPeersCmd, queryFramesCmd,
		querySRIDCmd, queryCentroidCmd, queryPIDsCmd, queryMarkersCmd,
	)
	rootCmd.AddCommand(queryCmd)
}
