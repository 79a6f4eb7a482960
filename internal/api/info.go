package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/query"
)

const (
	infoSamplePool = 100
	infoSampleSize = 5
	infoWorkers    = 4
)

// aoiInfo summarizes the datasets of one AOI.
type aoiInfo struct {
	Years           []string          `json:"years"`
	Year            string            `json:"year"`
	Description     string            `json:"description,omitempty"`
	SRID            int               `json:"srid"`
	TimeSeries      []string          `json:"time_series"`
	IDColumn        string            `json:"id_table_column"`
	IDExamples      []string          `json:"id_examples"`
	RequestExamples map[string]string `json:"request_examples"`
}

// handleInfo lists the AOIs the user may query, with sample parcel ids and
// request examples for the most recent year of each.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	selected := strings.ToLower(r.URL.Query().Get("aoi"))
	user := userFrom(r.Context())

	years := make(map[string][]string)
	for _, name := range s.registry.Names() {
		aoi, year, _ := strings.Cut(name, "_")
		if selected != "" && aoi != selected {
			continue
		}
		if !s.allowed(user, aoi) {
			continue
		}
		years[aoi] = append(years[aoi], year)
	}

	var mu sync.Mutex
	aois := make(map[string]aoiInfo, len(years))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(infoWorkers)
	for aoi, ys := range years {
		g.Go(func() error {
			info, err := s.aoiInfo(ctx, aoi, ys)
			if err != nil {
				zap.L().Warn("api: skipping aoi in info", zap.String("aoi", aoi), zap.Error(err))
				return nil
			}
			mu.Lock()
			aois[aoi] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"aois": aois})
}

func (s *Server) aoiInfo(ctx context.Context, aoi string, years []string) (aoiInfo, error) {
	slices.Sort(years)
	year := years[len(years)-1]
	ds, err := s.registry.Lookup(aoi, year)
	if err != nil {
		return aoiInfo{}, err
	}
	idColumn, err := ds.Column(dataset.ColumnParcelID)
	if err != nil {
		return aoiInfo{}, err
	}

	srid, err := s.svc.SRID(ctx, ds, "")
	if err != nil {
		return aoiInfo{}, err
	}
	pids, err := s.svc.PIDs(ctx, ds, infoSamplePool, "", false)
	if err != nil {
		return aoiInfo{}, err
	}
	if len(pids) > infoSampleSize {
		pids = pids[:infoSampleSize]
	}

	info := aoiInfo{
		Years:           years,
		Year:            year,
		Description:     ds.Description,
		SRID:            srid,
		TimeSeries:      []string{},
		IDColumn:        idColumn,
		IDExamples:      pids,
		RequestExamples: make(map[string]string),
	}
	for _, series := range []string{query.SeriesS2, query.SeriesBS, query.SeriesC6} {
		if ds.HasTable(series) {
			info.TimeSeries = append(info.TimeSeries, series)
		}
	}

	if len(pids) > 0 {
		base := fmt.Sprintf("aoi=%s&year=%s&pid=%s", aoi, year, pids[0])
		info.RequestExamples["parcelByID"] = "/query/parcelByID?" + base + "&withGeometry=True"
		for _, series := range info.TimeSeries {
			example := "/query/parcelTimeSeries?" + base + "&tstype=" + series
			if series == query.SeriesS2 {
				example += "&scl=True"
			}
			info.RequestExamples["parcelTimeSeries_"+series] = example
		}
		info.RequestExamples["weatherTimeSeries"] = "/query/weatherTimeSeries?" + base
		info.RequestExamples["parcelPeers"] = "/query/parcelPeers?" + base
	}
	return info, nil
}
