package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/export"
	"github.com/sells-group/parcel-query/internal/query"
)

const (
	defaultPeerDistance = 2000.0
	defaultMaxPeers     = 10
	maxPeersLimit       = 10000
	defaultSeriesType   = query.SeriesS2
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleParcelByLocation(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid lon")
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid lat")
		return
	}

	res, err := s.svc.ParcelByLocation(r.Context(), ds, lon, lat, parcelOptions(r))
	s.respond(w, r, res, err)
}

func (s *Server) handleParcelByID(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	res, err := s.svc.ParcelByID(r.Context(), ds, r.URL.Query().Get("pid"), parcelOptions(r))
	s.respond(w, r, res, err)
}

func (s *Server) handleParcelsByPolygon(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	vertices, err := query.ParsePolygon(r.URL.Query().Get("polygon"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.ParcelsByPolygon(r.Context(), ds, vertices, parcelOptions(r))
	s.respond(w, r, res, err)
}

func (s *Server) handleParcelTimeSeries(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	pid := q.Get("pid")
	ptype := q.Get("ptype")
	tstype := strings.ToLower(q.Get("tstype"))
	if tstype == "" {
		tstype = defaultSeriesType
	}

	var (
		res *query.Result
		err error
	)
	if tstype == query.SeriesSCL {
		res, err = s.svc.ParcelSCL(r.Context(), ds, pid, ptype)
	} else {
		scl := flag(q.Get("scl"), true)
		if tstype == query.SeriesBS || tstype == query.SeriesC6 {
			scl = false
		}
		res, err = s.svc.ParcelTimeSeries(r.Context(), ds, pid, query.TimeSeriesOptions{
			PType:     ptype,
			Type:      tstype,
			Band:      q.Get("band"),
			SCL:       scl,
			Reference: flag(q.Get("ref"), false),
		})
	}

	if err == nil && strings.EqualFold(q.Get("tsformat"), export.FormatCSV) {
		s.download(w, res, seriesFilename(ds, ptype, pid, tstype))
		return
	}
	s.respond(w, r, res, err)
}

// seriesFilename names a time-series download. ptype has already passed
// validation by the query that produced the rows.
func seriesFilename(ds *dataset.Dataset, ptype, pid, tstype string) string {
	suffix, _ := dataset.PTypeSuffix(ptype)
	return export.TimeSeriesFilename(ds.AOI(), ds.Year, suffix, pid, tstype)
}

func (s *Server) handleWeatherTimeSeries(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	pid := q.Get("pid")
	ptype := q.Get("ptype")

	res, err := s.svc.ParcelWeatherTS(r.Context(), ds, pid, ptype)
	if err == nil && strings.EqualFold(q.Get("tsformat"), export.FormatCSV) {
		s.download(w, res, seriesFilename(ds, ptype, pid, "WeatherTS"))
		return
	}
	s.respond(w, r, res, err)
}

func (s *Server) handleParcelPeers(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	distance := defaultPeerDistance
	if v := q.Get("distance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid distance")
			return
		}
		distance = d
	}
	maxPeers, ok := maxParam(w, q.Get("max"), defaultMaxPeers)
	if !ok {
		return
	}

	res, err := s.svc.ParcelPeers(r.Context(), ds, q.Get("pid"), distance, maxPeers, q.Get("ptype"))
	s.respond(w, r, res, err)
}

func (s *Server) handleParcelStatsPeers(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	maxPeers, ok := maxParam(w, q.Get("max"), query.DefaultStatsPeers)
	if !ok {
		return
	}

	pids, err := s.svc.ParcelStatsPeers(r.Context(), ds, query.StatsPeersOptions{
		PType:     q.Get("ptype"),
		StartDate: q.Get("start"),
		EndDate:   q.Get("end"),
		Band:      q.Get("band"),
		Stat:      q.Get("stat"),
		Value:     q.Get("value"),
		MaxPeers:  maxPeers,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export.Strings("pids", pids).Columnar())
}

func (s *Server) handleS2Frames(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	frames, err := s.svc.S2Frames(r.Context(), ds, q.Get("pid"), q.Get("start"), q.Get("end"), q.Get("ptype"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export.Strings("frames", frames).Columnar())
}

// handleParcelCentroid returns the centroid of a parcel. With geometry=True
// the parcel outline is included, and without a pid the centroid of the
// dataset's parcels is returned.
func (s *Server) handleParcelCentroid(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	pid := q.Get("pid")
	ptype := q.Get("ptype")

	switch {
	case pid == "":
		res, err := s.svc.TableCentroid(r.Context(), ds, ptype)
		s.respond(w, r, res, err)
	case flag(q.Get("geometry"), false):
		res, err := s.svc.PolygonCentroid(r.Context(), ds, pid, ptype)
		s.respond(w, r, res, err)
	default:
		c, err := s.svc.ParcelCentroid(r.Context(), ds, pid, ptype)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]float64{
			"clon": {c[0]},
			"clat": {c[1]},
		})
	}
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.dataset(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := s.svc.Markers(r.Context(), ds, ds.AOI(), q.Get("year"), q.Get("pid"))
	s.respond(w, r, res, err)
}

// dataset resolves the aoi and year parameters to a configured dataset.
func (s *Server) dataset(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	q := r.URL.Query()
	aoi := strings.ToLower(q.Get("aoi"))
	if aoi == "" {
		aoi = s.server.DefaultAOI
	}
	year := q.Get("year")
	if aoi == "" || year == "" {
		writeJSONError(w, http.StatusBadRequest, "aoi and year are required")
		return nil, false
	}
	if !s.allowed(userFrom(r.Context()), aoi) {
		writeJSONError(w, http.StatusUnauthorized, "not authorized for this dataset")
		return nil, false
	}

	ds, err := s.registry.Lookup(aoi, year)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return ds, true
}

// parcelOptions reads the ptype and geometry parameters of the parcel routes.
func parcelOptions(r *http.Request) query.ParcelOptions {
	q := r.URL.Query()
	return query.ParcelOptions{
		PType:        q.Get("ptype"),
		WithGeometry: flag(q.Get("withGeometry"), false),
		WGS84:        flag(q.Get("wgs84"), false),
		OnlyIDs:      flag(q.Get("only_ids"), true),
	}
}

// flag parses a boolean parameter. Clients send "True"/"False"; absent
// parameters take def.
func flag(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// maxParam parses a row limit, capped at maxPeersLimit.
func maxParam(w http.ResponseWriter, v string, def int) (int, bool) {
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeJSONError(w, http.StatusBadRequest, "invalid max")
		return 0, false
	}
	return min(n, maxPeersLimit), true
}

// respond writes a row result column-oriented or maps the error.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, res *query.Result, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Columnar())
}

// download sends res as a CSV attachment.
func (s *Server) download(w http.ResponseWriter, res *query.Result, filename string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, res); err != nil {
		zap.L().Error("api: write csv", zap.String("filename", filename), zap.Error(err))
	}
}

// fail maps a query error to an HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, query.ErrInvalidArgument),
		eris.Is(err, dataset.ErrInvalidIdentifier),
		eris.Is(err, dataset.ErrMissingRole):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case eris.Is(err, dataset.ErrUnknownDataset):
		writeJSONError(w, http.StatusNotFound, "unknown dataset")
	case eris.Is(err, query.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	default:
		zap.L().Error("api: query failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "query failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
