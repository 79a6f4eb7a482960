// Package api exposes the parcel queries over HTTP.
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/sells-group/parcel-query/internal/config"
	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/metrics"
	"github.com/sells-group/parcel-query/internal/query"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	svc      *query.Service
	registry *dataset.Registry
	metrics  *metrics.Collector
	tiles    http.Handler
	auth     config.AuthConfig
	server   config.ServerConfig
	limiter  *rate.Limiter
}

// NewServer creates a Server. tiles may be nil to disable the tile routes.
func NewServer(svc *query.Service, registry *dataset.Registry, m *metrics.Collector, tiles http.Handler, cfg *config.Config) *Server {
	s := &Server{
		svc:      svc,
		registry: registry,
		metrics:  m,
		tiles:    tiles,
		auth:     cfg.Auth,
		server:   cfg.Server,
	}
	// Config keys arrive lower-cased from viper; fold the rest to match.
	if len(cfg.Auth.Users) > 0 {
		s.auth.Users = make(map[string]config.User, len(cfg.Auth.Users))
		for name, u := range cfg.Auth.Users {
			s.auth.Users[strings.ToLower(name)] = u
		}
	}
	if rl := cfg.Server.RateLimit; rl.RPS > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rl.RPS), burst)
	}
	return s
}

// Router builds the chi router serving every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	origins := s.server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.basicAuth)

		r.Route("/query", func(r chi.Router) {
			r.Get("/info", s.handleInfo)
			r.Get("/parcelByLocation", s.handleParcelByLocation)
			r.Get("/parcelByID", s.handleParcelByID)
			r.Get("/parcelsByPolygon", s.handleParcelsByPolygon)
			r.Get("/parcelTimeSeries", s.handleParcelTimeSeries)
			r.Get("/weatherTimeSeries", s.handleWeatherTimeSeries)
			r.Get("/parcelPeers", s.handleParcelPeers)
			r.Get("/parcelStatsPeers", s.handleParcelStatsPeers)
			r.Get("/s2Frames", s.handleS2Frames)
			r.Get("/parcelCentroid", s.handleParcelCentroid)
			r.Get("/markers", s.handleMarkers)
		})

		if s.tiles != nil {
			r.With(s.tileAccess).Method(http.MethodGet, "/tiles/{dataset}/{z}/{x}/{y}", s.tiles)
		}
	})

	return r
}
