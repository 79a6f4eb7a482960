package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sells-group/parcel-query/internal/dataset"
)

type contextKey string

const contextUserKey contextKey = "user"

// adminAOI grants a user access to every dataset.
const adminAOI = "admin"

// observe logs every request and records its route metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(route, status, elapsed)

		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.RequestURI()),
			zap.String("remote", r.RemoteAddr),
			zap.String("user", userFrom(r.Context())),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// rateLimit rejects requests beyond the configured token bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basicAuth verifies HTTP basic credentials against the configured bcrypt
// hashes. A request naming an aoi the user may not query is rejected.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		name, password, ok := r.BasicAuth()
		name = strings.ToLower(name)
		user, known := s.auth.Users[name]
		if !ok || !known || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="Login Required"`)
			writeJSONError(w, http.StatusUnauthorized, "could not verify credentials")
			return
		}

		if aoi := r.URL.Query().Get("aoi"); aoi != "" && !s.allowed(name, aoi) {
			zap.L().Warn("api: dataset access denied", zap.String("user", name), zap.String("aoi", aoi))
			writeJSONError(w, http.StatusUnauthorized, "not authorized for this dataset")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextUserKey, name)))
	})
}

// tileAccess applies the AOI check to the dataset named in a tile path.
func (s *Server) tileAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds := &dataset.Dataset{Name: chi.URLParam(r, "dataset")}
		if s.auth.Enabled && !s.allowed(userFrom(r.Context()), ds.AOI()) {
			writeJSONError(w, http.StatusUnauthorized, "not authorized for this dataset")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowed reports whether user may query datasets of aoi. Users without an
// AOI list, and admins, may query everything.
func (s *Server) allowed(user, aoi string) bool {
	if !s.auth.Enabled {
		return true
	}
	u, ok := s.auth.Users[user]
	if !ok {
		return false
	}
	if len(u.AOIs) == 0 || slices.Contains(u.AOIs, adminAOI) {
		return true
	}
	return slices.ContainsFunc(u.AOIs, func(a string) bool {
		return strings.EqualFold(a, aoi)
	})
}

func userFrom(ctx context.Context) string {
	name, _ := ctx.Value(contextUserKey).(string)
	return name
}
