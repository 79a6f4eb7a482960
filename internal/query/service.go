// Package query builds and runs the parcel, time-series and geometry queries
// against a dataset's PostGIS database.
//
// Every caller-supplied value is bound as a statement parameter. Table and
// column names come from the dataset configuration and are quoted; the
// parcel-type suffix and marker schema are validated before use.
//
// Row-returning operations distinguish three outcomes: a Result with rows, an
// empty Result (columns only), and a non-nil error carrying the cause.
package query

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/db"
	"github.com/sells-group/parcel-query/internal/metrics"
)

var (
	// ErrInvalidArgument is returned for malformed caller input.
	ErrInvalidArgument = eris.New("query: invalid argument")
	// ErrNotFound is returned by single-value lookups that match nothing.
	ErrNotFound = eris.New("query: not found")
)

// Pools resolves a dataset's database name to a connection pool.
type Pools interface {
	Pool(ctx context.Context, name string) (db.Pool, error)
}

// Service runs queries against the databases of configured datasets.
type Service struct {
	pools   Pools
	metrics *metrics.Collector
}

// NewService creates a Service. m may be nil.
func NewService(pools Pools, m *metrics.Collector) *Service {
	return &Service{pools: pools, metrics: m}
}

// run executes sql against the dataset's database and collects the rows.
func (s *Service) run(ctx context.Context, ds *dataset.Dataset, op, sql string, args ...any) (*Result, error) {
	log := zap.L().With(
		zap.String("operation", op),
		zap.String("dataset", ds.Name),
	)

	pool, err := s.pools.Pool(ctx, ds.DB)
	if err != nil {
		s.metrics.ObserveQuery(op, metrics.OutcomeFailed, 0)
		return nil, eris.Wrapf(err, "query: %s", op)
	}

	start := time.Now()
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		s.metrics.ObserveQuery(op, metrics.OutcomeFailed, time.Since(start))
		log.Error("query: execute failed", zap.Error(err))
		return nil, eris.Wrapf(err, "query: %s", op)
	}

	res, err := collectResult(rows)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveQuery(op, metrics.OutcomeFailed, elapsed)
		log.Error("query: read failed", zap.Error(err))
		return nil, eris.Wrapf(err, "query: %s", op)
	}

	if res.Empty() {
		s.metrics.ObserveQuery(op, metrics.OutcomeEmpty, elapsed)
		log.Debug("query: no rows", zap.Duration("elapsed", elapsed))
		return res, nil
	}

	s.metrics.ObserveQuery(op, metrics.OutcomeRows, elapsed)
	log.Debug("query: done", zap.Int("rows", res.Len()), zap.Duration("elapsed", elapsed))
	return res, nil
}

// scanOne executes a single-row query and scans it into dest. No matching row
// yields ErrNotFound.
func (s *Service) scanOne(ctx context.Context, ds *dataset.Dataset, op, sql string, args []any, dest ...any) error {
	pool, err := s.pools.Pool(ctx, ds.DB)
	if err != nil {
		s.metrics.ObserveQuery(op, metrics.OutcomeFailed, 0)
		return eris.Wrapf(err, "query: %s", op)
	}

	start := time.Now()
	err = pool.QueryRow(ctx, sql, args...).Scan(dest...)
	elapsed := time.Since(start)
	switch {
	case eris.Is(err, pgx.ErrNoRows):
		s.metrics.ObserveQuery(op, metrics.OutcomeEmpty, elapsed)
		zap.L().Debug("query: no rows", zap.String("operation", op), zap.String("dataset", ds.Name))
		return eris.Wrapf(ErrNotFound, "query: %s", op)
	case err != nil:
		s.metrics.ObserveQuery(op, metrics.OutcomeFailed, elapsed)
		zap.L().Error("query: execute failed",
			zap.String("operation", op), zap.String("dataset", ds.Name), zap.Error(err))
		return eris.Wrapf(err, "query: %s", op)
	}

	s.metrics.ObserveQuery(op, metrics.OutcomeRows, elapsed)
	return nil
}

func invalidArg(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidArgument, format, args...)
}
