package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-query/internal/dataset"
	"github.com/sells-group/parcel-query/internal/db"
	"github.com/sells-group/parcel-query/internal/metrics"
	"github.com/sells-group/parcel-query/internal/query"
)

// queryEnv holds the shared dependencies of the commands that touch the
// databases.
type queryEnv struct {
	Registry *dataset.Registry
	Pools    *db.Provider
	Metrics  *metrics.Collector
	Service  *query.Service
}

// Close releases every open connection pool.
func (e *queryEnv) Close() {
	e.Pools.Close()
}

// initEnv validates the config for mode, loads the datasets and prepares
// lazily connected pools.
func initEnv(mode string) (*queryEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	registry, err := dataset.Load(cfg.Datasets.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load datasets")
	}

	pools := db.NewProvider(cfg.Databases, nil)
	m := metrics.NewCollector(prometheus.NewRegistry())

	return &queryEnv{
		Registry: registry,
		Pools:    pools,
		Metrics:  m,
		Service:  query.NewService(pools, m),
	}, nil
}
