// Package db provides the PostGIS connection pool abstraction, the per-database
// connection provider and the COPY helper used by parcel imports.
package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of *pgxpool.Pool used by the query layer. pgxmock's
// pool satisfies it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Config describes one named database connection.
type Config struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Connect opens a pgx pool for cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "db: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping")
	}
	return pool, nil
}

// ConnectFunc opens a pool for a database configuration.
type ConnectFunc func(ctx context.Context, cfg Config) (Pool, error)

// DefaultConnect is the ConnectFunc backed by pgxpool.
func DefaultConnect(ctx context.Context, cfg Config) (Pool, error) {
	return Connect(ctx, cfg)
}

// Provider hands out one lazily-opened pool per configured database name.
// Datasets refer to databases by name through their "db" field. Names are
// case-insensitive, as config keys are lower-cased on load.
type Provider struct {
	mu      sync.Mutex
	configs map[string]Config
	conns   map[string]*conn
	connect ConnectFunc
}

// conn is one database's pool, or the attempt to open it. done is closed once
// pool and err are set.
type conn struct {
	done chan struct{}
	pool Pool
	err  error
}

// NewProvider creates a Provider for the named database configurations.
// A nil connect uses DefaultConnect.
func NewProvider(configs map[string]Config, connect ConnectFunc) *Provider {
	if connect == nil {
		connect = DefaultConnect
	}
	folded := make(map[string]Config, len(configs))
	for name, cfg := range configs {
		folded[strings.ToLower(name)] = cfg
	}
	return &Provider{
		configs: folded,
		conns:   make(map[string]*conn),
		connect: connect,
	}
}

// Pool returns the pool for the named database, connecting on first use.
// Concurrent callers for the same database share one connect attempt;
// different databases connect in parallel. A failed attempt is retried by
// the next call.
func (p *Provider) Pool(ctx context.Context, name string) (Pool, error) {
	name = strings.ToLower(name)

	p.mu.Lock()
	c, ok := p.conns[name]
	if !ok {
		cfg, configured := p.configs[name]
		switch {
		case !configured:
			p.mu.Unlock()
			return nil, eris.Errorf("db: no database configured with name %q", name)
		case cfg.URL == "":
			p.mu.Unlock()
			return nil, eris.Errorf("db: database %q has no url", name)
		}
		c = &conn{done: make(chan struct{})}
		p.conns[name] = c
		p.mu.Unlock()

		p.open(ctx, name, cfg, c)
	} else {
		p.mu.Unlock()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "db: wait for %s", name)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.pool, nil
}

func (p *Provider) open(ctx context.Context, name string, cfg Config, c *conn) {
	defer close(c.done)

	pool, err := p.connect(ctx, cfg)

	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.conns[name] == c
	switch {
	case err != nil:
		c.err = eris.Wrapf(err, "db: connect %s", name)
		if current {
			delete(p.conns, name)
		}
	case !current:
		// Provider was closed while connecting.
		pool.Close()
		c.err = eris.Errorf("db: provider closed while connecting %s", name)
	default:
		c.pool = pool
		zap.L().Info("db: connected", zap.String("database", name))
	}
}

// Names returns the configured database names in sorted order.
func (p *Provider) Names() []string {
	names := make([]string, 0, len(p.configs))
	for name := range p.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every pool opened so far.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Attempts still connecting see their entry gone and close their own pool.
	for name, c := range p.conns {
		if c.pool != nil {
			c.pool.Close()
		}
		delete(p.conns, name)
	}
}
