// Package postgres holds the connection pool and query instrumentation shared
// by the PostgreSQL session store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOption customizes NewPool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	maxConns  int32
	slowQuery time.Duration
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) PoolOption {
	return func(c *poolConfig) { c.maxConns = n }
}

// WithSlowQueryThreshold only logs successful queries slower than d.
// Failed queries are always logged.
func WithSlowQueryThreshold(d time.Duration) PoolOption {
	return func(c *poolConfig) { c.slowQuery = d }
}

// NewPool connects to url, installs the otel + logging query tracer and
// verifies the connection with a ping.
func NewPool(ctx context.Context, url string, opts ...PoolOption) (*pgxpool.Pool, error) {
	var pc poolConfig
	for _, o := range opts {
		o(&pc)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.maxConns > 0 {
		cfg.MaxConns = pc.maxConns
	}
	cfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), pc.slowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
