// Package database wraps a pgx connection pool with the transaction and
// advisory-lock primitives the eventstore and projection engine build on.
package database

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plaenen/iamcore/pkg/domain"
)

// Executor is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Query
// code written against Executor runs both standalone and inside a
// transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// config holds internal configuration for the pool.
type config struct {
	dsn             string
	maxConns        int32
	minConns        int32
	connMaxLifetime time.Duration
	healthTimeout   time.Duration
}

func defaultConfig() config {
	return config{
		maxConns:        25,
		minConns:        2,
		connMaxLifetime: time.Hour,
		healthTimeout:   5 * time.Second,
	}
}

// Option is a function that configures a Pool.
type Option func(*config)

// WithDSN sets the PostgreSQL connection string.
func WithDSN(dsn string) Option {
	return func(c *config) { c.dsn = dsn }
}

// WithMaxConns sets the maximum number of pooled connections.
func WithMaxConns(n int32) Option {
	return func(c *config) { c.maxConns = n }
}

// WithMinConns sets the number of connections kept open when idle.
func WithMinConns(n int32) Option {
	return func(c *config) { c.minConns = n }
}

// WithConnMaxLifetime caps how long a single connection is reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *config) { c.connMaxLifetime = d }
}

// Pool is a pooled PostgreSQL client.
type Pool struct {
	pgx           *pgxpool.Pool
	healthTimeout time.Duration
}

// New creates a connection pool and verifies connectivity.
func New(ctx context.Context, opts ...Option) (*Pool, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.maxConns
	poolCfg.MinConns = cfg.minConns
	poolCfg.MaxConnLifetime = cfg.connMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.healthTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, domain.NewIntegrationError(err)
	}

	return &Pool{pgx: pool, healthTimeout: cfg.healthTimeout}, nil
}

// Pgx exposes the underlying pgx pool for code that needs it directly.
func (p *Pool) Pgx() *pgxpool.Pool { return p.pgx }

// Exec runs a statement on the active transaction if the context carries one,
// otherwise on the pool.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.Executor(ctx).Exec(ctx, sql, args...)
}

// Query runs a query on the active transaction or the pool.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.Executor(ctx).Query(ctx, sql, args...)
}

// QueryRow runs a single-row query on the active transaction or the pool.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.Executor(ctx).QueryRow(ctx, sql, args...)
}

// Executor returns the transaction carried by ctx, or the pool.
func (p *Pool) Executor(ctx context.Context) Executor {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return p.pgx
}

// Health reports whether the database answers a ping.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()
	if err := p.pgx.Ping(ctx); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.pgx.Close()
}

// LockKey derives the two int32 advisory lock keys for a projection scope.
// The same (name, instanceID) pair always maps to the same key pair.
func LockKey(name, instanceID string) (int32, int32) {
	h1 := fnv.New32a()
	h1.Write([]byte(name))
	h2 := fnv.New32a()
	h2.Write([]byte(instanceID))
	return int32(h1.Sum32()), int32(h2.Sum32())
}

// TryAdvisoryXactLock attempts the transaction-scoped advisory lock for the
// given keys. Must run inside a transaction; the lock releases on
// commit/rollback. Returns false when another session holds the lock.
func TryAdvisoryXactLock(ctx context.Context, ex Executor, key1, key2 int32) (bool, error) {
	var acquired bool
	err := ex.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", key1, key2).Scan(&acquired)
	if err != nil {
		return false, domain.NewIntegrationError(err)
	}
	return acquired, nil
}
