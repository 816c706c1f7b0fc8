// Package dbx owns the Postgres connection pool, embedded schema migrations,
// and a short-transaction helper shared by every store repository.
package dbx

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memoh-platform/convoy/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool wraps pgxpool.Pool with the process logger attached.
type Pool struct {
	*pgxpool.Pool
	log *slog.Logger
}

// Connect opens a pool sized per PipelineConfig.DBPoolSize / PostgresConfig.PoolSize
// and verifies connectivity with a Ping before returning.
func Connect(ctx context.Context, log *slog.Logger, cfg config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if size := cfg.Pipeline.DBPoolSize; size > 0 {
		poolCfg.MaxConns = int32(size)
	} else if cfg.Postgres.PoolSize > 0 {
		poolCfg.MaxConns = int32(cfg.Postgres.PoolSize)
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool, log: log}, nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.Pool.Close()
}

// Migrate applies every pending embedded migration. A no-change result is
// not an error.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// ensure the postgres migration driver is linked in even though it is only
// referenced through migrate.NewWithSourceInstance's DSN scheme dispatch.
var _ = postgres.Postgres{}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any returned error (including a panic recovered and
// re-raised after rollback). Every multi-statement write in the store
// package goes through this helper so a partial failure never leaves
// related rows in an inconsistent state.
func (p *Pool) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
