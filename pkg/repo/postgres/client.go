// Package postgres implements Trinity's repo interfaces on top of
// jackc/pgx, with schema managed by embedded golang-migrate migrations.
// It replaces the teacher's entgo.io/ent-generated client: same pgx pool
// underneath, hand-written SQL instead of generated queries.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures the Postgres connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int32
	MaxIdleLifetime time.Duration
}

// Client owns the pgx connection pool shared by every repository
// implementation in this package.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens a pool against cfg.DSN, applies pending migrations, and
// returns a ready-to-use Client. Mirrors the teacher's
// pkg/database/client.go: open pool, run migrations, return wrapped
// client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleLifetime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxIdleLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("postgres client ready", "max_conns", poolCfg.MaxConns)
	return &Client{Pool: pool}, nil
}

// runMigrations applies every pending golang-migrate migration embedded
// in this package. Uses a dedicated database/sql connection rather than
// the pgx pool, since the migrate postgres driver expects a *sql.DB; the
// connection is closed immediately after, the shared pool is untouched.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("build migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Health reports whether the pool can serve a connection.
func (c *Client) Health(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.Pool.Close()
}
