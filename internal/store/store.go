// Package store is the persistent-state collaborator: relational tables
// trades, positions, and trade_log, reached through one
// pgxpool.Pool. The circuit-breaker wrapping for outbound calls lives in
// internal/infra, which wraps the transport clients, not the store
// directly — writes to the same row already serialize via row-level
// locking.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// poolIface is the narrow surface Store needs from a database connection,
// satisfied by both *pgxpool.Pool and pgxmock.PgxPoolIface, so unit tests
// never touch a real database.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store wraps the PostgreSQL connection pool backing the trade/position
// persistence contract.
type Store struct {
	pool poolIface
	log  zerolog.Logger
}

// Open creates the connection pool and ensures the schema exists.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, log: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info().Msg("store connection pool ready")
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity, used by the operator health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// NewWithPool constructs a Store directly from an existing pool or mock,
// skipping connection setup. Used by tests.
func NewWithPool(pool poolIface, logger zerolog.Logger) *Store {
	return &Store{pool: pool, log: logger}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id BIGSERIAL PRIMARY KEY,
	input_mint TEXT NOT NULL,
	output_mint TEXT NOT NULL,
	input_amount_atomic BIGINT NOT NULL,
	input_decimals INT NOT NULL,
	output_decimals INT NOT NULL DEFAULT 9,
	status TEXT NOT NULL,
	transaction_hash TEXT,
	actual_output_amount BIGINT,
	error_message TEXT,
	strategy_id TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	confirmed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_hash ON trades(transaction_hash);

CREATE TABLE IF NOT EXISTS positions (
	token_mint TEXT PRIMARY KEY,
	amount DOUBLE PRECISION NOT NULL,
	entry_price_sol DOUBLE PRECISION NOT NULL,
	entry_timestamp TIMESTAMPTZ NOT NULL,
	high_water_mark DOUBLE PRECISION NOT NULL,
	entry_trade_hash TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trade_log (
	id BIGSERIAL PRIMARY KEY,
	trade_id BIGINT NOT NULL REFERENCES trades(trade_id),
	token_mint TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	price_sol DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL,
	reference_hash TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trade_log_token ON trade_log(token_mint);
`

// migrate applies the schema idempotently: no separate migration tool or
// schema_version table, just CREATE TABLE IF NOT EXISTS re-applied on
// every startup.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}
