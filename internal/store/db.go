// Package store persists tuning runs and amendment audit records in
// PostgreSQL. The scoring path never touches it; only background workers and
// API reads do.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB creates a new database connection pool and verifies it.
func NewDB(cfg Config, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")
	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the tables this service owns.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tuning_runs (
			id UUID PRIMARY KEY,
			mode VARCHAR(20) NOT NULL,
			metric VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			symbol VARCHAR(20),
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			baseline_sharpe DOUBLE PRECISION,
			baseline_win_rate DOUBLE PRECISION,
			baseline_pnl DOUBLE PRECISION,
			best_weights JSONB,
			best_fitness DOUBLE PRECISION,
			candidates_tested INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tuning_runs_started_at ON tuning_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS amendment_audit (
			id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL,
			authority VARCHAR(20) NOT NULL,
			reason TEXT,
			success BOOLEAN NOT NULL,
			errors JSONB,
			detector_weights JSONB,
			timeframe_weights JSONB,
			enacted_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_amendment_audit_enacted_at ON amendment_audit(enacted_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.log.Info().Msg("database migrations complete")
	return nil
}
