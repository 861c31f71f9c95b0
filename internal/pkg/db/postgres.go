// Package db provides PostgreSQL connection management and schema migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"league-engine/internal/config"
)

// Pool wraps pgxpool.Pool with additional functionality.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure pool settings
	poolConfig.MaxConns = int32(cfg.PoolSize)
	poolConfig.MinConns = int32(cfg.PoolSize / 4) // 25% of max as minimum
	if poolConfig.MinConns < 1 {
		poolConfig.MinConns = 1
	}

	// Connection timeouts
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	} else {
		poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second
	}

	// Connection lifetime settings
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	} else {
		poolConfig.MaxConnLifetime = time.Hour
	}

	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	} else {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	// Health check settings
	poolConfig.HealthCheckPeriod = 30 * time.Second

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int("pool_size", cfg.PoolSize).
		Msg("Connecting to PostgreSQL")

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}

// Stats returns pool statistics for monitoring.
func (p *Pool) Stats() *pgxpool.Stat {
	return p.Pool.Stat()
}

// HealthCheck performs a health check on the database connection.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// Migrate applies the engine schema. Shared by the daemon and the
// integration test harness so both run against the same definitions.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "users",
			sql: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					external_id VARCHAR(64) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					experience DOUBLE PRECISION NOT NULL DEFAULT 2000,
					priority INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			name: "seasons",
			sql: `
				CREATE TABLE IF NOT EXISTS seasons (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					starts_at TIMESTAMPTZ NOT NULL,
					ends_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE TABLE IF NOT EXISTS season_participants (
					season_id BIGINT NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (season_id, user_id)
				);
			`,
		},
		{
			name: "season_scores",
			sql: `
				CREATE TABLE IF NOT EXISTS season_scores (
					season_id BIGINT NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					rating DOUBLE PRECISION NOT NULL,
					seed_rating DOUBLE PRECISION NOT NULL,
					win_points INT NOT NULL DEFAULT 0,
					entry_points DOUBLE PRECISION NOT NULL DEFAULT 0,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (season_id, user_id)
				);
			`,
		},
		{
			name: "entry_pools",
			sql: `
				CREATE TABLE IF NOT EXISTS entry_pools (
					id BIGSERIAL PRIMARY KEY,
					season_id BIGINT NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
					week_number INT NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'open',
					opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					closed_at TIMESTAMPTZ,
					UNIQUE (season_id, week_number)
				);
				CREATE TABLE IF NOT EXISTS entry_applications (
					id BIGSERIAL PRIMARY KEY,
					pool_id BIGINT NOT NULL REFERENCES entry_pools(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					status VARCHAR(16) NOT NULL DEFAULT 'confirmed',
					submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (pool_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_entry_applications_pool ON entry_applications(pool_id, status);
			`,
		},
		{
			name: "sessions",
			sql: `
				CREATE TABLE IF NOT EXISTS sessions (
					id BIGSERIAL PRIMARY KEY,
					season_id BIGINT NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
					week_number INT NOT NULL,
					room_label VARCHAR(16) NOT NULL,
					capacity INT NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'pending',
					scheduled_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_sessions_season_status ON sessions(season_id, status);
				CREATE INDEX IF NOT EXISTS idx_sessions_season_order ON sessions(season_id, scheduled_at, id);
				CREATE TABLE IF NOT EXISTS session_members (
					session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					status VARCHAR(16) NOT NULL DEFAULT 'confirmed',
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (session_id, user_id)
				);
				CREATE TABLE IF NOT EXISTS session_stats (
					session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					wins INT NOT NULL DEFAULT 0,
					PRIMARY KEY (session_id, user_id)
				);
			`,
		},
		{
			name: "matches",
			sql: `
				CREATE TABLE IF NOT EXISTS matches (
					id BIGSERIAL PRIMARY KEY,
					session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					match_index INT NOT NULL,
					team_a BIGINT[] NOT NULL,
					team_b BIGINT[] NOT NULL,
					winner VARCHAR(1),
					stage VARCHAR(64),
					decided_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (session_id, match_index)
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_one_open
					ON matches(session_id) WHERE winner IS NULL;
			`,
		},
		{
			name: "settlement_entries",
			sql: `
				CREATE TABLE IF NOT EXISTS settlement_entries (
					season_id BIGINT NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
					session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					win_delta INT NOT NULL,
					rate_delta DOUBLE PRECISION NOT NULL,
					batch_id UUID NOT NULL,
					calculated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (season_id, session_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_settlement_entries_user ON settlement_entries(season_id, user_id);
			`,
		},
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Info().Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
