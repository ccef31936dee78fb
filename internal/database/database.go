// internal/database/database.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a connection pool and verifies it.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Printf("Connected to PostgreSQL (%s).", cfg.ConnConfig.Host)
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS match_history (
		game_id           UUID PRIMARY KEY,
		room_id           UUID NOT NULL,
		game_mode         TEXT NOT NULL,
		board_size        INT NOT NULL,
		theme             TEXT NOT NULL,
		completion_reason TEXT NOT NULL,
		winner_id         UUID,
		player_ids        TEXT[] NOT NULL,
		players           JSONB NOT NULL,
		opponents         JSONB NOT NULL,
		started_at        TIMESTAMPTZ NOT NULL,
		duration_ms       BIGINT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS match_history_player_ids_idx ON match_history USING GIN (player_ids)`,
	`CREATE INDEX IF NOT EXISTS match_history_created_at_idx ON match_history (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS blocked_users (
		user_id                   UUID PRIMARY KEY,
		is_active                 BOOLEAN NOT NULL,
		reason                    TEXT NOT NULL,
		blocked_at                TIMESTAMPTZ NOT NULL,
		suspicious_activity_count INT NOT NULL DEFAULT 0,
		suspicious_activities     JSONB NOT NULL DEFAULT '[]',
		block_history             JSONB NOT NULL DEFAULT '[]',
		unblocked_at              TIMESTAMPTZ,
		unblocked_by              TEXT NOT NULL DEFAULT '',
		unblock_reason            TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
