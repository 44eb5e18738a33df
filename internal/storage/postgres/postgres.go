// Package postgres is the only storage.Store implementation: a pgx/v5
// connection pool backing the entity set from spec §3, migrated with
// golang-migrate and written in bulk with UNNEST-based upserts.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store implements storage.Store over a pgxpool connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Open parses databaseURL and establishes the pool. Connection limits are
// left to the URL/pgx defaults; the batch writer pool (C8) is the layer
// that enforces write concurrency, not this pool itself.
func Open(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool, log: log}, nil
}

// Close implements storage.Store.
func (s *Store) Close() {
	s.pool.Close()
}
