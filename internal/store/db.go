package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolOptions tunes the database/sql pool. Zero values fall back to defaults.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func Open(ctx context.Context, databaseURL string, opts ...PoolOptions) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pool := PoolOptions{MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute}
	if len(opts) > 0 {
		if opts[0].MaxOpenConns > 0 {
			pool.MaxOpenConns = opts[0].MaxOpenConns
		}
		if opts[0].MaxIdleConns > 0 {
			pool.MaxIdleConns = opts[0].MaxIdleConns
		}
		if opts[0].ConnMaxLifetime > 0 {
			pool.ConnMaxLifetime = opts[0].ConnMaxLifetime
		}
		if opts[0].ConnMaxIdleTime > 0 {
			pool.ConnMaxIdleTime = opts[0].ConnMaxIdleTime
		}
	}
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetMaxOpenConns(pool.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
