package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/credo-auth/credo/internal/config"
)

const (
	pingTimeout  = 5 * time.Second
	maxOpenConns = 25
	maxIdleConns = 5
	connMaxIdle  = 2 * time.Minute
	connMaxLife  = 30 * time.Minute
)

// Open connects to Postgres and returns a Bun DB wrapper with pool tuning
// applied. The connection is verified with a bounded ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxIdleTime(connMaxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return bun.NewDB(sqlDB, pgdialect.New()), nil
}
