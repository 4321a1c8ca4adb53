// Package persistence selects and opens the durable store driver.
package persistence

import (
	"context"
	"fmt"
	"time"

	"aquawatch/internal/infra/persistence/memory"
	"aquawatch/internal/infra/persistence/postgres"
	"aquawatch/internal/infra/persistence/sqlite"
	"aquawatch/pkg/domain"
)

// Driver identifies a concrete durable store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Config mirrors the storage section of the aquawatch configuration.
//
//	storage.driver: memory|sqlite|postgres (default sqlite)
//	storage.sqlite_path: path to sqlite file (default ./aquawatch.db)
//	storage.postgres_dsn: DSN when driver=postgres (default local aquawatch database)
//	storage.timeout: per-call deadline for journal writes
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	Timeout     time.Duration
}

// Open builds the configured store. Options are forwarded to the in-memory
// core shared by every driver.
func Open(ctx context.Context, cfg Config, opts ...memory.Option) (domain.DurableStore, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(opts...), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath, cfg.Timeout, opts...)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, cfg.Timeout, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
