package main

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/warp/afectaciones-engine/api"
	"github.com/warp/afectaciones-engine/config"
	"github.com/warp/afectaciones-engine/store/memory"
	"github.com/warp/afectaciones-engine/store/postgres"
	"github.com/warp/afectaciones-engine/store/sqlite"
)

type engineStore interface {
	api.Store
	Close() error
}

type migrator interface {
	MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error)
}

// openStore opens the configured store. SQLite and Postgres apply pending
// migrations on open.
func openStore(ctx context.Context, cfg *config.Config) (engineStore, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
	}
}
