// Package db opens the GORM connection backing the audit trail: SQLite by
// default, PostgreSQL for deployments that need a shared store across
// multiple responder processes.
package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver selects the backing SQL engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config parametrizes Open. DSN is the SQLite file path for DriverSQLite, or
// a libpq connection string for DriverPostgres.
type Config struct {
	Driver Driver
	DSN    string
}

// Open connects to the configured database; audit.NewRecorder migrates the
// audit schema.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "spdm-endpoint.db"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("db: postgres driver requires a DSN")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Driver, err)
	}
	return gdb, nil
}
