// Package database opens the relational databases sqlscribe reads from.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

const (
	DriverPGX      = "pgx"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func ConfigFromTarget(cfg config.TargetConfig) Config {
	return Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}

// Open connects with the named driver, applies pool settings and pings.
// An empty DSN is allowed for duckdb and means an in-memory database.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPGX
	}
	switch driver {
	case DriverPGX, DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
	case DriverDuckDB:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	dsn := cfg.DSN
	if driver == DriverDuckDB {
		dsn = withoutExternalAccess(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	configurePool(db, cfg)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	return db, nil
}

// withoutExternalAccess turns off DuckDB's host file and network access
// (read_csv, httpfs and friends) unless the DSN already sets it.
func withoutExternalAccess(dsn string) string {
	if strings.Contains(strings.ToLower(dsn), "enable_external_access=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "enable_external_access=false"
}

func configurePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// SupportsReadOnlyTx reports whether driver honours sql.TxOptions.ReadOnly.
// go-duckdb refuses read-only transactions outright.
func SupportsReadOnlyTx(driver string) bool {
	return driver != DriverDuckDB
}
