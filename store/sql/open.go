package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-transactions/core"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Open builds a persistence client for cfg.Driver. Migrations are registered
// by the caller through the migrations package before calling Migrate.
func Open(cfg core.DatabaseConfig) (*persistence.Client, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg)
	case "postgres", "pq":
		return OpenPostgres(cfg)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database driver %q", cfg.Driver)
	}
}

func OpenSQLite(cfg core.DatabaseConfig) (*persistence.Client, error) {
	cfg.Driver = "sqlite3"
	if strings.TrimSpace(cfg.Server) == "" {
		cfg.Server = "file::memory:?cache=shared&_foreign_keys=on"
	}
	sqlDB, err := openSQLDB(cfg, 1)
	if err != nil {
		return nil, err
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new sqlite persistence client: %w", err)
	}
	return client, nil
}

func OpenPostgres(cfg core.DatabaseConfig) (*persistence.Client, error) {
	cfg.Driver = "postgres"
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := openSQLDB(cfg, 0)
	if err != nil {
		return nil, err
	}
	client, err := persistence.New(cfg, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new postgres persistence client: %w", err)
	}
	return client, nil
}

func openSQLDB(cfg core.DatabaseConfig, maxOpenConns int) (*sql.DB, error) {
	sqlDB, err := sql.Open(cfg.Driver, cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	return sqlDB, nil
}
