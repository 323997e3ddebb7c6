package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database/migrations"
	"ms-ledger/internal/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured database, retrying the first ping the way
// the services do on container start-up.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.DSN == "" && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("DB_DSN not set for driver %s", cfg.Driver)
	}

	var (
		sqldb *sql.DB
		err   error
	)

	retries := cfg.ConnRetries
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to %s (attempt %d/%d)", cfg.Driver, i+1, retries))
		sqldb, err = openSQL(cfg)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open %s: %v", cfg.Driver, err))
			if i < retries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", cfg.Driver, err))
		sqldb.Close()
		if i < retries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", cfg.Driver, retries, err)
	}

	log.Info("DATABASE", fmt.Sprintf("✅ %s connection successful", cfg.Driver))
	return bun.NewDB(sqldb, dialectFor(cfg.Driver)), nil
}

func openSQL(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		configurePool(sqldb, cfg)
		return sqldb, nil
	case DriverMySQL:
		sqldb, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, err
		}
		configurePool(sqldb, cfg)
		return sqldb, nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:ms-ledger.db?cache=shared"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; one connection keeps transactions serialized.
		sqldb.SetMaxOpenConns(1)
		return sqldb, nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
}

func configurePool(sqldb *sql.DB, cfg config.DatabaseConfig) {
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
}

// dialectFor picks the bun dialect for DB_DRIVER; anything unknown is PostgreSQL.
func dialectFor(driver string) schema.Dialect {
	switch driver {
	case DriverMySQL:
		return mysqldialect.New()
	case DriverSQLite:
		return sqlitedialect.New()
	}
	return pgdialect.New()
}

// Prepare brings the schema up to date: versioned migrations on PostgreSQL,
// model-driven table creation on MySQL and SQLite.
func Prepare(ctx context.Context, db *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) error {
	if !cfg.AutoMigrate {
		log.Info("DATABASE", "AUTO_MIGRATE disabled, skipping schema preparation")
		return nil
	}

	if cfg.Driver == DriverPostgres {
		runner := migrations.NewRunner(db, migrations.DefaultOptions(), log)
		if err := runner.RunMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	}

	if err := CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.LogDatabase("MIGRATE", cfg.Driver, "Schema created from models")
	return nil
}
