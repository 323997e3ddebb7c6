// Command migrate applies or rolls back the PostgreSQL schema.
package main

import (
	"flag"

	"github.com/joho/godotenv"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/database/migrations"
	"ms-ledger/internal/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	if cfg.Database.Driver != database.DriverPostgres {
		log.Fatal("CONFIG", "versioned migrations only run on postgres; other drivers create the schema on start")
	}

	bunDB, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
	if *down {
		if err := runner.MigrateDown(); err != nil {
			log.Fatal("DATABASE", err.Error())
		}
		log.Info("DATABASE", "✅ All migrations rolled back")
		return
	}
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	log.Info("DATABASE", "✅ Migrations applied")
}
