// Command legacy-import moves wallets from a legacy JSON export into the
// ledger. Running it twice over the same file changes nothing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/legacy"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/wallet"
	wallet_db "ms-ledger/internal/wallet/db"
)

func main() {
	file := flag.String("file", "legacy_wallets.json", "JSON array of legacy wallet records")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	ctx := context.Background()

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("read %s: %v", *file, err))
	}
	var records []models.LegacyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("decode %s: %v", *file, err))
	}

	bunDB, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if err := database.Prepare(ctx, bunDB, cfg.Database, log); err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	runner := database.NewRunner(bunDB)
	walletService := wallet.NewWalletService(wallet_db.New(bunDB), runner, events.Nop{}, nil, log, cfg.Ledger)
	adapter := legacy.NewAdapter(walletService, runner, log)

	failed := 0
	for _, rec := range records {
		if _, err := adapter.EnsureWallet(ctx, rec); err != nil {
			failed++
			log.Error("WALLET", fmt.Sprintf("Legacy wallet %q not migrated: %v", rec.Code, err))
		}
	}

	log.Info("APP", fmt.Sprintf("Legacy import done: %d record(s), %d failed", len(records), failed))
	if failed > 0 {
		bunDB.Close()
		log.Close()
		os.Exit(1)
	}
}
