package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/kafka"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/orders"
	"ms-ledger/internal/wallet"
	wallet_db "ms-ledger/internal/wallet/db"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if err := database.Prepare(ctx, bunDB, cfg.Database, log); err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	topics := []string{cfg.Kafka.Topics.OrderPlaced, cfg.Kafka.Topics.OrderRefunded}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	walletService := wallet.NewWalletService(
		wallet_db.New(bunDB),
		database.NewRunner(bunDB),
		events.NewKafkaEmitter(producer, cfg.Kafka.Topics, log),
		nil,
		log,
		cfg.Ledger,
	)
	handler := orders.NewHandler(walletService, cfg.Kafka.Topics, log)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID+"-orders", topics, log)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Info("APP", "Shutdown signal received, stopping order consumer")
		cancel()
	}()

	log.Info("APP", fmt.Sprintf("Order consumer listening on %v", topics))
	if err := consumer.Start(ctx, handler.Handle); err != nil {
		log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
	}
	if err := consumer.Close(); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Failed to close consumer: %v", err))
	}
	log.Info("APP", "✅ Order consumer shutdown complete")
}
