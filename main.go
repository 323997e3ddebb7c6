package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"ms-ledger/internal/auth"
	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/floor"
	"ms-ledger/internal/kafka"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/metrics"
	"ms-ledger/internal/models"
	"ms-ledger/internal/qr"
	"ms-ledger/internal/reservation"
	reservation_api "ms-ledger/internal/reservation/api"
	reservation_db "ms-ledger/internal/reservation/db"
	lockredis "ms-ledger/internal/reservation/redis"
	"ms-ledger/internal/sse"
	"ms-ledger/internal/utils"
	"ms-ledger/internal/wallet"
	wallet_api "ms-ledger/internal/wallet/api"
	wallet_db "ms-ledger/internal/wallet/db"
)

func buildDirectory(cfg *config.Config, redisClient *redis.Client, log *logger.Logger) floor.Directory {
	if cfg.Floor.ServiceURL == "" {
		log.Warn("CONFIG", "FLOOR_SERVICE_URL not set, no floor elements will be reservable")
		return floor.NewStaticDirectory()
	}

	m2m := auth.NewM2MClient(models.M2MConfig{
		KeycloakURL:   cfg.Auth.KeycloakURL,
		KeycloakRealm: cfg.Auth.KeycloakRealm,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
	}, &http.Client{Timeout: 10 * time.Second}, auth.NewRedisTokenCache(redisClient), log)

	log.Info("FLOOR", fmt.Sprintf("Using floor service at %s", cfg.Floor.ServiceURL))
	return floor.NewClient(cfg.Floor.ServiceURL, cfg.Floor.Timeout, m2m, log)
}

func sweepExpired(ctx context.Context, wallets *wallet.WalletService, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		log.Info("WALLET", "Expiry sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := wallets.ExpireDue(ctx); err != nil {
				log.Error("WALLET", fmt.Sprintf("Expiry sweep failed: %v", err))
			}
		}
	}
}

func health(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, "OK", map[string]string{"status": "up"})
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Ledger Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
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

	redisClient, err := database.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", err.Error())
	}
	defer redisClient.Close()

	hub := sse.NewHub()
	emitter := events.Multi{hub}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		emitter = append(emitter, events.NewKafkaEmitter(producer, cfg.Kafka.Topics, log))
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "KAFKA_ENABLED=false, change events only go to stream subscribers")
	}

	directory := buildDirectory(cfg, redisClient, log)
	runner := database.NewRunner(bunDB)

	walletService := wallet.NewWalletService(wallet_db.New(bunDB), runner, emitter, directory, log, cfg.Ledger)
	manager := reservation.NewManager(
		reservation_db.New(bunDB),
		walletService,
		directory,
		lockredis.NewElementLock(redisClient, cfg.Redis, log),
		runner,
		emitter,
		log,
	)

	var codec *qr.Codec
	if cfg.QR.SecretKey != "" {
		if codec, err = qr.NewCodec(cfg.QR.SecretKey, cfg.QR.Size); err != nil {
			log.Fatal("CONFIG", fmt.Sprintf("QR codec: %v", err))
		}
	} else {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, voucher QR endpoints are disabled")
	}

	if cfg.Auth.OIDCIssuer == "" {
		log.Fatal("CONFIG", "OIDC_ISSUER not set")
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("OIDC provider: %v", err))
	}

	walletHandler := wallet_api.NewHandler(walletService, codec, hub, log)
	reservationHandler := reservation_api.NewHandler(manager, hub, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// --- Public Routes ---
	r.Get("/health", health)
	r.Handle("/metrics", metrics.Handler())
	log.Info("ROUTER", "Health and metrics endpoints registered")

	r.Route("/api", func(r chi.Router) {
		reservationHandler.RegisterStreamRoutes(r)
		log.Info("ROUTER", "Event stream registered under /api")

		// --- Protected Routes ---
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, cfg.Auth.OrganizerRole, log))
			log.Info("AUTH", "JWT middleware applied to protected API routes")

			walletHandler.RegisterRoutes(r)
			log.Info("ROUTER", "Wallet routes and stream registered under /api/wallets")

			reservationHandler.RegisterRoutes(r)
			log.Info("ROUTER", "Reservation routes registered under /api/events and /api/reservations")
		})
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go sweepExpired(ctx, walletService, cfg.Ledger.ExpirySweepInterval, log)

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Ledger Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Ledger Service shutdown complete")
	}
}
