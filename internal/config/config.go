package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Floor    FloorConfig
	Ledger   LedgerConfig
	QR       QRConfig
}

type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration // no write timeout: stream responses stay open
}

type DatabaseConfig struct {
	Driver       string // postgres, mysql or sqlite
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
	ConnRetries  int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// LockTTL bounds how long a crashed redeem can keep an element locked.
	LockTTL  time.Duration
	LockWait time.Duration
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	WalletChanged      string
	ReservationChanged string
	OrderPlaced        string
	OrderRefunded      string
}

// All lists every topic the service produces or consumes.
func (t TopicConfig) All() []string {
	return []string{t.WalletChanged, t.ReservationChanged, t.OrderPlaced, t.OrderRefunded}
}

type AuthConfig struct {
	OIDCIssuer    string
	OrganizerRole string
	KeycloakURL   string
	KeycloakRealm string
	ClientID      string
	ClientSecret  string
}

type FloorConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

type LedgerConfig struct {
	MaxAttempts         int
	RetryBackoff        time.Duration
	DefaultCurrency     string
	ExpirySweepInterval time.Duration
}

type QRConfig struct {
	SecretKey string
	Size      int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", ":8084"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:          getEnv("DB_DSN", os.Getenv("POSTGRES_DSN")),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("AUTO_MIGRATE", true),
			ConnRetries:  getEnvInt("DB_CONN_RETRIES", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  time.Duration(getEnvInt("ELEMENT_LOCK_TTL_SECONDS", 10)) * time.Second,
			LockWait: time.Duration(getEnvInt("ELEMENT_LOCK_WAIT_MS", 2000)) * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "ms-ledger"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				WalletChanged:      getEnv("KAFKA_TOPIC_WALLET_CHANGED", "venue.wallet.changed"),
				ReservationChanged: getEnv("KAFKA_TOPIC_RESERVATION_CHANGED", "venue.reservation.changed"),
				OrderPlaced:        getEnv("KAFKA_TOPIC_ORDER_PLACED", "venue.order.placed"),
				OrderRefunded:      getEnv("KAFKA_TOPIC_ORDER_REFUNDED", "venue.order.refunded"),
			},
		},
		Auth: AuthConfig{
			OIDCIssuer:    getEnv("OIDC_ISSUER", ""),
			OrganizerRole: getEnv("ORGANIZER_ROLE", "organizer"),
			KeycloakURL:   getEnv("KEYCLOAK_URL", ""),
			KeycloakRealm: getEnv("KEYCLOAK_REALM", "event-ticketing"),
			ClientID:      getEnv("KEYCLOAK_CLIENT_ID", "ms-ledger"),
			ClientSecret:  getEnv("KEYCLOAK_CLIENT_SECRET", ""),
		},
		Floor: FloorConfig{
			ServiceURL: getEnv("FLOOR_SERVICE_URL", ""),
			Timeout:    time.Duration(getEnvInt("FLOOR_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Ledger: LedgerConfig{
			MaxAttempts:         getEnvInt("LEDGER_MAX_ATTEMPTS", 5),
			RetryBackoff:        time.Duration(getEnvInt("LEDGER_RETRY_BACKOFF_MS", 20)) * time.Millisecond,
			DefaultCurrency:     strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
			ExpirySweepInterval: time.Duration(getEnvInt("EXPIRY_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		},
		QR: QRConfig{
			SecretKey: getEnv("QR_SECRET_KEY", ""),
			Size:      getEnvInt("QR_SIZE", 256),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
