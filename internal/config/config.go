package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"slotbook/internal/cache"
	"slotbook/internal/database"
	"slotbook/internal/external"
	"slotbook/internal/messaging"
)

// Поддерживаемые хранилища
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration
	StoreDriver    string

	Database      database.Config
	NATS          messaging.Config
	NATSEnabled   bool
	Payment       external.PaymentConfig
	Valkey        cache.Config
	ValkeyEnabled bool
	Elasticsearch ElasticsearchConfig

	Engine EngineConfig
}

// EngineConfig содержит параметры движка бронирований и фоновых задач
type EngineConfig struct {
	HoldTTL             time.Duration
	RefundGraceWindow   time.Duration
	PaymentLinkBaseURL  string
	RefundConcurrency   int
	OutboxMaxAttempts   int
	SweepBatchSize      int
	ExpirySweepInterval time.Duration
	RefundSweepInterval time.Duration
	OutboxRelayInterval time.Duration
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "slotbook"),
			Password:           getEnv("DB_PASSWORD", "slotbook"),
			DBName:             getEnv("DB_NAME", "slotbook"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		NATSEnabled: getEnvBool("NATS_ENABLED", true),
		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "slotbook"),
			ClientID:  getEnv("NATS_CLIENT_ID", "slotbook-api"),
		},

		Payment: external.PaymentConfig{
			BaseURL:  getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
			TeamSlug: getEnv("PAYMENT_TEAM_SLUG", ""),
			Password: getEnv("PAYMENT_PASSWORD", ""),
			Timeout:  time.Duration(getEnvInt("PAYMENT_TIMEOUT_SEC", 30)) * time.Second,
		},

		ValkeyEnabled: getEnvBool("VALKEY_ENABLED", false),
		Valkey: cache.Config{
			Addr:      getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:  os.Getenv("VALKEY_PASSWORD"),
			DB:        getEnvInt("VALKEY_DB", 0),
			KeyPrefix: getEnv("VALKEY_KEY_PREFIX", "slotbook:occupancy:"),
			TTL:       getEnvDuration("VALKEY_OCCUPANCY_TTL", 5*time.Second),
		},

		Elasticsearch: LoadElasticsearchConfig(),

		Engine: EngineConfig{
			HoldTTL:             getEnvDuration("HOLD_TTL", 24*time.Hour),
			RefundGraceWindow:   getEnvDuration("REFUND_GRACE_WINDOW", 2*time.Hour),
			PaymentLinkBaseURL:  getEnv("PAYMENT_LINK_BASE_URL", "http://localhost:8081/pay"),
			RefundConcurrency:   getEnvInt("REFUND_CONCURRENCY", 4),
			OutboxMaxAttempts:   getEnvInt("OUTBOX_MAX_ATTEMPTS", 10),
			SweepBatchSize:      getEnvInt("SWEEP_BATCH_SIZE", 200),
			ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
			RefundSweepInterval: getEnvDuration("REFUND_SWEEP_INTERVAL", 10*time.Minute),
			OutboxRelayInterval: getEnvDuration("OUTBOX_RELAY_INTERVAL", 15*time.Second),
		},
	}
}

// Validate отклоняет бессмысленные значения
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Engine.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive, got %s", c.Engine.HoldTTL)
	}
	if c.Engine.RefundGraceWindow < 0 {
		return fmt.Errorf("REFUND_GRACE_WINDOW must not be negative, got %s", c.Engine.RefundGraceWindow)
	}
	if c.Engine.RefundConcurrency < 1 {
		return fmt.Errorf("REFUND_CONCURRENCY must be at least 1, got %d", c.Engine.RefundConcurrency)
	}
	if c.Engine.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1, got %d", c.Engine.OutboxMaxAttempts)
	}
	if c.Engine.SweepBatchSize < 1 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be at least 1, got %d", c.Engine.SweepBatchSize)
	}
	for name, d := range map[string]time.Duration{
		"EXPIRY_SWEEP_INTERVAL": c.Engine.ExpirySweepInterval,
		"REFUND_SWEEP_INTERVAL": c.Engine.RefundSweepInterval,
		"OUTBOX_RELAY_INTERVAL": c.Engine.OutboxRelayInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленное значение переменной окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
