package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

const envPrefix = "SHIFTBILL_"

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Provider      billing.Config
	Pricing       pricing.Params
	Observability ObservabilityConfig

	// PromoCodesFile is an optional YAML promo code table
	PromoCodesFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StoreConfig selects the entitlement store and the webhook dedup backend
type StoreConfig struct {
	Type        string
	DatabaseURL string
	// RedisURL enables shared event dedup; empty falls back to an in-process cache
	RedisURL     string
	DedupTTL     time.Duration
	DedupLRUSize int
	// FanOutConcurrency bounds concurrent member updates
	FanOutConcurrency int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadDotEnv loads variables from a .env file without overriding the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:         loadServerConfig(),
		Store:          loadStoreConfig(),
		Provider:       loadProviderConfig(),
		Pricing:        loadPricingParams(),
		Observability:  loadObservabilityConfig(),
		PromoCodesFile: getEnv("PROMO_CODES_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("MAX_BODY_BYTES", 1<<20),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:              strings.ToLower(getEnv("STORE", StorePostgres)),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		DedupTTL:          getEnvDuration("DEDUP_TTL", 72*time.Hour),
		DedupLRUSize:      getEnvInt("DEDUP_LRU_SIZE", 10000),
		FanOutConcurrency: getEnvInt("FANOUT_CONCURRENCY", 8),
	}
}

func loadProviderConfig() billing.Config {
	return billing.Config{
		BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
		ProductID:    getEnv("PAYPAL_PRODUCT_ID", ""),
		Timeout:      getEnvDuration("PAYPAL_TIMEOUT", 15*time.Second),
	}
}

func loadPricingParams() pricing.Params {
	p := pricing.DefaultParams()
	p.PricePerWorkerCents = getEnvInt64("PRICE_PER_WORKER_CENTS", p.PricePerWorkerCents)
	p.PricePerShopCents = getEnvInt64("PRICE_PER_SHOP_CENTS", p.PricePerShopCents)
	p.DefaultFreeWorkerLimit = getEnvInt("FREE_WORKER_LIMIT", p.DefaultFreeWorkerLimit)
	p.EnterpriseWorkerThreshold = getEnvInt("ENTERPRISE_THRESHOLD", p.EnterpriseWorkerThreshold)
	p.EnterpriseMonthlyCents = getEnvInt64("ENTERPRISE_PRICE_CENTS", p.EnterpriseMonthlyCents)
	return p
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "shiftbill"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Type {
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store type: %s (must be postgres or memory)", c.Store.Type)
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}
	if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
		return fmt.Errorf("provider client id and secret are required")
	}

	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("invalid pricing: %w", err)
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns a prefixed environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
