package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// Redis configuration (keyed counters)
	Redis RedisConfig

	// RabbitMQ configuration (booking notifications)
	RabbitMQ RabbitMQConfig

	// Flight distribution provider configuration
	Provider ProviderConfig

	// Booking lifecycle configuration
	Booking BookingConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool // Create tables on startup
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis
// and the in-process counter store is used instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds the notification broker settings. An empty URL
// disables publishing and notifications are only logged.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// ProviderConfig holds flight distribution provider settings
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// BookingConfig holds booking lifecycle settings
type BookingConfig struct {
	HoldTTL               time.Duration // How long an unconfirmed hold lives
	UpdateCutoff          time.Duration // Edits close this long before first departure
	CompletionGrace       time.Duration // Delay after last arrival before completing
	IdentifierMaxAttempts int
	NotifyTimeout         time.Duration
	SweepBatchSize        int
	EnableScheduler       bool
	ExpirySchedule        string // cron spec with seconds
	ResyncSchedule        string
	CompletionSchedule    string
	AuditCleanupSchedule  string
	AuditRetention        time.Duration
}

// RateLimitConfig holds public lookup throttling configuration
type RateLimitConfig struct {
	LookupRequests int
	LookupWindow   time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "reservations"),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnv("PROVIDER_BASE_URL", ""),
			APIKey:         getEnv("PROVIDER_API_KEY", ""),
			RequestTimeout: getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
			MaxAttempts:    getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 3),
			BaseBackoff:    getEnvAsDuration("PROVIDER_BASE_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getEnvAsDuration("PROVIDER_MAX_BACKOFF", 2*time.Second),
			AttemptTimeout: getEnvAsDuration("PROVIDER_ATTEMPT_TIMEOUT", 10*time.Second),
		},
		Booking: BookingConfig{
			HoldTTL:               getEnvAsDuration("BOOKING_HOLD_TTL", 30*time.Minute),
			UpdateCutoff:          getEnvAsDuration("BOOKING_UPDATE_CUTOFF", 2*time.Hour),
			CompletionGrace:       getEnvAsDuration("BOOKING_COMPLETION_GRACE", 24*time.Hour),
			IdentifierMaxAttempts: getEnvAsInt("BOOKING_IDENTIFIER_MAX_ATTEMPTS", 5),
			NotifyTimeout:         getEnvAsDuration("BOOKING_NOTIFY_TIMEOUT", 5*time.Second),
			SweepBatchSize:        getEnvAsInt("BOOKING_SWEEP_BATCH_SIZE", 100),
			EnableScheduler:       getEnvAsBool("BOOKING_ENABLE_SCHEDULER", true),
			ExpirySchedule:        getEnv("BOOKING_EXPIRY_SCHEDULE", "0 * * * * *"),
			ResyncSchedule:        getEnv("BOOKING_RESYNC_SCHEDULE", "30 */2 * * * *"),
			CompletionSchedule:    getEnv("BOOKING_COMPLETION_SCHEDULE", "0 15 * * * *"),
			AuditCleanupSchedule:  getEnv("AUDIT_CLEANUP_SCHEDULE", "0 0 4 * * 0"),
			AuditRetention:        getEnvAsDuration("AUDIT_RETENTION", 90*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			LookupRequests: getEnvAsInt("RATE_LIMIT_LOOKUP_REQUESTS", 10),
			LookupWindow:   getEnvAsDuration("RATE_LIMIT_LOOKUP_WINDOW", 15*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("BOOKING_HOLD_TTL must be positive")
	}

	if c.Booking.IdentifierMaxAttempts < 1 {
		return fmt.Errorf("BOOKING_IDENTIFIER_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30m", "200ms")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
