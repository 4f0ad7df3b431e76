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

	// Redis configuration (availability + pricing caches)
	Redis RedisConfig

	// JWT configuration (actor tokens)
	JWT JWTConfig

	// Reservation engine configuration
	Reservation ReservationConfig

	// Pricing engine configuration
	Pricing PricingConfig

	// Notification bus configuration
	Bus BusConfig

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
}

// RedisConfig holds redis-related configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// ReservationConfig holds reservation lifecycle configuration
type ReservationConfig struct {
	FreeCancellationHours int           // Hours before check-in for a 100% refund
	PendingExpiryDays     int           // PENDING bookings older than this are auto-cancelled
	LockTimeout           time.Duration // Max wait for the per-booking transition lock
	RetryWindow           time.Duration // Idempotent replay window for repeated transitions
	AvailabilityCacheTTL  time.Duration
}

// PricingConfig holds pricing engine configuration
type PricingConfig struct {
	Currency        string
	MinBasePrice    float64
	YieldFloor      float64 // Lower bound of the per-night yield band
	YieldCap        float64 // Upper bound of the per-night yield band
	RefreshInterval time.Duration
	PublishDelta    float64 // Minimum relative change before PRICE_UPDATED is published
}

// BusConfig holds notification bus configuration
type BusConfig struct {
	TopicBufferSize      int
	SubscriberBufferSize int
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
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Reservation: ReservationConfig{
			FreeCancellationHours: getEnvAsInt("FREE_CANCELLATION_HOURS", 24),
			PendingExpiryDays:     getEnvAsInt("PENDING_EXPIRY_DAYS", 7),
			LockTimeout:           time.Duration(getEnvAsInt("TRANSITION_LOCK_TIMEOUT_MS", 2000)) * time.Millisecond,
			RetryWindow:           time.Duration(getEnvAsInt("TRANSITION_RETRY_WINDOW_SECONDS", 300)) * time.Second,
			AvailabilityCacheTTL:  time.Duration(getEnvAsInt("AVAILABILITY_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Pricing: PricingConfig{
			Currency:        getEnv("PRICING_CURRENCY", "EUR"),
			MinBasePrice:    getEnvAsFloat("PRICING_MIN_BASE_PRICE", 10),
			YieldFloor:      getEnvAsFloat("PRICING_YIELD_FLOOR", 0.7),
			YieldCap:        getEnvAsFloat("PRICING_YIELD_CAP", 2.0),
			RefreshInterval: time.Duration(getEnvAsInt("PRICING_REFRESH_MINUTES", 30)) * time.Minute,
			PublishDelta:    getEnvAsFloat("PRICING_PUBLISH_DELTA", 0.02),
		},
		Bus: BusConfig{
			TopicBufferSize:      getEnvAsInt("BUS_TOPIC_BUFFER", 256),
			SubscriberBufferSize: getEnvAsInt("BUS_SUBSCRIBER_BUFFER", 64),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
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

	if c.Pricing.YieldFloor <= 0 || c.Pricing.YieldCap < c.Pricing.YieldFloor {
		return fmt.Errorf("invalid yield band: floor=%.2f cap=%.2f", c.Pricing.YieldFloor, c.Pricing.YieldCap)
	}

	if c.Reservation.FreeCancellationHours < 12 {
		return fmt.Errorf("FREE_CANCELLATION_HOURS must be at least 12 (the 50%% refund tier)")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
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
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
