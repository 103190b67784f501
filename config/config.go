package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all environment-driven settings for the backend.
type Config struct {
	HTTPAddr    string
	ServiceName string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	KafkaBroker string
	KafkaTopic  string

	JWTSecret  string
	StaffTTL   time.Duration
	SessionTTL time.Duration

	// SePay gateway
	SePayBaseURL       string
	SePayAPIKey        string
	SePayAccountNumber string

	// Exchange rate API
	ExchangeBaseURL string
	ExchangeAPIKey  string
	FallbackUSDVND  float64
	RateCacheTTL    time.Duration

	TransferPrefix string
	PaymentExpiry  time.Duration

	RateLimitPoints int64
	RateLimitWindow time.Duration

	UploadDir      string
	JaegerEndpoint string
}

func Load() *Config {
	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		ServiceName: getEnv("SERVICE_NAME", "qrorder-backend"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "qrorderdb"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBroker: getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "order_events"),

		JWTSecret:  getEnv("JWT_SECRET", "change-me-in-production"),
		StaffTTL:   getEnvDuration("STAFF_TOKEN_TTL", 24*time.Hour),
		SessionTTL: getEnvDuration("SESSION_TOKEN_TTL", 4*time.Hour),

		SePayBaseURL:       getEnv("SEPAY_BASE_URL", "https://my.sepay.vn"),
		SePayAPIKey:        getEnv("SEPAY_API_KEY", ""),
		SePayAccountNumber: getEnv("SEPAY_ACCOUNT_NUMBER", ""),

		ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://v6.exchangerate-api.com/v6"),
		ExchangeAPIKey:  getEnv("EXCHANGE_API_KEY", ""),
		FallbackUSDVND:  getEnvFloat("FALLBACK_USD_VND_RATE", 25000),
		RateCacheTTL:    getEnvDuration("RATE_CACHE_TTL", time.Hour),

		TransferPrefix: getEnv("TRANSFER_CONTENT_PREFIX", "TKOB"),
		PaymentExpiry:  getEnvDuration("PAYMENT_EXPIRY", 15*time.Minute),

		RateLimitPoints: getEnvInt64("RATE_LIMIT_POINTS", 60),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
