package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit RateLimitConfig
	Admin     AdminConfig
}

// RateLimitConfig configures the device-facing limiters.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HandshakeIPRate     float64
	HandshakeIPBurst    int
	HandshakeTokenRate  float64
	HandshakeTokenBurst int
	IngestSerialRate    float64
	IngestSerialBurst   int

	HandshakeLockTTLSeconds int
}

type AdminConfig struct {
	// BootstrapKey seeds a platform admin API key on startup when set.
	BootstrapKey string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "edgecount"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "edgecount"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RateLimit: RateLimitConfig{
			Enabled:                 getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:               strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword:           strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:                 getenvInt("REDIS_DB", 0),
			HandshakeIPRate:         getenvFloat("RATE_LIMIT_HANDSHAKE_IP_RATE", 0.2),
			HandshakeIPBurst:        getenvInt("RATE_LIMIT_HANDSHAKE_IP_BURST", 5),
			HandshakeTokenRate:      getenvFloat("RATE_LIMIT_HANDSHAKE_TOKEN_RATE", 0.1),
			HandshakeTokenBurst:     getenvInt("RATE_LIMIT_HANDSHAKE_TOKEN_BURST", 3),
			IngestSerialRate:        getenvFloat("RATE_LIMIT_INGEST_SERIAL_RATE", 2),
			IngestSerialBurst:       getenvInt("RATE_LIMIT_INGEST_SERIAL_BURST", 20),
			HandshakeLockTTLSeconds: getenvInt("RATE_LIMIT_HANDSHAKE_LOCK_TTL_SECONDS", 10),
		},
		Admin: AdminConfig{
			BootstrapKey: strings.TrimSpace(getenv("ADMIN_BOOTSTRAP_KEY", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
