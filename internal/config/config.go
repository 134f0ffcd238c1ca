package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string

	HTTPAddr     string
	DefaultOrgID int64

	OTLPEndpoint string
	OTLPEnabled  bool

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

	Bootstrap BootstrapConfig

	Scheduler SchedulerConfig

	Logger LoggerConfig
}

type LoggerConfig struct {
	Level string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UsageIngestOrgRate       float64
	UsageIngestOrgBurst      int
	UsageIngestEndpointRate  float64
	UsageIngestEndpointBurst int
}

type BootstrapConfig struct {
	EnsureDefaultOrgAndUser bool
	DefaultOwnerEmail       string
	DefaultOwnerPassword    string
}

type SchedulerConfig struct {
	CreditExpiryEnabled  bool
	CreditExpiryInterval int // seconds
}

// Load reads configuration from the environment, honoring a local .env file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	return Config{
		AppName:     getEnv("APP_NAME", "flowline"),
		AppVersion:  getEnv("APP_VERSION", "dev"),
		Mode:        getEnv("APP_MODE", "debug"),
		Environment: getEnv("APP_ENV", "development"),

		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		DefaultOrgID: getEnvInt64("DEFAULT_ORG_ID", 0),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		OTLPEnabled:  getEnvBool("OTLP_ENABLED", false),

		DBType:            getEnv("DB_TYPE", "postgres"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBName:            getEnv("DB_NAME", "flowline"),
		DBUser:            getEnv("DB_USER", "flowline"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     getEnvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getEnvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 30),
		DBConnMaxIdleTime: getEnvInt("DB_CONN_MAX_IDLE_TIME", 10),

		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:                getEnv("RATE_LIMIT_REDIS_ADDR", ""),
			RedisPassword:            getEnv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:                  getEnvInt("RATE_LIMIT_REDIS_DB", 0),
			UsageIngestOrgRate:       getEnvFloat("RATE_LIMIT_USAGE_ORG_RATE", 100),
			UsageIngestOrgBurst:      getEnvInt("RATE_LIMIT_USAGE_ORG_BURST", 200),
			UsageIngestEndpointRate:  getEnvFloat("RATE_LIMIT_USAGE_ENDPOINT_RATE", 1000),
			UsageIngestEndpointBurst: getEnvInt("RATE_LIMIT_USAGE_ENDPOINT_BURST", 2000),
		},

		Bootstrap: BootstrapConfig{
			EnsureDefaultOrgAndUser: getEnvBool("BOOTSTRAP_DEFAULT_ORG", true),
			DefaultOwnerEmail:       getEnv("BOOTSTRAP_OWNER_EMAIL", "owner@flowline.local"),
			DefaultOwnerPassword:    getEnv("BOOTSTRAP_OWNER_PASSWORD", ""),
		},

		Scheduler: SchedulerConfig{
			CreditExpiryEnabled:  getEnvBool("SCHEDULER_CREDIT_EXPIRY_ENABLED", true),
			CreditExpiryInterval: getEnvInt("SCHEDULER_CREDIT_EXPIRY_INTERVAL", 3600),
		},

		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
