package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig
	Log       LogConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OTP       OTPConfig
	Blacklist BlacklistConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig
	MinIO     MinIOConfig
	CORS      CORSConfig
	SMTP      SMTPConfig
	Google    GoogleConfig

	// Warnings collects non-fatal problems found while loading, for the caller to log
	Warnings []string
}

type AppConfig struct {
	Env  string
	Port string
}

// IsProduction reports whether APP_ENV is production
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

type LogConfig struct {
	Level string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	TimeZone string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode +
		" TimeZone=" + d.TimeZone
}

// URL returns the PostgreSQL connection URL (for golang-migrate)
func (d DBConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// OTPConfig drives the code lifecycle and the durable/fallback store selection
type OTPConfig struct {
	Digits            int
	TTL               time.Duration
	MaxAttempts       int
	ResendCooldown    time.Duration
	Store             string // "redis" or "postgres"
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration
	FailoverThreshold int
	SweepInterval     time.Duration // in-memory fallback sweep
	CleanupInterval   time.Duration // postgres expired-row cleanup
}

type BlacklistConfig struct {
	Capacity int
	Shared   bool // mirror revocations into Redis
}

type IdentityConfig struct {
	// AliasRules uses the identity.ParseRules syntax; empty means the built-in table
	AliasRules string
}

// RateLimitConfig is per client IP; RPS 0 disables the limiter
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type MinIOConfig struct {
	Enabled   bool
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type CORSConfig struct {
	Origins []string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type GoogleConfig struct {
	ClientID string
}

// Load reads configuration from .env file and environment variables
func Load() *Config {
	l := &loader{}

	// Load .env file (ignore error if not exists - e.g. in Docker)
	if err := godotenv.Load(); err != nil {
		l.warn("no .env file found, reading from environment variables")
	}

	cfg := &Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "development"),
			Port: getEnv("APP_PORT", "8080"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "botdesk"),
			Password: getEnv("DB_PASSWORD", "botdesk"),
			Name:     getEnv("DB_NAME", "botdesk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "UTC"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       l.int("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "default-secret"),
			Expiry: l.duration("JWT_EXPIRY", 168*time.Hour),
			Issuer: getEnv("JWT_ISSUER", "botdesk"),
		},
		OTP: OTPConfig{
			Digits:            l.int("OTP_DIGITS", 6),
			TTL:               l.duration("OTP_TTL", 10*time.Minute),
			MaxAttempts:       l.int("OTP_MAX_ATTEMPTS", 3),
			ResendCooldown:    l.duration("OTP_RESEND_COOLDOWN", 20*time.Second),
			Store:             strings.ToLower(getEnv("OTP_STORE", "redis")),
			ProbeInterval:     l.duration("OTP_STORE_PROBE_INTERVAL", 30*time.Second),
			ProbeTimeout:      l.duration("OTP_STORE_PROBE_TIMEOUT", 2*time.Second),
			FailoverThreshold: l.int("OTP_STORE_FAILOVER_THRESHOLD", 3),
			SweepInterval:     l.duration("OTP_MEMORY_SWEEP_INTERVAL", time.Minute),
			CleanupInterval:   l.duration("OTP_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Blacklist: BlacklistConfig{
			Capacity: l.int("TOKEN_BLACKLIST_CAPACITY", 10000),
			Shared:   l.bool("TOKEN_BLACKLIST_SHARED", true),
		},
		Identity: IdentityConfig{
			AliasRules: getEnv("IDENTITY_ALIAS_RULES", ""),
		},
		RateLimit: RateLimitConfig{
			RPS:   l.float("RATE_LIMIT_RPS", 0),
			Burst: l.int("RATE_LIMIT_BURST", 0),
		},
		MinIO: MinIOConfig{
			Enabled:   l.bool("MINIO_ENABLED", true),
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "botdesk-media"),
			UseSSL:    l.bool("MINIO_USE_SSL", false),
		},
		CORS: CORSConfig{
			Origins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "mailpit"),
			Port:     getEnv("SMTP_PORT", "1025"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@botdesk.local"),
			FromName: getEnv("SMTP_FROM_NAME", "BotDesk"),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		},
	}

	if cfg.OTP.Store != "redis" && cfg.OTP.Store != "postgres" {
		l.warn("OTP_STORE must be redis or postgres, using redis")
		cfg.OTP.Store = "redis"
	}

	cfg.Warnings = l.warnings
	return cfg
}

// loader parses typed values and falls back to defaults on bad input
type loader struct {
	warnings []string
}

func (l *loader) warn(msg string) {
	l.warnings = append(l.warnings, msg)
}

func (l *loader) int(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		l.warn("invalid integer for " + key + ", using default")
		return fallback
	}
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		l.warn("invalid number for " + key + ", using default")
		return fallback
	}
	return v
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		l.warn("invalid duration for " + key + ", using default")
		return fallback
	}
	return v
}

func (l *loader) bool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		l.warn("invalid boolean for " + key + ", using default")
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
