package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Consigna-Supply/gateway/pkg/config"
)

// Config holds the core runtime configuration for a gateway instance.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "consigna-gateway"
	Env         string // e.g. "dev", "staging", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // HTTP API port
	MetricsPort int    // prometheus /metrics port

	CoreBaseURL    string        // Consigna core API, e.g. https://api.consigna.io
	RequestTimeout time.Duration // per-exchange timeout for outbound core calls

	CredBackend   string // "redis" or "file"
	RedisAddr     string // e.g. localhost:6379
	RedisDB       int
	RedisPass     string
	CredStorePath string // bbolt file path for the "file" backend

	NATSURL         string // e.g. nats://localhost:4222
	OutboundSubject string // NATS subject prefix for session events

	AWSRegion            string        // for AWS SDK client
	ServiceAccountSecret string        // Secrets Manager key for machine login
	SecretsCacheTTL      time.Duration // TTL for the secrets cache
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "consigna-gateway"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:        pkgconfig.GetEnvInt("GATEWAY_PORT", 9040),
		MetricsPort: pkgconfig.GetEnvInt("METRICS_PORT", 9041),

		CoreBaseURL:    pkgconfig.GetEnv("CORE_BASE_URL", "http://localhost:8080"),
		RequestTimeout: pkgconfig.GetEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		CredBackend:   pkgconfig.GetEnv("CRED_BACKEND", "file"),
		RedisAddr:     pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass:     pkgconfig.GetEnv("REDIS_PASS", ""),
		CredStorePath: pkgconfig.GetEnv("CRED_STORE_PATH", "consigna-credentials.db"),

		NATSURL:         pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		OutboundSubject: pkgconfig.GetEnv("OUTBOUND_SUBJECT", "evt.session"),

		AWSRegion:            pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		ServiceAccountSecret: pkgconfig.GetEnv("SERVICE_ACCOUNT_SECRET", ""),
		SecretsCacheTTL:      pkgconfig.GetEnvDuration("SECRETS_CACHE_TTL", 30*time.Minute),
	}
}
