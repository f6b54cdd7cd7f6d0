package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/wikifolio-adapter/pkg/config"
)

// Config holds the runtime configuration for the wikifolio-adapter.
type Config struct {
	ServiceName string
	Env         string
	LogLevel    string
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	// Wikifolio platform access. When WIKIFOLIO_EMAIL and WIKIFOLIO_PASSWORD
	// are unset, credentials are resolved from AWS Secrets Manager under
	// SecretName (default {env}/wikifolio/credentials).
	BaseURL        string
	Language       string
	Country        string
	PageSize       int
	SessionTTL     time.Duration
	QuoteTimeout   time.Duration
	RetryMax       int
	RateLimit      int
	RateBurst      int
	Email          string
	Password       string
	SecretName     string
	AWSRegion      string
	CredentialsTTL time.Duration

	RedisAddr string
	RedisDB   int
	RedisPass string

	DatabaseURL         string
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	NATSURL     string
	RabbitMQURL string

	OrderPollInterval time.Duration
	OrderWatchTimeout time.Duration

	PriceRefreshInterval time.Duration
	PriceRefreshSymbols  []string
	PriceSnapshotTTL     time.Duration
}

// Load loads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:      pkgconfig.GetEnv("SERVICE_NAME", "wikifolio-adapter"),
		Env:              pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:         pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:             pkgconfig.GetEnvInt("WIKIFOLIO_PORT", 9040),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    pkgconfig.GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		BaseURL:        pkgconfig.GetEnv("WIKIFOLIO_BASE_URL", "https://www.wikifolio.com/"),
		PageSize:       pkgconfig.GetEnvInt("WIKIFOLIO_PAGE_SIZE", 50),
		SessionTTL:     pkgconfig.GetEnvDuration("WIKIFOLIO_SESSION_TTL", 12*time.Hour),
		QuoteTimeout:   pkgconfig.GetEnvDuration("WIKIFOLIO_QUOTE_TIMEOUT", 30*time.Second),
		RetryMax:       pkgconfig.GetEnvInt("WIKIFOLIO_RETRY_MAX", 2),
		RateLimit:      pkgconfig.GetEnvInt("WIKIFOLIO_RATE_PER_SEC", 5),
		RateBurst:      pkgconfig.GetEnvInt("WIKIFOLIO_RATE_BURST", 10),
		Email:          pkgconfig.GetEnv("WIKIFOLIO_EMAIL", ""),
		Password:       pkgconfig.GetEnv("WIKIFOLIO_PASSWORD", ""),
		SecretName:     pkgconfig.GetEnv("WIKIFOLIO_SECRET_NAME", ""),
		AWSRegion:      pkgconfig.GetEnv("AWS_REGION", "eu-central-1"),
		CredentialsTTL: pkgconfig.GetEnvDuration("CREDENTIALS_CACHE_TTL", 24*time.Hour),

		RedisAddr: pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass: pkgconfig.GetEnv("REDIS_PASS", ""),

		DatabaseURL:         pkgconfig.GetEnv("DATABASE_URL", ""),
		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		NATSURL:     pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		RabbitMQURL: pkgconfig.GetEnv("RABBITMQ_URL", ""),

		OrderPollInterval: pkgconfig.GetEnvDuration("ORDER_POLL_INTERVAL", 15*time.Second),
		OrderWatchTimeout: pkgconfig.GetEnvDuration("ORDER_WATCH_TIMEOUT", 24*time.Hour),

		PriceRefreshInterval: pkgconfig.GetEnvDuration("PRICE_REFRESH_INTERVAL", time.Minute),
		PriceRefreshSymbols:  pkgconfig.GetEnvList("PRICE_REFRESH_SYMBOLS", ",", nil),
		PriceSnapshotTTL:     pkgconfig.GetEnvDuration("PRICE_SNAPSHOT_TTL", 10*time.Minute),
	}
	cfg.Language, cfg.Country = SplitLocale(pkgconfig.GetEnv("WIKIFOLIO_LOCALE", "de/de"))
	return cfg
}

// SplitLocale reads "language/country", e.g. "en/int". Malformed input
// falls back to de/de.
func SplitLocale(locale string) (string, string) {
	lang, country, ok := strings.Cut(strings.ToLower(strings.Trim(locale, "/ ")), "/")
	if !ok || lang == "" || country == "" {
		return "de", "de"
	}
	return lang, country
}

// HasStaticCredentials reports whether the login pair came from the environment.
func (c *Config) HasStaticCredentials() bool {
	return c.Email != "" && c.Password != ""
}
