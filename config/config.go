package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Delivery modes.
const (
	DeliveryAsync = "async"
	DeliverySync  = "sync"
)

// Mail drivers.
const (
	MailBrevo = "brevo"
	MailLog   = "log"
	MailRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Env  string
	Port string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	// Redis / queue
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	WorkerConcurrency int

	// HTTP
	AllowedOrigins  string
	BodyLimitBytes  int
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Auth
	JWTSecret     string
	JWTTTL        time.Duration
	AdminEmail    string
	AdminPassword string

	// Billing
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	SiteURL             string
	PremiumMonthlyPrice float64
	TrialDays           int

	// Email
	MailDriver     string
	BrevoAPIKey    string
	BrevoBaseURL   string
	MailFrom       string
	MailFromName   string
	MailFailLoudly bool

	// Delivery
	DeliveryMode       string
	SendTimeout        time.Duration
	RetryBaseDelay     time.Duration
	SyncRetryBaseDelay time.Duration
	MaxAttempts        int

	// Scheduling
	SweepCron string
	Timezone  string
}

// Load reads configuration from the environment. A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "production"),
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DBHost:              getEnv("DB_HOST", "db"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", ""),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBName:              getEnv("DB_NAME", ""),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "*"),
		JWTSecret:           strings.TrimSpace(getEnv("JWT_SECRET", "")),
		AdminEmail:          getEnv("ADMIN_EMAIL", ""),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceID:       getEnv("STRIPE_PRICE_ID", ""),
		SiteURL:             strings.TrimRight(getEnv("SITE_URL", "http://localhost:8080"), "/"),
		MailDriver:          strings.ToLower(getEnv("MAIL_DRIVER", "")),
		BrevoAPIKey:         getEnv("BREVO_API_KEY", ""),
		BrevoBaseURL:        strings.TrimRight(getEnv("BREVO_BASE_URL", "https://api.brevo.com/v3"), "/"),
		MailFrom:            getEnv("MAIL_FROM", "no-reply@invoicesnap.app"),
		MailFromName:        getEnv("MAIL_FROM_NAME", "InvoiceSnap"),
		DeliveryMode:        strings.ToLower(getEnv("DELIVERY_MODE", DeliveryAsync)),
		SweepCron:           getEnv("SWEEP_CRON", "0 9 * * *"),
		Timezone:            getEnv("APP_TIMEZONE", "Europe/Paris"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	bodyLimitMB, err := envInt("BODY_LIMIT_MB", 4)
	if err != nil {
		return nil, err
	}
	cfg.BodyLimitBytes = bodyLimitMB * 1024 * 1024
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 60); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW_SECONDS", 60, time.Second); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = envDuration("JWT_TTL_HOURS", 24, time.Hour); err != nil {
		return nil, err
	}
	if cfg.PremiumMonthlyPrice, err = envFloat("PREMIUM_MONTHLY_PRICE", 9); err != nil {
		return nil, err
	}
	if cfg.TrialDays, err = envInt("TRIAL_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.MailFailLoudly, err = envBool("MAIL_FAIL_LOUDLY", false); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = envDuration("SEND_TIMEOUT_SECONDS", 30, time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = envDuration("RETRY_BASE_DELAY_SECONDS", 60, time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncRetryBaseDelay, err = envDuration("SYNC_RETRY_BASE_DELAY_MS", 500, time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = envInt("DELIVERY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	if cfg.MailDriver == "" {
		cfg.MailDriver = MailLog
		if cfg.BrevoAPIKey != "" {
			cfg.MailDriver = MailBrevo
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DeliveryMode != DeliveryAsync && c.DeliveryMode != DeliverySync {
		return fmt.Errorf("invalid DELIVERY_MODE %q (want %q or %q)", c.DeliveryMode, DeliveryAsync, DeliverySync)
	}
	switch c.MailDriver {
	case MailBrevo, MailLog, MailRedis:
	default:
		return fmt.Errorf("invalid MAIL_DRIVER %q", c.MailDriver)
	}
	if c.MailDriver == MailBrevo && c.BrevoAPIKey == "" {
		return errors.New("MAIL_DRIVER=brevo requires BREVO_API_KEY")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 3 {
		return errors.New("DELIVERY_MAX_ATTEMPTS must be between 1 and 3")
	}
	if c.TrialDays < 0 {
		return errors.New("TRIAL_DAYS must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}
	return nil
}

// RequireAPI checks the settings only the HTTP API needs.
func (c *Config) RequireAPI() error {
	if c.JWTSecret == "" {
		return errors.New("missing required environment variable: JWT_SECRET")
	}
	return nil
}

// IsDevelopment reports whether the app runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Location returns the scheduler time zone. Load has validated it already.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// envDuration reads an integer env var expressed in unit.
func envDuration(key string, def int, unit time.Duration) (time.Duration, error) {
	n, err := envInt(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return time.Duration(n) * unit, nil
}
