// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port          string
	Env           string // "development", "staging", "production"
	LogLevel      string
	LogFormat     string // "json" or "text"
	PublicBaseURL string // used for checkout redirects when the request has no Origin

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Optional, enables the Redis webhook event ledger

	// Stripe
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	StripeTimeout        time.Duration
	StripePriceIDs       map[string]string // blueprint id -> Stripe price id

	// Access tokens
	AccessTokenSecret string
	AccessTokenTTL    time.Duration

	// Artifact storage (S3 compatible, e.g. Supabase Storage)
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// Purchase events
	KafkaBrokers []string
	KafkaTopic   string

	// Make.com form relay
	MakeAPIKey       string
	MakeWebhookURLs  map[string]string // relay type -> Make.com hook URL
	RelayMaxAttempts int

	// Admin
	AdminUsername     string
	AdminPassword     string // plain, hashed at boot when AdminPasswordHash is empty
	AdminPasswordHash string
	JWTSecret         string
	JWTTTL            time.Duration

	// Reconciliation of payments whose webhook never arrived
	ReconcileInterval time.Duration
	ReconcileMinAge   time.Duration

	// Security
	RateLimitRPM   int
	AllowedOrigins []string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort           = "3001"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultRateLimit      = 100
	DefaultStripeTimeout  = 20 * time.Second
	DefaultAccessTokenTTL = 24 * time.Hour
	DefaultJWTTTL         = 24 * time.Hour
	DefaultKafkaTopic     = "blueprint.purchases"
	DefaultS3Bucket       = "blueprints"
	DefaultS3Region       = "us-east-1"
	DefaultAdminUsername  = "admin"
	DefaultRelayAttempts  = 3
	DefaultReconcileEvery = 5 * time.Minute
	DefaultReconcileAge   = 15 * time.Minute

	// pricePrefix is the env prefix for Stripe price ids, e.g. STRIPE_PRICE_LEAD_GENERATION_SYSTEM.
	pricePrefix = "STRIPE_PRICE_"
	// makePrefix is the env prefix for relay targets, e.g. MAKE_WEBHOOK_CONTACT.
	makePrefix = "MAKE_WEBHOOK_"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		PublicBaseURL:        strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripePublishableKey: os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeTimeout:        getEnvDuration("STRIPE_TIMEOUT", DefaultStripeTimeout),
		StripePriceIDs:       prefixedMap(os.Environ(), pricePrefix),
		AccessTokenSecret:    os.Getenv("ACCESS_TOKEN_SECRET"),
		AccessTokenTTL:       getEnvDuration("ACCESS_TOKEN_TTL", DefaultAccessTokenTTL),
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3Region:             getEnv("S3_REGION", DefaultS3Region),
		S3Bucket:             getEnv("S3_BUCKET", DefaultS3Bucket),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:          os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:     getEnvBool("S3_FORCE_PATH_STYLE", true),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		MakeAPIKey:           os.Getenv("MAKE_API_KEY"),
		MakeWebhookURLs:      prefixedMap(os.Environ(), makePrefix),
		RelayMaxAttempts:     int(getEnvInt64("RELAY_MAX_ATTEMPTS", DefaultRelayAttempts)),
		AdminUsername:        getEnv("ADMIN_USERNAME", DefaultAdminUsername),
		AdminPassword:        os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash:    os.Getenv("ADMIN_PASSWORD_HASH"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTTTL:               getEnvDuration("JWT_EXPIRES_IN", DefaultJWTTTL),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileEvery),
		ReconcileMinAge:      getEnvDuration("RECONCILE_MIN_AGE", DefaultReconcileAge),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:       splitList(os.Getenv("ALLOWED_ORIGINS")),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
// Development mode tolerates missing secrets so the store can run against
// Stripe test mode with only a subset configured.
func (c *Config) Validate() error {
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if !c.IsProduction() {
		return nil
	}

	required := map[string]string{
		"STRIPE_SECRET_KEY":     c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": c.StripeWebhookSecret,
		"ACCESS_TOKEN_SECRET":   c.AccessTokenSecret,
		"JWT_SECRET":            c.JWTSecret,
	}
	for _, name := range []string{"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "ACCESS_TOKEN_SECRET", "JWT_SECRET"} {
		if required[name] == "" {
			return fmt.Errorf("%s is required in production", name)
		}
	}
	if len(c.AccessTokenSecret) < 32 {
		return fmt.Errorf("ACCESS_TOKEN_SECRET must be at least 32 characters")
	}
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// S3Enabled reports whether artifact storage should use S3 instead of memory.
func (c *Config) S3Enabled() bool {
	return c.S3Endpoint != "" || c.S3AccessKey != ""
}

// PriceEnvKey returns the environment variable holding the Stripe price id
// for a blueprint, e.g. "email-ai-assistant" -> "STRIPE_PRICE_EMAIL_AI_ASSISTANT".
func PriceEnvKey(blueprintID string) string {
	return pricePrefix + strings.ToUpper(strings.ReplaceAll(blueprintID, "-", "_"))
}

// Helper functions

// prefixedMap collects KEY=VALUE pairs whose key starts with prefix into a map
// keyed by the lower-cased, dash-separated remainder.
func prefixedMap(environ []string, prefix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) || strings.TrimSpace(v) == "" {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(k, prefix), "_", "-"))
		out[name] = strings.TrimSpace(v)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
