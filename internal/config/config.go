package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvTest selects the vendor sandbox endpoints.
	EnvTest = "test"
	// EnvProduction selects the live vendor endpoints.
	EnvProduction = "production"
)

// Vendor endpoints per payment environment. Operators may override any of them.
var (
	urwayBaseURLs = map[string]string{
		EnvTest:       "https://payments-dev.urway-tech.com/URWAYPGService",
		EnvProduction: "https://payments.urway-tech.com/URWAYPGService",
	}
	arbTranportalURLs = map[string]string{
		EnvTest:       "https://securepayments.neoleap.com.sa/pg/payment/hosted.htm",
		EnvProduction: "https://digitalpayments.neoleap.com.sa/pg/payment/hosted.htm",
	}
	arbPaymentPageURLs = map[string]string{
		EnvTest:       "https://securepayments.neoleap.com.sa/pg/paymentpage.htm",
		EnvProduction: "https://digitalpayments.neoleap.com.sa/pg/paymentpage.htm",
	}
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string `validate:"required"`
	RedisURL           string `validate:"required"`
	DBAutoMigrate      bool
	AdminJWTSecret     string
	AdminJWTIssuer     string
	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	BodyLimitBytes     int64
	RateLimitWindow    time.Duration
	RateLimitMax       int
	LockTTL            time.Duration
	LockRetryBackoff   time.Duration

	Payment PaymentConfig
	URWAY   URWAYConfig
	ARB     ARBConfig
}

// PaymentConfig carries settings shared by both gateways.
type PaymentConfig struct {
	Environment         string        `validate:"oneof=test production"`
	VendorTimeout       time.Duration `validate:"min=1s,max=30s"`
	DebugHashes         bool
	FollowUpEnabled     bool
	FollowUpDelay       time.Duration
	WorkerConcurrency   int
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration
}

// URWAYConfig holds the URWAY merchant credentials and endpoints.
type URWAYConfig struct {
	TerminalID  string
	Password    string
	SecretKey   string
	BaseURL     string `validate:"omitempty,url"`
	Country     string
	Currency    string
	ResponseURL string `validate:"omitempty,url"`
}

// ARBConfig holds the ARB/Neoleap tranportal credentials and endpoints.
type ARBConfig struct {
	TranportalID   string
	Password       string
	ResourceKey    string
	TranportalURL  string `validate:"omitempty,url"`
	PaymentPageURL string `validate:"omitempty,url"`
	ResponseURL    string `validate:"omitempty,url"`
	ErrorURL       string `validate:"omitempty,url"`
	CurrencyCode   string
	Lang           string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	paymentEnv := strings.ToLower(valueOrDefault(k.String("PAYMENT_ENV"), EnvTest))

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE")),
		AdminJWTSecret:     k.String("ADMIN_JWT_SECRET"),
		AdminJWTIssuer:     strings.TrimSpace(k.String("ADMIN_JWT_ISSUER")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		BodyLimitBytes:     k.Int64("BODY_LIMIT_BYTES"),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:       intOrDefault(k.Int("RATE_LIMIT_MAX"), 30),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "45s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		Payment: PaymentConfig{
			Environment:         paymentEnv,
			VendorTimeout:       parseDuration(k.String("PAYMENT_VENDOR_TIMEOUT"), "25s"),
			DebugHashes:         parseBool(k.String("PAYMENT_DEBUG_HASHES")),
			FollowUpEnabled:     parseBool(k.String("PAYMENT_FOLLOWUP_ENABLED")),
			FollowUpDelay:       parseDuration(k.String("PAYMENT_FOLLOWUP_DELAY"), "15m"),
			WorkerConcurrency:   intOrDefault(k.Int("PAYMENT_WORKER_CONCURRENCY"), 4),
			CircuitMinRequests:  intOrDefault(k.Int("PAYMENT_CIRCUIT_MIN_REQUESTS"), 10),
			CircuitFailureRatio: floatOrDefault(k.Float64("PAYMENT_CIRCUIT_FAILURE_RATIO"), 0.5),
			CircuitOpenFor:      parseDuration(k.String("PAYMENT_CIRCUIT_OPEN_FOR"), "30s"),
		},
		URWAY: URWAYConfig{
			TerminalID:  strings.TrimSpace(k.String("URWAY_TERMINAL_ID")),
			Password:    k.String("URWAY_PASSWORD"),
			SecretKey:   k.String("URWAY_SECRET_KEY"),
			BaseURL:     strings.TrimRight(valueOrDefault(k.String("URWAY_BASE_URL"), urwayBaseURLs[paymentEnv]), "/"),
			Country:     valueOrDefault(k.String("URWAY_COUNTRY"), "SA"),
			Currency:    valueOrDefault(k.String("URWAY_CURRENCY"), "SAR"),
			ResponseURL: strings.TrimSpace(k.String("URWAY_RESPONSE_URL")),
		},
		ARB: ARBConfig{
			TranportalID:   strings.TrimSpace(k.String("ARB_TRANPORTAL_ID")),
			Password:       k.String("ARB_TRANPORTAL_PASSWORD"),
			ResourceKey:    k.String("ARB_RESOURCE_KEY"),
			TranportalURL:  valueOrDefault(k.String("ARB_TRANPORTAL_URL"), arbTranportalURLs[paymentEnv]),
			PaymentPageURL: valueOrDefault(k.String("ARB_PAYMENT_PAGE_URL"), arbPaymentPageURLs[paymentEnv]),
			ResponseURL:    strings.TrimSpace(k.String("ARB_RESPONSE_URL")),
			ErrorURL:       strings.TrimSpace(k.String("ARB_ERROR_URL")),
			CurrencyCode:   valueOrDefault(k.String("ARB_CURRENCY_CODE"), "682"),
			Lang:           strings.TrimSpace(k.String("ARB_LANG")),
		},
	}

	if cfg.BodyLimitBytes <= 0 {
		cfg.BodyLimitBytes = 1 << 20
	}

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid configuration: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
