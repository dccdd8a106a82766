package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	AuthJWTSecret string

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

	RedisAddr     string
	RedisPassword string

	Stripe      StripeConfig
	MercadoPago MercadoPagoConfig
	SMTP        SMTPConfig
	Billing     BillingConfig
}

// StripeConfig carries the Stripe API credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// MercadoPagoConfig carries the MercadoPago API credentials.
type MercadoPagoConfig struct {
	AccessToken   string
	WebhookSecret string
	BaseURL       string
	Sandbox       bool
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// BillingConfig holds the lifecycle policy knobs. Defaults match the
// product contract: 7-day trial, 2-day grace window, sweeps of 50.
type BillingConfig struct {
	TrialDays        int
	GraceWindow      time.Duration
	SweepBatchSize   int
	ModuleAddonCents int64
	SweepInterval    time.Duration
	OutboxInterval   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "tiendly-billing"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tiendly"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken:   strings.TrimSpace(getenv("MP_ACCESS_TOKEN", "")),
			WebhookSecret: strings.TrimSpace(getenv("MP_WEBHOOK_SECRET", "")),
			BaseURL:       getenv("MP_BASE_URL", "https://api.mercadopago.com"),
			Sandbox:       getenvBool("MP_SANDBOX", false),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "billing@tiendly.app"),
		},
		Billing: BillingConfig{
			TrialDays:        getenvInt("BILLING_TRIAL_DAYS", 7),
			GraceWindow:      getenvDuration("BILLING_GRACE_WINDOW", 48*time.Hour),
			SweepBatchSize:   getenvInt("BILLING_SWEEP_BATCH_SIZE", 50),
			ModuleAddonCents: int64(getenvInt("BILLING_MODULE_ADDON_CENTS", 1000)),
			SweepInterval:    getenvDuration("BILLING_SWEEP_INTERVAL", time.Hour),
			OutboxInterval:   getenvDuration("BILLING_OUTBOX_INTERVAL", time.Minute),
		},
	}
}

// Module provides the loaded configuration to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
)

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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
