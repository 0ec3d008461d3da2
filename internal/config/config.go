package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds runtime configuration sourced from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	E2PBaseURL        string
	E2PClientID       string
	E2PClientSecret   string
	E2PMpesaShortcode string
	E2PEmolaShortcode string
	E2PTimeout        time.Duration

	PushcutWebhookURL string
	ResendAPIKey      string
	ResendFrom        string
	AdminEmail        string
	AMQPURL           string
	AMQPExchange      string

	WhatsAppStorePath   string
	WhatsAppLogLevel    string
	WhatsAppOperatorJID string

	NotifyQueueSize int
	NotifyAttempts  int

	AuthJWTSecret  string
	SignupBonus    decimal.Decimal
	IdempotencyTTL time.Duration
}

// Load reads configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "socialboost"),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", "public"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/socialboost.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		E2PBaseURL:        getEnv("E2P_BASE_URL", "https://e2payments.explicador.co.mz"),
		E2PClientID:       os.Getenv("E2P_CLIENT_ID"),
		E2PClientSecret:   os.Getenv("E2P_CLIENT_SECRET"),
		E2PMpesaShortcode: getEnv("E2P_MPESA_WALLET", "999813"),
		E2PEmolaShortcode: getEnv("E2P_EMOLA_WALLET", "999814"),

		PushcutWebhookURL: os.Getenv("PUSHCUT_WEBHOOK_URL"),
		ResendAPIKey:      os.Getenv("RESEND_API_KEY"),
		ResendFrom:        getEnv("RESEND_FROM", "SocialBoost <onboarding@resend.dev>"),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		AMQPExchange:      getEnv("AMQP_EXCHANGE", "socialboost.events"),

		WhatsAppStorePath:   os.Getenv("WHATSAPP_STORE_PATH"),
		WhatsAppLogLevel:    getEnv("WHATSAPP_LOG_LEVEL", "INFO"),
		WhatsAppOperatorJID: os.Getenv("WHATSAPP_OPERATOR_JID"),

		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.E2PTimeout, err = getDuration("E2P_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.NotifyAttempts, err = getInt("NOTIFY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	bonus := getEnv("SIGNUP_BONUS_MZN", "35")
	cfg.SignupBonus, err = decimal.NewFromString(bonus)
	if err != nil {
		return nil, fmt.Errorf("parse SIGNUP_BONUS_MZN: %w", err)
	}
	if cfg.SignupBonus.IsNegative() {
		return nil, errors.New("SIGNUP_BONUS_MZN must not be negative")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when DATABASE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.NotifyQueueSize <= 0 {
		return errors.New("NOTIFY_QUEUE_SIZE must be positive")
	}
	if c.NotifyAttempts <= 0 {
		return errors.New("NOTIFY_MAX_ATTEMPTS must be positive")
	}
	if c.WhatsAppOperatorJID != "" && c.WhatsAppStorePath == "" {
		return errors.New("WHATSAPP_STORE_PATH is required when WHATSAPP_OPERATOR_JID is set")
	}
	return nil
}

// GatewayConfigured reports whether E2Payments credentials are present.
func (c *Config) GatewayConfigured() bool {
	return c.E2PClientID != "" && c.E2PClientSecret != ""
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}
