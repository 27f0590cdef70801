package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process-wide configuration, built once in main and passed by
// reference into every component. There is no cached singleton: tests build a
// fresh Config literal instead of invalidating shared state.
type Config struct {
	Addr        string
	DatabaseURL string
	APIKeys     []string

	Telegram TelegramConfig
	Email    EmailConfig
	Redis    RedisConfig

	// PublicURL is the externally reachable base URL used for one-click
	// email action links. Empty means mailto fallback links.
	PublicURL string
	// ActionSignKey signs email action links. Empty disables signing.
	ActionSignKey string
}

// TelegramConfig captures Bot API settings.
type TelegramConfig struct {
	BotToken string
	APIBase  string
	// Mock skips the Bot API call and returns the rendered message, for
	// development and tests.
	Mock bool
	// WebhookSecret, when set, must match the secret token header on
	// incoming webhook updates.
	WebhookSecret string
}

// EmailConfig captures SMTP settings.
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	From     string
	Username string
	Password string
	UseTLS   bool
	UseSSL   bool
}

// RedisConfig captures connection settings for the webhook dedupe cache.
// An empty URL means Redis is not configured and the in-memory dedupe is used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("APPROVAL_GATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	apiKeysRaw := os.Getenv("APPROVAL_API_KEYS")
	if apiKeysRaw == "" {
		apiKeysRaw = os.Getenv("APPROVAL_API_KEY")
	}
	var apiKeys []string
	for _, key := range strings.Split(apiKeysRaw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			apiKeys = append(apiKeys, key)
		}
	}

	apiBase := os.Getenv("TELEGRAM_API_BASE")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}

	smtpHost := os.Getenv("EMAIL_SMTP_HOST")
	if smtpHost == "" {
		smtpHost = "localhost"
	}

	return Config{
		Addr:        addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		APIKeys:     apiKeys,
		Telegram: TelegramConfig{
			BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
			APIBase:       apiBase,
			Mock:          envBool("TELEGRAM_MOCK", true),
			WebhookSecret: os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		},
		Email: EmailConfig{
			SMTPHost: smtpHost,
			SMTPPort: envInt("EMAIL_SMTP_PORT", 1025),
			From:     envDefault("EMAIL_FROM", "approvals@example.com"),
			Username: os.Getenv("EMAIL_USERNAME"),
			Password: os.Getenv("EMAIL_PASSWORD"),
			UseTLS:   envBool("EMAIL_USE_TLS", false),
			UseSSL:   envBool("EMAIL_USE_SSL", false),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		PublicURL:     strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		ActionSignKey: os.Getenv("ACTION_SIGN_KEY"),
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
