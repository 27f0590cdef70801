package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIBase)
	assert.True(t, cfg.Telegram.Mock, "telegram stays mocked unless opted in")
	assert.Equal(t, 1025, cfg.Email.SMTPPort)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APPROVAL_GATE_ADDR", ":9999")
	t.Setenv("APPROVAL_API_KEYS", "key-one, key-two, ")
	t.Setenv("TELEGRAM_MOCK", "false")
	t.Setenv("EMAIL_SMTP_PORT", "2525")
	t.Setenv("PUBLIC_URL", "https://gate.example.com/")

	cfg := FromEnv()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.APIKeys, "keys are trimmed, empties dropped")
	assert.False(t, cfg.Telegram.Mock)
	assert.Equal(t, 2525, cfg.Email.SMTPPort)
	assert.Equal(t, "https://gate.example.com", cfg.PublicURL, "trailing slash trimmed")
}

func TestFromEnvSingleKeyFallback(t *testing.T) {
	t.Setenv("APPROVAL_API_KEYS", "")
	t.Setenv("APPROVAL_API_KEY", "solo-key")

	cfg := FromEnv()
	assert.Equal(t, []string{"solo-key"}, cfg.APIKeys)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "yes")
	t.Setenv("X_INT", "not-a-number")

	assert.True(t, envBool("X_BOOL", false))
	assert.False(t, envBool("X_BOOL_MISSING", false))
	assert.Equal(t, 7, envInt("X_INT", 7), "unparsable values fall back")
	assert.Equal(t, "fallback", envDefault("X_MISSING", "fallback"))
}
