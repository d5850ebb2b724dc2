package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Port: 9090}
	assert.Equal(t, ":9090", cfg.Addr())
}

func TestConfig_Validate(t *testing.T) {
	t.Run("skips checks outside production", func(t *testing.T) {
		cfg := &Config{TokenSigningSecret: "short"}
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects short secret in production", func(t *testing.T) {
		cfg := &Config{TokenSigningSecret: "too-short", RedisURL: "rediss://x"}
		err := cfg.Validate(true)
		assert.Error(t, err)
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		cfg := &Config{
			TokenSigningSecret: "change-me",
			RedisURL:           "rediss://x",
		}
		err := cfg.Validate(true)
		assert.Error(t, err)
	})

	t.Run("accepts a strong secret in production", func(t *testing.T) {
		cfg := &Config{
			TokenSigningSecret: "a-sufficiently-long-random-secret-value",
			RedisURL:           "rediss://x",
			AllowedOrigins:     []string{"https://example.com"},
		}
		assert.NoError(t, cfg.Validate(true))
	})
}
