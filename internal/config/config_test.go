package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                "production",
		DBSSLMode:          "require",
		JWTSecret:          "secure-secret-at-least-32-chars-long",
		DBPassword:         "secure-password",
		Port:               "4500",
		TracingSampleRatio: 1,
		ChatSendRateLimit:  30,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"Valid production", func(*Config) {}, false},
		{"Missing port", func(c *Config) { c.Port = "" }, true},
		{"Missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"Default secret in production", func(c *Config) { c.JWTSecret = defaultJWTSecret }, true},
		{"Short secret in production", func(c *Config) { c.JWTSecret = "short" }, true},
		{"Weak DB password in production", func(c *Config) { c.DBPassword = "password" }, true},
		{"SSL disabled in production", func(c *Config) { c.DBSSLMode = "disable" }, true},
		{"Prod alias with empty SSL mode", func(c *Config) { c.Env = "prod"; c.DBSSLMode = "" }, true},
		{"Development allows weak settings", func(c *Config) {
			c.Env = "development"
			c.JWTSecret = "short"
			c.DBPassword = "password"
			c.DBSSLMode = "disable"
		}, false},
		{"Negative rate limit", func(c *Config) { c.ChatSendRateLimit = -1 }, true},
		{"Sample ratio out of range", func(c *Config) { c.TracingSampleRatio = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Brokers(t *testing.T) {
	c := &Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.Brokers())

	c.KafkaBrokers = ""
	assert.Empty(t, c.Brokers())
}

func TestConfig_EnvironmentHelpers(t *testing.T) {
	assert.True(t, (&Config{Env: "development"}).IsDevelopment())
	assert.True(t, (&Config{}).IsDevelopment())
	assert.False(t, (&Config{Env: "test"}).IsDevelopment())
	assert.True(t, (&Config{Env: "prod"}).IsProduction())
	assert.False(t, (&Config{Env: "test"}).IsProduction())
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")

	os.Setenv("APP_ENV", "development")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "4500", cfg.Port)
	assert.Equal(t, "disable", cfg.DBSSLMode)
	assert.Equal(t, "http://localhost:5173", cfg.AllowedOrigins)
	assert.Equal(t, "chat_rest_broadcast=on", cfg.FeatureFlags)
	assert.Equal(t, "marketplace.chat.events", cfg.KafkaTopic)
	assert.Equal(t, 30, cfg.ChatSendRateLimit)
}
