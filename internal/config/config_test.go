package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8320, cfg.Server.Port)
	assert.Equal(t, "localhost:8320", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.Sync.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Sync.ReadTimeout, "read timeout defaults to one missed ping")
	assert.Equal(t, 45*time.Second, cfg.Sync.PresenceTimeout)
	assert.Equal(t, 256, cfg.Sync.SendBuffer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Storage.Path, "memory-only by default")
	assert.Empty(t, cfg.Auth.Secret, "trusting mode by default")
}

func TestLoad_OverridesFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("server.port", 9000)
	viper.Set("server.allowed_origins", []string{"example.com:443"})
	viper.Set("storage.path", "/tmp/board.db")
	viper.Set("auth.secret", "sekrit")
	viper.Set("log.format", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"example.com:443"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/tmp/board.db", cfg.Storage.Path)
	assert.Equal(t, "sekrit", cfg.Auth.Secret)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"read timeout below ping interval", func(c *Config) { c.Sync.ReadTimeout = c.Sync.PingInterval / 2 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
