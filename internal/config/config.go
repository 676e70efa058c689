// Package config provides configuration management for the scrawl server
// using Viper. Values load from .scrawl.yml, SCRAWL_* environment
// variables, and command-line flags, in ascending priority, with defaults
// applied during Load and sanity checks in Validate.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SyncConfig tunes the state-synchronization engine. The transport ping
// cadence and the application presence timeout are independent knobs; the
// two liveness signals they drive must not be conflated.
type SyncConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

type StorageConfig struct {
	// Path is the SQLite database file. Empty runs the server memory-only.
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// Secret enables signed-token identity binding at handshake. Empty
	// means the server trusts client-asserted participant ids (dev mode).
	Secret string `yaml:"secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load unmarshals the viper state into a Config and applies defaults for
// anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8320
	}
	if viper.IsSet("server.allowed_origins") && len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}

	applySyncDefaults(&cfg.Sync)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration `scrawl init` writes out.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8320},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
	applySyncDefaults(&cfg.Sync)
	return cfg
}

func applySyncDefaults(sc *SyncConfig) {
	if sc.PingInterval <= 0 {
		sc.PingInterval = 30 * time.Second
	}
	if sc.ReadTimeout <= 0 {
		// One missed transport ping marks the connection presumptively dead.
		sc.ReadTimeout = 2 * sc.PingInterval
	}
	if sc.WriteTimeout <= 0 {
		sc.WriteTimeout = 10 * time.Second
	}
	if sc.PresenceTimeout <= 0 {
		sc.PresenceTimeout = 45 * time.Second
	}
	if sc.SweepInterval <= 0 {
		sc.SweepInterval = 15 * time.Second
	}
	if sc.SendBuffer <= 0 {
		sc.SendBuffer = 256
	}
	if sc.MaxMessageBytes <= 0 {
		sc.MaxMessageBytes = 1 << 20
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Sync.ReadTimeout <= c.Sync.PingInterval {
		return fmt.Errorf("sync.read_timeout (%s) must exceed sync.ping_interval (%s)",
			c.Sync.ReadTimeout, c.Sync.PingInterval)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
