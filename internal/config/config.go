// Package config loads runtime configuration from file and environment.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"taskdeck/internal/errors"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Review   ReviewConfig   `mapstructure:"review"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig selects and tunes the storage backend. A non-empty URL
// selects PostgreSQL; otherwise Path names the SQLite file.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Path            string        `mapstructure:"path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// GatewayConfig points at the agent gateway.
type GatewayConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	Model string `mapstructure:"model"`
}

// ReviewConfig bounds spawned review sessions.
type ReviewConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DispatchConfig tunes the review dispatcher.
type DispatchConfig struct {
	GuardRelease  time.Duration `mapstructure:"guard_release"`
	MinHandoffLen int           `mapstructure:"min_handoff_len"`
}

// Load reads configuration from the optional file at path (YAML) and the
// TASKDECK_ environment, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "taskdeck.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("gateway.url", "http://localhost:7070")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.model", "qa-default")
	v.SetDefault("review.timeout", 120*time.Second)
	v.SetDefault("dispatch.guard_release", 20*time.Second)
	v.SetDefault("dispatch.min_handoff_len", 50)

	v.SetEnvPrefix("TASKDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ErrConfigInvalid(path, err.Error())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrConfigInvalid("config", err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.ErrConfigMissing("server.addr")
	}
	if c.Database.URL == "" && c.Database.Path == "" {
		return errors.ErrConfigMissing("database.path")
	}
	if c.Gateway.URL == "" {
		return errors.ErrConfigMissing("gateway.url")
	}
	if u, err := url.Parse(c.Gateway.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.ErrConfigInvalid("gateway.url", "must be an absolute http(s) URL")
	}
	if c.Review.Timeout <= 0 {
		return errors.ErrConfigInvalid("review.timeout", "must be positive")
	}
	if c.Dispatch.GuardRelease <= 0 {
		return errors.ErrConfigInvalid("dispatch.guard_release", "must be positive")
	}
	if c.Dispatch.MinHandoffLen < 0 {
		return errors.ErrConfigInvalid("dispatch.min_handoff_len", "must not be negative")
	}
	return nil
}
