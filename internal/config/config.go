// Package config loads client configuration.
//
// Sources, highest priority first:
//  1. explicit --config path;
//  2. CONFIG_PATH;
//  3. ./snapclient.yaml;
//  4. environment only.
//
// Environment variables always overlay file values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const DefaultConfigFile = "snapclient.yaml"

const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Serve   ServeConfig   `yaml:"serve"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig describes the backend REST API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"   env:"SNAP_API_BASE_URL"   env-default:"http://localhost:8000/api"`
	Timeout   time.Duration `yaml:"timeout"    env:"SNAP_API_TIMEOUT"    env-default:"10s"`
	UserAgent string        `yaml:"user_agent" env:"SNAP_API_USER_AGENT" env-default:"snapclient/1.0"`
}

type SessionConfig struct {
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"SNAP_REFRESH_TIMEOUT" env-default:"10s"`
	LogoutTimeout  time.Duration `yaml:"logout_timeout"  env:"SNAP_LOGOUT_TIMEOUT"  env-default:"3s"`
	LoginPath      string        `yaml:"login_path"      env:"SNAP_LOGIN_PATH"      env-default:"/login"`
}

// StoreConfig selects the credential store backend. An empty Path means
// the per-user default returned by DefaultStorePath.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"SNAP_STORE_BACKEND" env-default:"file"`
	Path    string `yaml:"path"    env:"SNAP_STORE_PATH"`
}

type RedisConfig struct {
	URL      string `yaml:"url"      env:"REDIS_URL"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"       env:"REDIS_DB"       env-default:"0"`
	Prefix   string `yaml:"prefix"   env:"REDIS_PREFIX"   env-default:"snapclient:"`
}

// ServeConfig is the local session bridge started by `snapclient serve`.
type ServeConfig struct {
	Addr string `yaml:"addr" env:"SNAP_SERVE_ADDR" env-default:"127.0.0.1:8787"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"INFO"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY" env-default:"true"`
}

// MustLoad panics when the configuration cannot be loaded.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}
		return &cfg, cfg.Validate()
	}

	if path != "" {
		return tryRead(path)
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return tryRead(DefaultConfigFile)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q", c.API.BaseURL)
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("session.refresh_timeout must be positive")
	}
	if c.Session.LogoutTimeout <= 0 {
		return errors.New("session.logout_timeout must be positive")
	}

	switch c.Store.Backend {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis store backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	return nil
}

// StorePath returns the configured file store path or the per-user default.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	return DefaultStorePath()
}

func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "snapclient", "session.json"), nil
}
