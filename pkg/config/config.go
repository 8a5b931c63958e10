// Package config loads the YAML configuration, applies WORDFAMILY_*
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath string       `yaml:"db_path"`
	UserID string       `yaml:"user_id"`
	Remote RemoteConfig `yaml:"remote"`
	Bundle BundleConfig `yaml:"bundle"`
	Window WindowConfig `yaml:"window"`
	Sync   SyncConfig   `yaml:"sync"`
	Cache  CacheConfig  `yaml:"cache"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"token"`
}

type BundleConfig struct {
	// Path of a full dataset file; empty uses the embedded sample.
	Path string `yaml:"path"`
	// URL to download Path from when it is missing.
	URL string `yaml:"url"`
}

type WindowConfig struct {
	PageSize       int `yaml:"page_size"`
	PrefetchAhead  int `yaml:"prefetch_ahead"`
	PrefetchBehind int `yaml:"prefetch_behind"`
	MaxWindow      int `yaml:"max_window"`
}

type SyncConfig struct {
	Workers      int  `yaml:"workers"`
	RefreshStats bool `yaml:"refresh_stats"`
}

type CacheConfig struct {
	// BatchSize > 0 writes remote pages behind the caller through a batch writer.
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
	// File redirects logs away from the terminal, used by the TUI.
	File string `yaml:"file"`
}

type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
	Seed  bool   `yaml:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath: defaultDBPath(),
		UserID: "local",
		Remote: RemoteConfig{Timeout: 10 * time.Second},
		Window: WindowConfig{
			PageSize:       50,
			PrefetchAhead:  10,
			PrefetchBehind: 4,
		},
		Sync:  SyncConfig{Workers: 1, RefreshStats: true},
		Cache: CacheConfig{FlushInterval: 200 * time.Millisecond},
		Redis: RedisConfig{TTL: time.Hour, Prefix: "wordfamily"},
		Log:   LogConfig{Mode: "dev"},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
			Seed: true,
		},
	}
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "wordfamily.db"
	}
	return filepath.Join(dir, "wordfamily", "wordfamily.db")
}

// Load reads path over the defaults. An empty path, or a missing file at the
// default location, yields the defaults. Environment overrides are applied
// last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from WORDFAMILY_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = i
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("WORDFAMILY_DB", &c.DBPath)
	str("WORDFAMILY_USER", &c.UserID)
	str("WORDFAMILY_REMOTE_URL", &c.Remote.BaseURL)
	str("WORDFAMILY_REMOTE_TOKEN", &c.Remote.Token)
	dur("WORDFAMILY_REMOTE_TIMEOUT", &c.Remote.Timeout)
	str("WORDFAMILY_BUNDLE_PATH", &c.Bundle.Path)
	str("WORDFAMILY_BUNDLE_URL", &c.Bundle.URL)
	num("WORDFAMILY_PAGE_SIZE", &c.Window.PageSize)
	num("WORDFAMILY_MAX_WINDOW", &c.Window.MaxWindow)
	num("WORDFAMILY_SYNC_WORKERS", &c.Sync.Workers)
	num("WORDFAMILY_CACHE_BATCH_SIZE", &c.Cache.BatchSize)
	str("WORDFAMILY_REDIS_ADDR", &c.Redis.Addr)
	dur("WORDFAMILY_REDIS_TTL", &c.Redis.TTL)
	str("WORDFAMILY_LOG_MODE", &c.Log.Mode)
	str("WORDFAMILY_LOG_FILE", &c.Log.File)
	str("WORDFAMILY_SERVER_ADDR", &c.Server.Addr)
	str("WORDFAMILY_SERVER_TOKEN", &c.Server.Token)
	return errors.Join(errs...)
}

// Validate rejects unusable values and fills in zero ones.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path must not be empty")
	}
	if c.Remote.BaseURL != "" && !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote.base_url %q must be an http(s) URL", c.Remote.BaseURL)
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 10 * time.Second
	}
	if c.Window.PageSize <= 0 {
		c.Window.PageSize = 50
	}
	if c.Window.PageSize > 200 {
		return fmt.Errorf("window.page_size %d exceeds the server limit of 200", c.Window.PageSize)
	}
	if c.Window.PrefetchAhead <= 0 {
		c.Window.PrefetchAhead = 10
	}
	if c.Window.PrefetchBehind <= 0 {
		c.Window.PrefetchBehind = 4
	}
	if c.Window.MaxWindow < 0 {
		return fmt.Errorf("window.max_window must not be negative")
	}
	if c.Window.MaxWindow > 0 && c.Window.MaxWindow < 2*c.Window.PageSize {
		return fmt.Errorf("window.max_window %d must be at least twice page_size (%d)", c.Window.MaxWindow, 2*c.Window.PageSize)
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 1
	}
	if c.Cache.BatchSize < 0 {
		return fmt.Errorf("cache.batch_size must not be negative")
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = time.Hour
	}
	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("invalid log mode %q", c.Log.Mode)
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}
	if c.UserID == "" {
		c.UserID = "local"
	}
	return nil
}
