package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wordfamily.yaml")
	content := `
db_path: /tmp/words.db
remote:
  base_url: http://vocab.example/api
  timeout: 3s
window:
  page_size: 40
  max_window: 200
redis:
  addr: localhost:6379
log:
  mode: prod
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WORDFAMILY_USER", "alice")
	t.Setenv("WORDFAMILY_REMOTE_TIMEOUT", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/words.db" || cfg.Remote.BaseURL != "http://vocab.example/api" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Remote.Timeout != 5*time.Second || cfg.UserID != "alice" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Window.PageSize != 40 || cfg.Window.PrefetchAhead != 10 || cfg.Window.PrefetchBehind != 4 {
		t.Fatalf("unexpected window config: %+v", cfg.Window)
	}
	if cfg.Redis.TTL != time.Hour || cfg.Redis.Prefix != "wordfamily" {
		t.Fatalf("redis defaults lost: %+v", cfg.Redis)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window.PageSize != 50 || cfg.Sync.Workers != 1 || cfg.Remote.BaseURL != "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for an explicit missing file")
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"WORDFAMILY_PAGE_SIZE":      "many",
		"WORDFAMILY_REDIS_TTL":      "soon",
		"WORDFAMILY_REMOTE_URL":     "http://x/api",
		"WORDFAMILY_SYNC_WORKERS":   "2",
		"WORDFAMILY_UNRELATED_NAME": "ignored",
	}
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil || !strings.Contains(err.Error(), "WORDFAMILY_PAGE_SIZE") || !strings.Contains(err.Error(), "WORDFAMILY_REDIS_TTL") {
		t.Fatalf("expected both bad values reported, got %v", err)
	}
	if cfg.Remote.BaseURL != "http://x/api" || cfg.Sync.Workers != 2 {
		t.Fatalf("good values should still apply: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty db", func(c *Config) { c.DBPath = " " }, false},
		{"bad url", func(c *Config) { c.Remote.BaseURL = "ftp://x" }, false},
		{"page too large", func(c *Config) { c.Window.PageSize = 500 }, false},
		{"small window", func(c *Config) { c.Window.MaxWindow = 60 }, false},
		{"bad log mode", func(c *Config) { c.Log.Mode = "loud" }, false},
		{"zero values filled", func(c *Config) { c.Window.PageSize = 0; c.Sync.Workers = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
			if tc.ok && (cfg.Window.PageSize <= 0 || cfg.Sync.Workers <= 0) {
				t.Fatalf("zero values not filled: %+v", cfg)
			}
		})
	}
}
