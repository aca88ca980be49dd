package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Store.Path != "botbridge.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "botbridge.db")
	}
	if cfg.RateLimit.PerUserPerMinute != 10 {
		t.Errorf("RateLimit.PerUserPerMinute = %d, want 10", cfg.RateLimit.PerUserPerMinute)
	}
	if d, err := cfg.Backend.TimeoutDuration(); err != nil || d != 15*time.Second {
		t.Errorf("Backend.TimeoutDuration() = %v, %v", d, err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: "http://localhost:8000"
  api_key: "test-key"
  timeout: "30s"
logger:
  level: "debug"
platforms:
  - name: telegram
    enabled: true
    bot_token: "tg-token"
    edit_interval: "500ms"
  - name: discord
    enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" {
		t.Errorf("Logger.Format = %q, want default text", cfg.Logger.Format)
	}

	enabled := cfg.EnabledPlatforms()
	if len(enabled) != 1 || enabled[0].Name != "telegram" {
		t.Fatalf("EnabledPlatforms = %+v", enabled)
	}
	if d := enabled[0].EditIntervalDuration(); d != 500*time.Millisecond {
		t.Errorf("EditIntervalDuration = %v, want 500ms", d)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("BB_TEST_API_KEY", "secret-from-env")
	path := writeConfig(t, `
backend:
  base_url: "http://localhost:8000"
  api_key: "${BB_TEST_API_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, env expansion failed", cfg.Backend.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/tmp/nonexistent-botbridge-config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Backend.BaseURL = "" },
			wantSub: "base_url",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Backend.APIKey = "" },
			wantSub: "api_key",
		},
		{
			name: "unknown platform",
			mutate: func(c *Config) {
				c.Platforms = []PlatformConfig{{Name: "irc", Enabled: true, BotToken: "x"}}
			},
			wantSub: "unknown platform",
		},
		{
			name: "duplicate platform",
			mutate: func(c *Config) {
				c.Platforms = []PlatformConfig{
					{Name: "telegram", BotToken: "a"},
					{Name: "telegram", BotToken: "b"},
				}
			},
			wantSub: "duplicate",
		},
		{
			name: "enabled without token",
			mutate: func(c *Config) {
				c.Platforms = []PlatformConfig{{Name: "telegram", Enabled: true}}
			},
			wantSub: "bot_token",
		},
		{
			name: "slack without app token",
			mutate: func(c *Config) {
				c.Platforms = []PlatformConfig{{Name: "slack", Enabled: true, BotToken: "x"}}
			},
			wantSub: "app_token",
		},
		{
			name: "bad edit interval",
			mutate: func(c *Config) {
				c.Platforms = []PlatformConfig{{Name: "telegram", Enabled: true, BotToken: "x", EditInterval: "soon"}}
			},
			wantSub: "edit_interval",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Backend.BaseURL = "http://localhost:8000"
			cfg.Backend.APIKey = "k"
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestPlatformDisplayDefaults(t *testing.T) {
	tg := PlatformConfig{Name: "telegram"}
	if !tg.StreamingEnabled() {
		t.Error("telegram should stream by default")
	}
	wa := PlatformConfig{Name: "whatsapp"}
	if wa.StreamingEnabled() {
		t.Error("whatsapp should not stream by default")
	}

	off := false
	tg.Streaming = &off
	if tg.StreamingEnabled() {
		t.Error("explicit streaming=false should win")
	}

	if d := (PlatformConfig{Name: "discord"}).EditIntervalDuration(); d != time.Second {
		t.Errorf("discord default interval = %v, want 1s", d)
	}
}
