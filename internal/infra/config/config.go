package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Backend   BackendConfig    `yaml:"backend"`
	Store     StoreConfig      `yaml:"store"`
	Logger    LoggerConfig     `yaml:"logger"`
	Tracer    TracerConfig     `yaml:"tracer"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Platforms []PlatformConfig `yaml:"platforms"`
}

// BackendConfig holds the assistant backend connection settings.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"` // for non-streaming calls, e.g. "15s"
}

// StoreConfig holds the local session store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// RateLimitConfig bounds how fast a single platform user may submit turns.
type RateLimitConfig struct {
	PerUserPerMinute int `yaml:"per_user_per_minute"`
	Burst            int `yaml:"burst"`
}

// PlatformConfig configures one chat platform connection.
type PlatformConfig struct {
	Name    string `yaml:"name"` // discord, slack, telegram, whatsapp
	Enabled bool   `yaml:"enabled"`

	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token,omitempty"`       // Slack socket mode
	PhoneNumberID string `yaml:"phone_number_id,omitempty"` // WhatsApp sender
	VerifyToken   string `yaml:"verify_token,omitempty"`    // WhatsApp webhook handshake
	AppSecret     string `yaml:"app_secret,omitempty"`      // WhatsApp signature check
	WebhookAddr   string `yaml:"webhook_addr,omitempty"`    // WhatsApp webhook listen address

	MentionOnly bool `yaml:"mention_only"`

	// Display tuning. Zero values fall back to the platform defaults.
	Streaming    *bool  `yaml:"streaming,omitempty"`     // show intermediate progress edits
	EditInterval string `yaml:"edit_interval,omitempty"` // duration, e.g. "1500ms"
	CharLimit    int    `yaml:"char_limit,omitempty"`    // message length budget
}

// Defaults returns a configuration with every optional field populated.
func Defaults() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: "15s",
		},
		Store: StoreConfig{
			Path: "botbridge.db",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		RateLimit: RateLimitConfig{
			PerUserPerMinute: 10,
			Burst:            3,
		},
	}
}

// Load reads and validates a YAML configuration file. ${VAR} references in
// the file are expanded from the environment, so secrets can stay out of the
// file itself.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that YAML parsing cannot express.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required")
	}
	if _, err := c.Backend.TimeoutDuration(); err != nil {
		return fmt.Errorf("backend.timeout: %w", err)
	}

	seen := map[string]bool{}
	for i := range c.Platforms {
		p := &c.Platforms[i]
		if !knownPlatform(p.Name) {
			return fmt.Errorf("platforms[%d]: unknown platform %q", i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("platforms[%d]: duplicate platform %q", i, p.Name)
		}
		seen[p.Name] = true
		if !p.Enabled {
			continue
		}
		if p.BotToken == "" {
			return fmt.Errorf("platforms[%d] (%s): bot_token is required", i, p.Name)
		}
		if p.Name == "slack" && p.AppToken == "" {
			return fmt.Errorf("platforms[%d] (slack): app_token is required for socket mode", i)
		}
		if p.Name == "whatsapp" && p.PhoneNumberID == "" {
			return fmt.Errorf("platforms[%d] (whatsapp): phone_number_id is required", i)
		}
		if p.EditInterval != "" {
			if _, err := time.ParseDuration(p.EditInterval); err != nil {
				return fmt.Errorf("platforms[%d] (%s): edit_interval: %w", i, p.Name, err)
			}
		}
		if p.CharLimit < 0 {
			return fmt.Errorf("platforms[%d] (%s): char_limit must be positive", i, p.Name)
		}
	}
	return nil
}

// EnabledPlatforms returns the platform entries marked enabled.
func (c *Config) EnabledPlatforms() []PlatformConfig {
	var out []PlatformConfig
	for _, p := range c.Platforms {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// TimeoutDuration parses the backend call timeout.
func (b BackendConfig) TimeoutDuration() (time.Duration, error) {
	if b.Timeout == "" {
		return 15 * time.Second, nil
	}
	return time.ParseDuration(b.Timeout)
}

// Platform display defaults. Discord and WhatsApp do not show intermediate
// progress: Discord edits are aggressively rate-limited and WhatsApp has no
// message editing at all.
var displayDefaults = map[string]struct {
	streaming bool
	interval  time.Duration
}{
	"discord":  {false, time.Second},
	"slack":    {true, 1200 * time.Millisecond},
	"telegram": {true, 1500 * time.Millisecond},
	"whatsapp": {false, 2 * time.Second},
}

// StreamingEnabled reports whether intermediate progress edits are shown.
func (p PlatformConfig) StreamingEnabled() bool {
	if p.Streaming != nil {
		return *p.Streaming
	}
	return displayDefaults[p.Name].streaming
}

// EditIntervalDuration returns the minimum time between message edits.
func (p PlatformConfig) EditIntervalDuration() time.Duration {
	if p.EditInterval != "" {
		if d, err := time.ParseDuration(p.EditInterval); err == nil {
			return d
		}
	}
	if d := displayDefaults[p.Name].interval; d > 0 {
		return d
	}
	return time.Second
}

func knownPlatform(name string) bool {
	_, ok := displayDefaults[name]
	return ok
}
