package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Preview   PreviewConfig   `yaml:"preview" toml:"preview"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"127.0.0.1" yaml:"host" toml:"host"`
}

// PreviewConfig controls reading and watching the previewed document.
type PreviewConfig struct {
	Debounce      Duration `envconfig:"PREVIEW_DEBOUNCE" default:"0s" yaml:"debounce" toml:"debounce"`
	MaxBytes      int64    `envconfig:"PREVIEW_MAX_BYTES" default:"10485760" yaml:"max_bytes" toml:"max_bytes"`
	WatchAssets   bool     `envconfig:"PREVIEW_WATCH_ASSETS" default:"true" yaml:"watch_assets" toml:"watch_assets"`
	AssetPatterns []string `envconfig:"PREVIEW_ASSET_PATTERNS" default:"**/*.css,**/*.js" yaml:"asset_patterns" toml:"asset_patterns"`
	MaxAssetDirs  int      `envconfig:"PREVIEW_MAX_ASSET_DIRS" default:"256" yaml:"max_asset_dirs" toml:"max_asset_dirs"`
}

// SandboxConfig configures the headless rendering context.
type SandboxConfig struct {
	Timeout      Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s" yaml:"timeout" toml:"timeout"`
	MaxCallStack int      `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024" yaml:"max_call_stack" toml:"max_call_stack"`
	Timers       bool     `envconfig:"SANDBOX_TIMERS" default:"true" yaml:"timers" toml:"timers"`
	MaxTimers    int      `envconfig:"SANDBOX_MAX_TIMERS" default:"1000" yaml:"max_timers" toml:"max_timers"`
	PoolSize     int      `envconfig:"SANDBOX_POOL_SIZE" default:"2" yaml:"pool_size" toml:"pool_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// Duration is a time.Duration written as "250ms" in the environment and in
// config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFile loads the environment and then overlays the config file at
// path, if path is not empty. Values present in the file win.
func LoadWithFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Preview: PreviewConfig{
			MaxBytes:      10 << 20,
			WatchAssets:   true,
			AssetPatterns: []string{"**/*.css", "**/*.js"},
			MaxAssetDirs:  256,
		},
		Sandbox: SandboxConfig{
			Timeout:      Duration(5 * time.Second),
			MaxCallStack: 1024,
			Timers:       true,
			MaxTimers:    1000,
			PoolSize:     2,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	if c.Preview.Debounce < 0 {
		errs = append(errs, errors.New("preview.debounce must not be negative"))
	}
	if c.Preview.MaxBytes <= 0 {
		errs = append(errs, errors.New("preview.max_bytes must be positive"))
	}
	for _, p := range c.Preview.AssetPatterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("preview.asset_patterns: invalid pattern %q", p))
		}
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit rps and burst must be positive when enabled"))
	}

	return errors.Join(errs...)
}
