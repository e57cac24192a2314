package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:8000", cfg.Addr())

	// Preview config
	assert.Zero(t, cfg.Preview.Debounce)
	assert.Equal(t, int64(10<<20), cfg.Preview.MaxBytes)
	assert.True(t, cfg.Preview.WatchAssets)
	assert.Equal(t, []string{"**/*.css", "**/*.js"}, cfg.Preview.AssetPatterns)

	// Sandbox config
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, 1024, cfg.Sandbox.MaxCallStack)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "0.0.0.0",
		"PREVIEW_DEBOUNCE":       "150ms",
		"PREVIEW_MAX_BYTES":      "2048",
		"PREVIEW_ASSET_PATTERNS": "**/*.css",
		"SANDBOX_TIMEOUT":        "2s",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"RATE_LIMIT_RPS":         "500",
		"RATE_LIMIT_BURST":       "1000",
		"RATE_LIMIT_ENABLED":     "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 150*time.Millisecond, cfg.Preview.Debounce.Std())
	assert.Equal(t, int64(2048), cfg.Preview.MaxBytes)
	assert.Equal(t, []string{"**/*.css"}, cfg.Preview.AssetPatterns)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadInvalidEnvironment(t *testing.T) {
	t.Setenv("PREVIEW_DEBOUNCE", "soon")

	_, err := Load()
	assert.Error(t, err)

	assert.NotNil(t, LoadOrDefault())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestMergeFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "labpreview.yaml",
			content: `
server:
  port: "7000"
preview:
  debounce: 250ms
  asset_patterns:
    - "styles/**/*.css"
sandbox:
  timeout: 3s
`,
		},
		{
			name: "toml",
			file: "labpreview.toml",
			content: `
[server]
port = "7000"

[preview]
debounce = "250ms"
asset_patterns = ["styles/**/*.css"]

[sandbox]
timeout = "3s"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.MergeFile(writeFile(t, tt.file, tt.content)))

			assert.Equal(t, "7000", cfg.Server.Port)
			assert.Equal(t, "127.0.0.1", cfg.Server.Host, "keys missing from the file keep their values")
			assert.Equal(t, 250*time.Millisecond, cfg.Preview.Debounce.Std())
			assert.Equal(t, []string{"styles/**/*.css"}, cfg.Preview.AssetPatterns)
			assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout.Std())
			assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
		})
	}
}

func TestMergeFileErrors(t *testing.T) {
	cfg := Default()

	assert.Error(t, cfg.MergeFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, cfg.MergeFile(writeFile(t, "config.json", "{}")))
	assert.Error(t, cfg.MergeFile(writeFile(t, "bad.toml", "[server\nport = ")))
}

func TestLoadWithFile(t *testing.T) {
	t.Setenv("PORT", "9000")
	path := writeFile(t, "labpreview.yaml", "logging:\n  level: warn\n")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	bad := writeFile(t, "bad.yaml", "server:\n  port: \"http\"\n")
	_, err = LoadWithFile(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = "eighty" }, true},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }, true},
		{"negative debounce", func(c *Config) { c.Preview.Debounce = Duration(-time.Second) }, true},
		{"bad pattern", func(c *Config) { c.Preview.AssetPatterns = []string{"[css"} }, true},
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, true},
		{"rate limit disabled", func(c *Config) { c.RateLimit.Enabled = false; c.RateLimit.Burst = 0 }, false},
		{"rate limit zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
