package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != ":8080" {
		t.Errorf("Expected default port :8080, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("Unexpected default origins: %v", cfg.AllowedOrigins)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected default rate limit: %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.SignalBurst < 20 {
		t.Errorf("Signal burst %d too small for a call handshake", cfg.RateLimit.SignalBurst)
	}
	if cfg.Store.Driver != DriverPebble {
		t.Errorf("Expected pebble driver by default, got %q", cfg.Store.Driver)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected default config without secret to be invalid")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnv(&cfg, envMap(map[string]string{
		"SERVER_PORT":                ":9090",
		"ALLOWED_ORIGINS":            "https://a.example, https://b.example",
		"MAX_MESSAGE_SIZE":           "1024",
		"RATE_LIMIT_BURST":           "10",
		"RATE_LIMIT_REFILL_INTERVAL": "2",
		"RATE_LIMIT_SIGNAL_BURST":    "60",
		"JWT_SECRET":                 "s3cret",
		"STORE_DRIVER":               "mongo",
		"MONGO_URI":                  "mongodb://localhost:27017",
		"MONGO_DB":                   "site",
		"APP_URL":                    "https://blog.example",
		"BOT_LATEST_LIMIT":           "5",
		"LOG_LEVEL":                  "debug",
	}))

	if cfg.Port != ":9090" {
		t.Errorf("Expected port :9090, got %s", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("Expected max message size 1024, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 10 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("Unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.SignalBurst != 60 || cfg.RateLimit.SignalRefillInterval != time.Second {
		t.Errorf("Unexpected signal rate limit: %+v", cfg.RateLimit)
	}
	if cfg.JWTSecret != "s3cret" || cfg.Store.Driver != "mongo" || cfg.Store.MongoDB != "site" {
		t.Errorf("Unexpected secret or store: %+v", cfg.Store)
	}
	if cfg.Bot.SiteURL != "https://blog.example" || cfg.Bot.LatestLimit != 5 {
		t.Errorf("Unexpected bot config: %+v", cfg.Bot)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestApplyEnvInvalidValuesKeepDefaults(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnv(&cfg, envMap(map[string]string{
		"MAX_MESSAGE_SIZE":           "-1",
		"RATE_LIMIT_BURST":           "many",
		"RATE_LIMIT_REFILL_INTERVAL": "soon",
	}))

	defaults := DefaultConfig()
	if cfg.MaxMessageSize != defaults.MaxMessageSize {
		t.Errorf("Expected default max message size, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit != defaults.RateLimit {
		t.Errorf("Expected default rate limit, got %+v", cfg.RateLimit)
	}
}

func TestParseRefillInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"3", 3 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"0", time.Minute},
		{"-2s", time.Minute},
		{"x", time.Minute},
	}
	for _, tt := range tests {
		if got := parseRefillInterval(tt.in, time.Minute); got != tt.want {
			t.Errorf("parseRefillInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitize(t *testing.T) {
	cfg := Config{Port: "9000", Store: StoreConfig{Driver: " Mongo "}}
	cfg.Sanitize()

	if cfg.Port != ":9000" {
		t.Errorf("Expected port :9000, got %q", cfg.Port)
	}
	if cfg.Store.Driver != DriverMongo {
		t.Errorf("Expected normalised driver, got %q", cfg.Store.Driver)
	}
	if cfg.MaxMessageSize <= 0 || cfg.RateLimit.Burst <= 0 || cfg.RateLimit.RefillInterval <= 0 || cfg.Bot.LatestLimit <= 0 {
		t.Errorf("Expected defaults for unset limits, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }, "unknown store driver"},
		{"mongo without uri", func(c *Config) { c.Store.Driver = DriverMongo }, "MONGO_URI"},
		{"pebble without path", func(c *Config) { c.Store.PebblePath = "" }, "PEBBLE_PATH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.JWTSecret = "s3cret"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestLoadConfigLayers verifies the precedence order: file, then dotenv,
// then the process environment, then flags.
func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hub.yaml")
	yamlConfig := `port: ":7000"
allowed_origins:
  - https://file.example
rate_limit:
  burst: 7
  refill_interval: 3s
jwt_secret: from-file
bot:
  site_url: https://file.example
log:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(yamlConfig), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("JWT_SECRET=from-dotenv\nAPP_URL=https://dotenv.example\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cfg, err := LoadConfig([]string{
		"--config", configPath,
		"--env-file", envPath,
		"--log-level", "error",
	}, envMap(map[string]string{"APP_URL": "https://env.example"}))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Port != ":7000" {
		t.Errorf("Expected port from file, got %q", cfg.Port)
	}
	if cfg.RateLimit.Burst != 7 || cfg.RateLimit.RefillInterval != 3*time.Second {
		t.Errorf("Expected rate limit from file, got %+v", cfg.RateLimit)
	}
	if cfg.AllowedOrigins[0] != "https://file.example" {
		t.Errorf("Expected origins from file, got %v", cfg.AllowedOrigins)
	}
	if cfg.JWTSecret != "from-dotenv" {
		t.Errorf("Expected dotenv to override file secret, got %q", cfg.JWTSecret)
	}
	if cfg.Bot.SiteURL != "https://env.example" {
		t.Errorf("Expected environment to override dotenv, got %q", cfg.Bot.SiteURL)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Expected flag to override file, got %q", cfg.Log.Level)
	}
}

func TestLoadConfigMissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := LoadConfig([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")},
		envMap(map[string]string{"JWT_SECRET": "s3cret"}))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Errorf("Unexpected secret %q", cfg.JWTSecret)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	noSecret := filepath.Join(t.TempDir(), "absent.env")
	if _, err := LoadConfig([]string{"--env-file", noSecret}, envMap(nil)); err == nil {
		t.Error("Expected missing secret to fail")
	}
	if _, err := LoadConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, envMap(nil)); err == nil {
		t.Error("Expected missing config file to fail")
	}
	if _, err := LoadConfig([]string{"--no-such-flag"}, envMap(nil)); err == nil {
		t.Error("Expected unknown flag to fail")
	}
}
