package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Store drivers understood by the command.
const (
	DriverPebble = "pebble"
	DriverMongo  = "mongo"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// Typing and call signaling draw on their own bucket so keystrokes and ICE
// candidates never consume the budget of chat messages.
type RateLimitConfig struct {
	Burst                int           `yaml:"burst"`
	RefillInterval       time.Duration `yaml:"refill_interval"`
	SignalBurst          int           `yaml:"signal_burst"`
	SignalRefillInterval time.Duration `yaml:"signal_refill_interval"`
}

// StoreConfig selects and locates the message and post backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	PebblePath string `yaml:"pebble_path"`
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_db"`
}

// BotConfig holds the copy used by the site assistant.
type BotConfig struct {
	SiteURL     string `yaml:"site_url"`
	Contact     string `yaml:"contact"`
	LatestLimit int    `yaml:"latest_limit"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	JWTSecret      string          `yaml:"jwt_secret"`
	Store          StoreConfig     `yaml:"store"`
	Bot            BotConfig       `yaml:"bot"`
	Log            LogConfig       `yaml:"log"`
}

// DefaultConfig returns a Config populated with default values for all
// settings except the JWT secret, which has no safe default.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 << 10,
		RateLimit: RateLimitConfig{
			Burst:                5,
			RefillInterval:       time.Second,
			SignalBurst:          40,
			SignalRefillInterval: time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverPebble,
			PebblePath: "data/hub",
			MongoDB:    "blog",
		},
		Bot: BotConfig{
			LatestLimit: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Sanitize replaces out-of-range values with their defaults.
func (c *Config) Sanitize() {
	defaults := DefaultConfig()

	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = defaults.Port
	} else if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if c.RateLimit.SignalBurst <= 0 {
		c.RateLimit.SignalBurst = defaults.RateLimit.SignalBurst
	}

	if c.RateLimit.SignalRefillInterval <= 0 {
		c.RateLimit.SignalRefillInterval = defaults.RateLimit.SignalRefillInterval
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaults.Store.Driver
	}

	if c.Bot.LatestLimit <= 0 {
		c.Bot.LatestLimit = defaults.Bot.LatestLimit
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	switch c.Store.Driver {
	case DriverPebble:
		if c.Store.PebblePath == "" {
			errs = append(errs, errors.New("PEBBLE_PATH must be set for the pebble driver"))
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI must be set for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadFile merges the YAML file at path into cfg. Keys absent from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with the recognised environment variables. lookup
// has the signature of os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if port := get("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := get("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := get("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := get("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if burst := get("RATE_LIMIT_SIGNAL_BURST"); burst != "" {
		cfg.RateLimit.SignalBurst = parseIntValue(burst, cfg.RateLimit.SignalBurst)
	}

	if interval := get("RATE_LIMIT_SIGNAL_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.SignalRefillInterval = parseRefillInterval(interval, cfg.RateLimit.SignalRefillInterval)
	}

	if secret := get("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	if driver := get("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if path := get("PEBBLE_PATH"); path != "" {
		cfg.Store.PebblePath = path
	}
	if uri := get("MONGO_URI"); uri != "" {
		cfg.Store.MongoURI = uri
	}
	if db := get("MONGO_DB"); db != "" {
		cfg.Store.MongoDB = db
	}

	if appURL := get("APP_URL"); appURL != "" {
		cfg.Bot.SiteURL = appURL
	}
	if contact := get("BOT_CONTACT"); contact != "" {
		cfg.Bot.Contact = contact
	}
	if limit := get("BOT_LATEST_LIMIT"); limit != "" {
		cfg.Bot.LatestLimit = parseIntValue(limit, cfg.Bot.LatestLimit)
	}

	if level := get("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := get("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
}

// LoadConfig builds the effective configuration from, in increasing order
// of precedence: defaults, the YAML file named by --config, the .env file
// named by --env-file, the process environment and the remaining flags.
// The result is sanitized and validated.
func LoadConfig(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	fs := pflag.NewFlagSet("blogchat", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	envFile := fs.String("env-file", ".env", "path to a dotenv file, ignored when missing")
	port := fs.String("port", "", "listen address, e.g. :8080")
	origins := fs.StringSlice("allowed-origins", nil, "comma separated WebSocket origin allowlist")
	driver := fs.String("store", "", "store driver (pebble or mongo)")
	pebblePath := fs.String("pebble-path", "", "pebble data directory")
	mongoURI := fs.String("mongo-uri", "", "MongoDB connection string")
	mongoDB := fs.String("mongo-db", "", "MongoDB database name")
	appURL := fs.String("app-url", "", "public site URL used in bot replies")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (text or json)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := LoadFile(*configPath, &cfg); err != nil {
			return nil, err
		}
	}

	dotenv, err := godotenv.Read(*envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read env file %s: %w", *envFile, err)
	}
	ApplyEnv(&cfg, func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})

	overrides := map[string]func(){
		"port":            func() { cfg.Port = *port },
		"allowed-origins": func() { cfg.AllowedOrigins = *origins },
		"store":           func() { cfg.Store.Driver = *driver },
		"pebble-path":     func() { cfg.Store.PebblePath = *pebblePath },
		"mongo-uri":       func() { cfg.Store.MongoURI = *mongoURI },
		"mongo-db":        func() { cfg.Store.MongoDB = *mongoDB },
		"app-url":         func() { cfg.Bot.SiteURL = *appURL },
		"log-level":       func() { cfg.Log.Level = *logLevel },
		"log-format":      func() { cfg.Log.Format = *logFormat },
	}
	for name, apply := range overrides {
		if fs.Changed(name) {
			apply()
		}
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds ("2") or a Go duration ("500ms").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
