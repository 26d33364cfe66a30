// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: YAML with ${VAR} expansion, SWITCHBOARD_* env overrides, durations and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store backend names.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Defaults applied when a field is left empty.
const (
	DefaultExpiry        = 6 * time.Hour
	DefaultTimeout       = 10 * time.Second
	DefaultDedupeTTL     = 10 * time.Minute
	DefaultDedupeSize    = 10000
	DefaultRatePerSecond = 20
	DefaultBurst         = 20
	DefaultMaxBodyBytes  = 1 << 20
	DefaultSystemID      = "01"
	DefaultMetricsPath   = "/metrics"
)

// Config represents the complete switchboard configuration
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Webhook  WebhookConfig    `yaml:"webhook"`
	WhatsApp WhatsAppConfig   `yaml:"whatsapp"`
	Store    StoreConfig      `yaml:"store"`
	Session  SessionConfig    `yaml:"session"`
	Routes   map[int][]string `yaml:"routes"` // menu option -> destination systems
	API      APIConfig        `yaml:"api"`
	Logging  LoggingConfig    `yaml:"logging"`
	Metrics  MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// WebhookConfig holds the inbound webhook settings
type WebhookConfig struct {
	VerifyToken  string        `yaml:"verify_token"`
	DedupeTTL    time.Duration `yaml:"-"`
	DedupeSize   int           `yaml:"dedupe_size"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`

	DedupeTTLRaw string `yaml:"dedupe_ttl"`
}

// WhatsAppConfig holds the provider API settings
type WhatsAppConfig struct {
	APIURL        string        `yaml:"api_url"` // empty uses the client default
	PhoneNumberID string        `yaml:"phone_number_id"`
	AccessToken   string        `yaml:"access_token"`
	Timeout       time.Duration `yaml:"-"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	DefaultHeader string        `yaml:"default_header"` // header for button messages without one
	ListButton    string        `yaml:"list_button"`

	TimeoutRaw string `yaml:"timeout"`
}

// StoreConfig selects and configures the session store backend
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
}

// SQLiteConfig holds the SQLite database location
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the Redis connection URL
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SessionConfig holds the conversation state machine settings
type SessionConfig struct {
	Expiry           time.Duration `yaml:"-"`
	SystemID         string        `yaml:"system_id"`
	Menu             string        `yaml:"menu"` // empty uses the built-in menu
	SerializePerUser bool          `yaml:"serialize_per_user"`

	ExpiryRaw string `yaml:"expiry"`
}

// APIConfig holds the outbound API settings. An empty token disables the API.
type APIConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// envOverrides lists the settings that can be replaced from SWITCHBOARD_* variables.
type envOverrides struct {
	HTTPAddr      string `env:"HTTP_ADDR"`
	VerifyToken   string `env:"WEBHOOK_VERIFY_TOKEN"`
	AccessToken   string `env:"WHATSAPP_ACCESS_TOKEN"`
	PhoneNumberID string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	StoreBackend  string `env:"STORE_BACKEND"`
	SQLitePath    string `env:"SQLITE_PATH"`
	RedisURL      string `env:"REDIS_URL"`
	APIToken      string `env:"API_TOKEN"`
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, SWITCHBOARD_*
// variables override file values, and empty fields get their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overwrites config fields with any non-empty SWITCHBOARD_* variable.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: "SWITCHBOARD_"}); err != nil {
		return err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Server.HTTPAddr, o.HTTPAddr)
	override(&cfg.Webhook.VerifyToken, o.VerifyToken)
	override(&cfg.WhatsApp.AccessToken, o.AccessToken)
	override(&cfg.WhatsApp.PhoneNumberID, o.PhoneNumberID)
	override(&cfg.Store.Backend, o.StoreBackend)
	override(&cfg.Store.SQLite.Path, o.SQLitePath)
	override(&cfg.Store.Redis.URL, o.RedisURL)
	override(&cfg.API.Token, o.APIToken)
	override(&cfg.Logging.Level, o.LogLevel)
	override(&cfg.Logging.Format, o.LogFormat)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Webhook.DedupeTTL == 0 {
		c.Webhook.DedupeTTL = DefaultDedupeTTL
	}
	if c.Webhook.DedupeSize == 0 {
		c.Webhook.DedupeSize = DefaultDedupeSize
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.WhatsApp.Timeout == 0 {
		c.WhatsApp.Timeout = DefaultTimeout
	}
	if c.WhatsApp.RatePerSecond == 0 {
		c.WhatsApp.RatePerSecond = DefaultRatePerSecond
	}
	if c.WhatsApp.Burst == 0 {
		c.WhatsApp.Burst = DefaultBurst
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Session.Expiry == 0 {
		c.Session.Expiry = DefaultExpiry
	}
	if c.Session.SystemID == "" {
		c.Session.SystemID = DefaultSystemID
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required")
	}
	if c.WhatsApp.AccessToken == "" {
		return fmt.Errorf("whatsapp.access_token is required")
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("store.redis.url is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store.backend %q is not one of sqlite, redis, memory", c.Store.Backend)
	}

	for mode, systems := range c.Routes {
		if mode < 1 || mode > 255 || mode == 100 {
			return fmt.Errorf("routes: option %d must be between 1 and 255 and not 100", mode)
		}
		if len(systems) == 0 {
			return fmt.Errorf("routes: option %d has no destination systems", mode)
		}
	}

	if c.WhatsApp.RatePerSecond < 0 || c.WhatsApp.Burst < 0 {
		return fmt.Errorf("whatsapp.rate_per_second and whatsapp.burst must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Webhook.DedupeTTLRaw != "" {
		cfg.Webhook.DedupeTTL, err = time.ParseDuration(cfg.Webhook.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Webhook.DedupeTTLRaw, err)
		}
	}

	if cfg.WhatsApp.TimeoutRaw != "" {
		cfg.WhatsApp.Timeout, err = time.ParseDuration(cfg.WhatsApp.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.WhatsApp.TimeoutRaw, err)
		}
	}

	if cfg.Session.ExpiryRaw != "" {
		cfg.Session.Expiry, err = time.ParseDuration(cfg.Session.ExpiryRaw)
		if err != nil {
			return fmt.Errorf("parsing expiry %q: %w", cfg.Session.ExpiryRaw, err)
		}
	}

	return nil
}
