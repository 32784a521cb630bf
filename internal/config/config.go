// ABOUTME: Configuration loading and parsing for carlot-notify
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// minJWTSecretLength matches the verifier's minimum HS256 key size.
const minJWTSecretLength = 32

// Config represents the complete carlot-notify configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Stream   StreamConfig   `yaml:"stream" toml:"stream"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds event store configuration
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (default) or "sqlite3"
}

// AuthConfig holds session token verification configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// StreamConfig holds push channel, dispatch, and polling tuning
type StreamConfig struct {
	KeepAlive           time.Duration `yaml:"-" toml:"-"`
	InactivityThreshold time.Duration `yaml:"-" toml:"-"`
	PollInterval        time.Duration `yaml:"-" toml:"-"`
	WriteTimeout        time.Duration `yaml:"-" toml:"-"`
	DispatchTimeout     time.Duration `yaml:"-" toml:"-"`

	PollBatchLimit int `yaml:"poll_batch_limit" toml:"poll_batch_limit"`
	MaxChannels    int `yaml:"max_channels" toml:"max_channels"` // 0 = unlimited

	// Raw string values for unmarshaling
	KeepAliveRaw           string `yaml:"keep_alive" toml:"keep_alive"`
	InactivityThresholdRaw string `yaml:"inactivity_threshold" toml:"inactivity_threshold"`
	PollIntervalRaw        string `yaml:"poll_interval" toml:"poll_interval"`
	WriteTimeoutRaw        string `yaml:"write_timeout" toml:"write_timeout"`
	DispatchTimeoutRaw     string `yaml:"dispatch_timeout" toml:"dispatch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied and no secret set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8090"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Stream.KeepAlive == 0 {
		c.Stream.KeepAlive = 30 * time.Second
	}
	if c.Stream.InactivityThreshold == 0 {
		c.Stream.InactivityThreshold = 2 * c.Stream.KeepAlive
	}
	if c.Stream.PollInterval == 0 {
		c.Stream.PollInterval = 5 * time.Second
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = 10 * time.Second
	}
	if c.Stream.PollBatchLimit == 0 {
		c.Stream.PollBatchLimit = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	if c.Stream.KeepAlive < 0 || c.Stream.InactivityThreshold < 0 || c.Stream.PollInterval < 0 ||
		c.Stream.WriteTimeout < 0 || c.Stream.DispatchTimeout < 0 {
		return fmt.Errorf("stream durations must not be negative")
	}
	if c.Stream.InactivityThreshold <= c.Stream.KeepAlive {
		return fmt.Errorf("stream.inactivity_threshold (%s) must exceed stream.keep_alive (%s)",
			c.Stream.InactivityThreshold, c.Stream.KeepAlive)
	}
	if c.Stream.PollBatchLimit < 0 || c.Stream.PollBatchLimit > 500 {
		return fmt.Errorf("stream.poll_batch_limit must be between 1 and 500")
	}
	if c.Stream.MaxChannels < 0 {
		return fmt.Errorf("stream.max_channels must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"keep_alive", cfg.Stream.KeepAliveRaw, &cfg.Stream.KeepAlive},
		{"inactivity_threshold", cfg.Stream.InactivityThresholdRaw, &cfg.Stream.InactivityThreshold},
		{"poll_interval", cfg.Stream.PollIntervalRaw, &cfg.Stream.PollInterval},
		{"write_timeout", cfg.Stream.WriteTimeoutRaw, &cfg.Stream.WriteTimeout},
		{"dispatch_timeout", cfg.Stream.DispatchTimeoutRaw, &cfg.Stream.DispatchTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
