// ABOUTME: Configuration loading and parsing for ember-chat
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ember-chat configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Provider   ProviderConfig   `yaml:"provider"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the optional shared stream store configuration.
// When Addr is empty, streams live in process memory and resuming only
// works against the instance that ran the generation.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ProviderConfig holds inference provider configuration
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// GenerationConfig holds per-turn generation limits and resume tuning
type GenerationConfig struct {
	MaxSteps     int           `yaml:"max_steps"`
	TurnTimeout  time.Duration `yaml:"-"`
	ResumeWindow time.Duration `yaml:"-"`
	StreamTTL    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TurnTimeoutRaw  string `yaml:"turn_timeout"`
	ResumeWindowRaw string `yaml:"resume_window"`
	StreamTTLRaw    string `yaml:"stream_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves generation settings unset.
// The resume window matches how long a completed turn remains eligible for
// the catch-up path after its producer closes; it is a product tunable, not
// a protocol constant.
const (
	DefaultMaxSteps     = 5
	DefaultTurnTimeout  = 5 * time.Minute
	DefaultResumeWindow = 15 * time.Second
	DefaultStreamTTL    = 60 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

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

// ApplyDefaults fills in generation defaults for unset fields
func (c *Config) ApplyDefaults() {
	if c.Generation.MaxSteps <= 0 {
		c.Generation.MaxSteps = DefaultMaxSteps
	}
	if c.Generation.TurnTimeout == 0 {
		c.Generation.TurnTimeout = DefaultTurnTimeout
	}
	if c.Generation.ResumeWindow == 0 {
		c.Generation.ResumeWindow = DefaultResumeWindow
	}
	if c.Generation.StreamTTL == 0 {
		c.Generation.StreamTTL = DefaultStreamTTL
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Generation.TurnTimeoutRaw != "" {
		cfg.Generation.TurnTimeout, err = time.ParseDuration(cfg.Generation.TurnTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turn_timeout %q: %w", cfg.Generation.TurnTimeoutRaw, err)
		}
	}

	if cfg.Generation.ResumeWindowRaw != "" {
		cfg.Generation.ResumeWindow, err = time.ParseDuration(cfg.Generation.ResumeWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing resume_window %q: %w", cfg.Generation.ResumeWindowRaw, err)
		}
	}

	if cfg.Generation.StreamTTLRaw != "" {
		cfg.Generation.StreamTTL, err = time.ParseDuration(cfg.Generation.StreamTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_ttl %q: %w", cfg.Generation.StreamTTLRaw, err)
		}
	}

	return nil
}
