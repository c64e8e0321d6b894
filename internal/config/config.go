// ABOUTME: Configuration loading and parsing for datagate
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

// Defaults applied by Load when a field is left empty.
const (
	DefaultServerName    = "datagate"
	DefaultServerVersion = "0.1.0"
	DefaultHTTPAddr      = "0.0.0.0:8080"
	DefaultPath          = "/mcp"
	DefaultMaxBodyBytes  = 1_000_000
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultMaxLimit      = 1000
	MaxMaxLimit          = 5000
	DefaultSchema        = "public"
)

// Config represents the complete datagate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Sources   []SourceConfig  `yaml:"sources" toml:"sources"`
}

// ServerConfig holds the identity advertised to protocol clients
type ServerConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Version string `yaml:"version" toml:"version"`
}

// TransportConfig holds the HTTP transport configuration
type TransportConfig struct {
	HTTPAddr     string `yaml:"http_addr" toml:"http_addr"`
	Path         string `yaml:"path" toml:"path"`
	Stateful     *bool  `yaml:"stateful" toml:"stateful"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// IsStateful reports whether sessions are issued and tracked. Defaults to true.
func (t TransportConfig) IsStateful() bool {
	return t.Stateful == nil || *t.Stateful
}

// SessionConfig holds session reclamation timing
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// AuthConfig holds the shared transport credential.
// Type is one of "none", "bearer" or "jwt".
type AuthConfig struct {
	Type      string `yaml:"type" toml:"type"`
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
	TokenEnv  string `yaml:"token_env" toml:"token_env"`
	TokenHash string `yaml:"token_hash" toml:"token_hash"` // bcrypt hash, alternative to a plain token
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML (which also
// accepts JSON). Environment variables in the format ${VAR_NAME} are expanded,
// duration strings are parsed, secrets are resolved and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration content. See Load.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultServerVersion
	}
	if c.Transport.HTTPAddr == "" {
		c.Transport.HTTPAddr = DefaultHTTPAddr
	}
	if c.Transport.Path == "" {
		c.Transport.Path = DefaultPath
	}
	if c.Transport.MaxBodyBytes == 0 {
		c.Transport.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = DefaultIdleTimeout
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = DefaultSweepInterval
	}
	if c.Auth.Type == "" {
		c.Auth.Type = AuthNone
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	for i := range c.Sources {
		c.Sources[i].applyDefaults()
	}
}

// Auth types
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthJWT    = "jwt"
)

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Transport.Path, "/") {
		return fmt.Errorf("transport.path must start with '/'")
	}
	switch c.Transport.Path {
	case "/health", "/ready", c.Metrics.Path:
		return fmt.Errorf("transport.path %q collides with a built-in endpoint", c.Transport.Path)
	}
	if c.Transport.MaxBodyBytes < 0 {
		return fmt.Errorf("transport.max_body_bytes must be positive")
	}
	if c.Session.IdleTimeout < 0 || c.Session.SweepInterval < 0 {
		return fmt.Errorf("session durations must be positive")
	}

	switch c.Auth.Type {
	case AuthNone, AuthBearer, AuthJWT:
	default:
		return fmt.Errorf("auth.type must be one of none, bearer, jwt (got %q)", c.Auth.Type)
	}
	if c.Auth.Type == AuthJWT && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[c.Sources[i].ID]; dup {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, c.Sources[i].ID)
		}
		seen[c.Sources[i].ID] = struct{}{}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.IdleTimeoutRaw != "" {
		cfg.Session.IdleTimeout, err = time.ParseDuration(cfg.Session.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Session.IdleTimeoutRaw, err)
		}
	}

	if cfg.Session.SweepIntervalRaw != "" {
		cfg.Session.SweepInterval, err = time.ParseDuration(cfg.Session.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Session.SweepIntervalRaw, err)
		}
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.TimeoutRaw == "" {
			continue
		}
		src.Timeout, err = time.ParseDuration(src.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing sources[%d].timeout %q: %w", i, src.TimeoutRaw, err)
		}
	}

	return nil
}
