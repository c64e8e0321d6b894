// ABOUTME: Source descriptor configuration, one entry per back end exposed by the gateway
// ABOUTME: Handles per-kind defaults, validation and secret resolution from value, file or env

package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Source kinds
const (
	KindOpenAPI  = "openapi"
	KindCSV      = "csv"
	KindJSON     = "json"
	KindPostgres = "postgres"
	KindMySQL    = "mysql"
	KindSQLite   = "sqlite"
)

// Outbound proxy auth types
const (
	ProxyAuthNone   = "none"
	ProxyAuthBearer = "bearer"
	ProxyAuthHeader = "header"
)

var httpMethods = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true,
}

// SourceConfig describes one back end. Fields not relevant to Type are ignored.
type SourceConfig struct {
	ID    string `yaml:"id" toml:"id"`
	Type  string `yaml:"type" toml:"type"`
	Title string `yaml:"title" toml:"title"`

	// csv, json
	File      string `yaml:"file" toml:"file"`
	Encoding  string `yaml:"encoding" toml:"encoding"`
	Delimiter string `yaml:"delimiter" toml:"delimiter"`
	HasHeader *bool  `yaml:"has_header" toml:"has_header"`

	// openapi
	SpecFile          string          `yaml:"spec_file" toml:"spec_file"`
	BaseURL           string          `yaml:"base_url" toml:"base_url"`
	AllowMethods      []string        `yaml:"allow_methods" toml:"allow_methods"`
	AllowOperationIDs []string        `yaml:"allow_operation_ids" toml:"allow_operation_ids"`
	DenyOperationIDs  []string        `yaml:"deny_operation_ids" toml:"deny_operation_ids"`
	ProxyAuth         ProxyAuthConfig `yaml:"auth" toml:"auth"`
	Timeout           time.Duration   `yaml:"-" toml:"-"`
	TimeoutRaw        string          `yaml:"timeout" toml:"timeout"`

	// postgres, mysql, sqlite
	ConnectionString     string   `yaml:"connection_string" toml:"connection_string"`
	ConnectionStringFile string   `yaml:"connection_string_file" toml:"connection_string_file"`
	ConnectionStringEnv  string   `yaml:"connection_string_env" toml:"connection_string_env"`
	Schema               string   `yaml:"schema" toml:"schema"`
	Database             string   `yaml:"database" toml:"database"`
	AllowTables          []string `yaml:"allow_tables" toml:"allow_tables"`
	MaxLimit             int      `yaml:"max_limit" toml:"max_limit"`
}

// ProxyAuthConfig is the statically configured credential attached to proxied calls.
type ProxyAuthConfig struct {
	Type string `yaml:"type" toml:"type"`

	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
	TokenEnv  string `yaml:"token_env" toml:"token_env"`

	Name      string `yaml:"name" toml:"name"`
	Value     string `yaml:"value" toml:"value"`
	ValueFile string `yaml:"value_file" toml:"value_file"`
	ValueEnv  string `yaml:"value_env" toml:"value_env"`
}

// Header returns the header name and value to send, or empty strings for no auth.
// Only meaningful after secrets are resolved.
func (a ProxyAuthConfig) Header() (string, string) {
	switch a.Type {
	case ProxyAuthBearer:
		return "Authorization", "Bearer " + a.Token
	case ProxyAuthHeader:
		return a.Name, a.Value
	}
	return "", ""
}

// HeaderRow reports whether the first CSV row holds column names. Defaults to true.
func (s SourceConfig) HeaderRow() bool {
	return s.HasHeader == nil || *s.HasHeader
}

// IsRelational reports whether the source is backed by a SQL database.
func (s SourceConfig) IsRelational() bool {
	switch s.Type {
	case KindPostgres, KindMySQL, KindSQLite:
		return true
	}
	return false
}

// DisplayName returns the title if set, otherwise the id.
func (s SourceConfig) DisplayName() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

func (s *SourceConfig) applyDefaults() {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	switch s.Type {
	case KindCSV:
		if s.Delimiter == "" {
			s.Delimiter = ","
		}
	case KindOpenAPI:
		if s.ProxyAuth.Type == "" {
			s.ProxyAuth.Type = ProxyAuthNone
		}
		for i, m := range s.AllowMethods {
			s.AllowMethods[i] = strings.ToLower(m)
		}
	case KindPostgres:
		if s.Schema == "" {
			s.Schema = DefaultSchema
		}
	}
	if s.IsRelational() && s.MaxLimit == 0 {
		s.MaxLimit = DefaultMaxLimit
	}
}

// Validate checks the fields required by the source's kind.
func (s *SourceConfig) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("id is required")
	}

	switch s.Type {
	case KindCSV, KindJSON:
		if s.File == "" {
			return fmt.Errorf("file is required")
		}
		if s.Type == KindCSV && len([]rune(s.Delimiter)) != 1 {
			return fmt.Errorf("delimiter must be a single character (got %q)", s.Delimiter)
		}
	case KindOpenAPI:
		if s.SpecFile == "" {
			return fmt.Errorf("spec_file is required")
		}
		if s.BaseURL == "" {
			return fmt.Errorf("base_url is required")
		}
		for _, m := range s.AllowMethods {
			if !httpMethods[m] {
				return fmt.Errorf("allow_methods: unsupported method %q", m)
			}
		}
		switch s.ProxyAuth.Type {
		case ProxyAuthNone, ProxyAuthBearer:
		case ProxyAuthHeader:
			if s.ProxyAuth.Name == "" {
				return fmt.Errorf("auth.name is required for header auth")
			}
		default:
			return fmt.Errorf("auth.type must be one of none, bearer, header (got %q)", s.ProxyAuth.Type)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("timeout must be positive")
		}
	case KindPostgres, KindMySQL, KindSQLite:
		if s.MaxLimit < 1 || s.MaxLimit > MaxMaxLimit {
			return fmt.Errorf("max_limit must be between 1 and %d (got %d)", MaxMaxLimit, s.MaxLimit)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", s.Type)
	}

	return nil
}

// resolveSecrets replaces indirect secrets (files, environment variables) with
// their values. The first non-empty of value, file, env wins.
func resolveSecrets(cfg *Config) error {
	if cfg.Auth.Type == AuthBearer && cfg.Auth.TokenHash == "" {
		tok, err := firstSecret(cfg.Auth.Token, cfg.Auth.TokenFile, cfg.Auth.TokenEnv)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if tok == "" {
			return fmt.Errorf("auth: bearer auth requires token, token_file, token_env or token_hash")
		}
		cfg.Auth.Token = tok
	}

	for i := range cfg.Sources {
		if err := cfg.Sources[i].resolveSecrets(); err != nil {
			return fmt.Errorf("sources[%d] (%s): %w", i, cfg.Sources[i].ID, err)
		}
	}
	return nil
}

func (s *SourceConfig) resolveSecrets() error {
	switch s.Type {
	case KindOpenAPI:
		a := &s.ProxyAuth
		switch a.Type {
		case ProxyAuthBearer:
			tok, err := firstSecret(a.Token, a.TokenFile, a.TokenEnv)
			if err != nil {
				return err
			}
			if tok == "" {
				return fmt.Errorf("bearer auth requires token, token_file or token_env")
			}
			a.Token = tok
		case ProxyAuthHeader:
			val, err := firstSecret(a.Value, a.ValueFile, a.ValueEnv)
			if err != nil {
				return err
			}
			if val == "" {
				return fmt.Errorf("header auth requires value, value_file or value_env")
			}
			a.Value = val
		}
	case KindPostgres, KindMySQL, KindSQLite:
		cs, err := firstSecret(s.ConnectionString, s.ConnectionStringFile, s.ConnectionStringEnv)
		if err != nil {
			return err
		}
		if cs == "" {
			return fmt.Errorf("connection_string, connection_string_file or connection_string_env is required")
		}
		s.ConnectionString = cs
	}
	return nil
}

func firstSecret(value, file, env string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading secret file: %w", err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	if env != "" {
		return strings.TrimSpace(os.Getenv(env)), nil
	}
	return "", nil
}
