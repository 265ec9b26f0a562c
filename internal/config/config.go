// Package config loads the configuration of the engine binary from YAML or TOML files, with
// environment variable expansion and duration parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MegaGrindStone/go-mcp-engine"
)

// Transport kinds.
const (
	TransportStdIO = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
	TransportQueue = "queue"
)

// Session backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the complete engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds what the engine announces and how it pages lists.
type ServerConfig struct {
	Name         string `yaml:"name" toml:"name"`
	Version      string `yaml:"version" toml:"version"`
	Instructions string `yaml:"instructions" toml:"instructions"`
	PageSize     int    `yaml:"page_size" toml:"page_size"`
	// DefaultLogLevel is the MCP log level of sessions that never called logging/setLevel.
	DefaultLogLevel string `yaml:"default_log_level" toml:"default_log_level"`
}

// TransportConfig selects and tunes the transport.
type TransportConfig struct {
	Kind        string `yaml:"kind" toml:"kind"`
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	MaxBodySize int64  `yaml:"max_body_size" toml:"max_body_size"`

	PollTimeout    time.Duration `yaml:"-" toml:"-"`
	PollTimeoutRaw string        `yaml:"poll_timeout" toml:"poll_timeout"`
}

// SessionConfig selects the session store backend, which also backs the queue transport.
type SessionConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	Path          string `yaml:"path" toml:"path"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix" toml:"key_prefix"`

	TTL              time.Duration `yaml:"-" toml:"-"`
	PurgeInterval    time.Duration `yaml:"-" toml:"-"`
	TTLRaw           string        `yaml:"ttl" toml:"ttl"`
	PurgeIntervalRaw string        `yaml:"purge_interval" toml:"purge_interval"`
}

// LoggingConfig holds logging configuration of the process.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "go-mcp-engine",
			Version:         "dev",
			PageSize:        50,
			DefaultLogLevel: "debug",
		},
		Transport: TransportConfig{
			Kind:        TransportStdIO,
			MaxBodySize: mcp.DefaultMaxBodySize,
			PollTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			Backend:       BackendMemory,
			KeyPrefix:     "mcp:",
			TTL:           mcp.DefaultSessionTTL,
			PurgeInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config. The format
// follows the file extension: .yaml, .yml or .toml. Environment variables in the format
// ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	expanded := expandEnvVars(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that the configuration is complete and consistent. It returns the first problem
// found.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if c.Server.PageSize < 0 {
		return fmt.Errorf("server.page_size must not be negative")
	}
	if _, err := mcp.ParseLogLevel(c.Server.DefaultLogLevel); err != nil {
		return fmt.Errorf("server.default_log_level: %w", err)
	}

	kinds := []string{TransportStdIO, TransportHTTP, TransportSSE, TransportQueue}
	if !slices.Contains(kinds, c.Transport.Kind) {
		return fmt.Errorf("transport.kind must be one of %s", strings.Join(kinds, ", "))
	}
	if c.Transport.Kind != TransportStdIO && c.Transport.HTTPAddr == "" {
		return fmt.Errorf("transport.http_addr is required for the %s transport", c.Transport.Kind)
	}
	if c.Transport.MaxBodySize <= 0 {
		return fmt.Errorf("transport.max_body_size must be positive")
	}
	if c.Transport.PollTimeout <= 0 {
		return fmt.Errorf("transport.poll_timeout must be positive")
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Session.Path == "" {
			return fmt.Errorf("session.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend must be one of %s, %s, %s", BackendMemory, BackendSQLite, BackendRedis)
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must not be negative")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"transport.poll_timeout", cfg.Transport.PollTimeoutRaw, &cfg.Transport.PollTimeout},
		{"session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL},
		{"session.purge_interval", cfg.Session.PurgeIntervalRaw, &cfg.Session.PurgeInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}
