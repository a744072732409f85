package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for a tracker host.
// It supports layered configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables
//  3. Config file (via WithConfigFile)
//  4. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("skript-host"),
//	    WithMirror("redis://localhost:6379"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core configuration
	Name      string `json:"name" yaml:"name" env:"AGENTTRACK_NAME" default:"agenttrack"`
	Namespace string `json:"namespace" yaml:"namespace" env:"AGENTTRACK_NAMESPACE" default:"default"`

	// Agents selects the default agents enrolled by the host
	Agents AgentsConfig `json:"agents" yaml:"agents"`

	// Mirror publishes the active set to Redis
	Mirror MirrorConfig `json:"mirror" yaml:"mirror"`

	// Telemetry configuration (optional)
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Development configuration
	Development DevelopmentConfig `json:"development" yaml:"development"`
}

// AgentsConfig toggles the default agents.
type AgentsConfig struct {
	Resolver bool `json:"resolver" yaml:"resolver" env:"AGENTTRACK_AGENT_RESOLVER" default:"true"`
	Variable bool `json:"variable" yaml:"variable" env:"AGENTTRACK_AGENT_VARIABLE" default:"true"`
}

// MirrorConfig controls the Redis membership mirror.
// When TTL is zero the mirrored keys never expire.
type MirrorConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled" env:"AGENTTRACK_MIRROR_ENABLED" default:"false"`
	RedisURL  string        `json:"redis_url" yaml:"redis_url" env:"AGENTTRACK_REDIS_URL,REDIS_URL"`
	Namespace string        `json:"namespace" yaml:"namespace" env:"AGENTTRACK_MIRROR_NAMESPACE" default:"agenttrack"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" env:"AGENTTRACK_MIRROR_TTL"`
}

// TelemetryConfig contains tracing and metrics configuration.
// Exporter is one of "stdout", "otlp" or "none". The endpoint is only
// required for "otlp".
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"AGENTTRACK_TELEMETRY_ENABLED" default:"false"`
	Exporter    string `json:"exporter" yaml:"exporter" env:"AGENTTRACK_TELEMETRY_EXPORTER" default:"stdout"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"AGENTTRACK_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"AGENTTRACK_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	Insecure    bool   `json:"insecure" yaml:"insecure" env:"AGENTTRACK_TELEMETRY_INSECURE" default:"true"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"AGENTTRACK_LOG_LEVEL" default:"info"`
	Format     string `json:"format" yaml:"format" env:"AGENTTRACK_LOG_FORMAT" default:"json"`
	Output     string `json:"output" yaml:"output" env:"AGENTTRACK_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" yaml:"time_format" env:"AGENTTRACK_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.000Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"AGENTTRACK_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" env:"AGENTTRACK_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" yaml:"pretty_logs" env:"AGENTTRACK_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the host.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:      "agenttrack",
		Namespace: "default",
		Agents: AgentsConfig{
			Resolver: true,
			Variable: true,
		},
		Mirror: MirrorConfig{
			Namespace: DefaultMirrorNamespace,
		},
		Telemetry: TelemetryConfig{
			Exporter: "stdout",
			Insecure: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
//
// Variable naming convention:
//   - Host-specific: AGENTTRACK_<SETTING>
//   - Standard variables: REDIS_URL, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME
//
// Returns an error if a duration variable cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("AGENTTRACK_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("AGENTTRACK_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	// Agents
	if v := os.Getenv("AGENTTRACK_AGENT_RESOLVER"); v != "" {
		c.Agents.Resolver = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACK_AGENT_VARIABLE"); v != "" {
		c.Agents.Variable = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACK_AGENTS"); v != "" {
		c.Agents = AgentsConfig{}
		for _, kind := range parseStringList(v) {
			switch strings.ToLower(kind) {
			case AgentKindResolver:
				c.Agents.Resolver = true
			case AgentKindVariable:
				c.Agents.Variable = true
			default:
				return &TrackerError{
					Op:      "Config.LoadFromEnv",
					Kind:    "config",
					Message: fmt.Sprintf("unknown agent kind in AGENTTRACK_AGENTS: %q", kind),
					Err:     ErrInvalidConfiguration,
				}
			}
		}
	}

	// Mirror
	if v := os.Getenv("AGENTTRACK_MIRROR_ENABLED"); v != "" {
		c.Mirror.Enabled = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACK_REDIS_URL"); v != "" {
		c.Mirror.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Mirror.RedisURL = v
	}
	if v := os.Getenv("AGENTTRACK_MIRROR_NAMESPACE"); v != "" {
		c.Mirror.Namespace = v
	}
	if v := os.Getenv("AGENTTRACK_MIRROR_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &TrackerError{
				Op:      "Config.LoadFromEnv",
				Kind:    "config",
				Message: fmt.Sprintf("invalid AGENTTRACK_MIRROR_TTL %q", v),
				Err:     fmt.Errorf("%w: %w", ErrInvalidConfiguration, err),
			}
		}
		c.Mirror.TTL = d
	}

	// Telemetry
	if v := os.Getenv("AGENTTRACK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("AGENTTRACK_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("AGENTTRACK_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true // Auto-enable if OTEL endpoint is present
		c.Telemetry.Exporter = "otlp"
	}
	if v := os.Getenv("AGENTTRACK_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("AGENTTRACK_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Logging
	if v := os.Getenv("AGENTTRACK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTTRACK_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AGENTTRACK_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	// Development
	if v := os.Getenv("AGENTTRACK_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("AGENTTRACK_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Durations in YAML are written as Go duration strings ("30s"); in JSON they
// are nanoseconds.
//
// Example YAML:
//
//	name: skript-host
//	agents:
//	  variable: false
//	mirror:
//	  enabled: true
//	  redis_url: redis://localhost:6379
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath)) // nosec G304 -- path is validated
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
//
// Validation rules:
//   - Name is required
//   - Redis URL is required when the mirror is enabled
//   - Mirror TTL must not be negative
//   - Telemetry exporter must be stdout, otlp or none
//   - Telemetry endpoint is required for the otlp exporter
//   - Log level and format must be known values
func (c *Config) Validate() error {
	if c.Name == "" {
		return &TrackerError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "host name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Mirror.Enabled && c.Mirror.RedisURL == "" {
		return &TrackerError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "redis URL is required when the mirror is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Mirror.TTL < 0 {
		return &TrackerError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid mirror TTL: %s", c.Mirror.TTL),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "stdout", "none":
		case "otlp":
			if c.Telemetry.Endpoint == "" {
				return &TrackerError{
					Op:      "Config.Validate",
					Kind:    "config",
					Message: "telemetry endpoint is required for the otlp exporter",
					Err:     ErrMissingConfiguration,
				}
			}
		default:
			return &TrackerError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: fmt.Sprintf("unknown telemetry exporter: %q", c.Telemetry.Exporter),
				Err:     ErrInvalidConfiguration,
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return &TrackerError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown log level: %q", c.Logging.Level),
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return &TrackerError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown log format: %q", c.Logging.Format),
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// ServiceName returns the telemetry service name, falling back to Name.
func (c *Config) ServiceName() string {
	if c.Telemetry.ServiceName != "" {
		return c.Telemetry.ServiceName
	}
	return c.Name
}

// Helper functions

// parseStringList splits a comma-separated string into a slice of strings.
// Whitespace is trimmed from each element, and empty strings are filtered out.
// Example: "a, b, c" -> ["a", "b", "c"]
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the host name used in logs and as the default service name.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithNamespace sets the logical namespace of the host
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithAgents selects which default agents are enrolled.
// Unknown kinds return an error.
func WithAgents(kinds ...string) Option {
	return func(c *Config) error {
		c.Agents = AgentsConfig{}
		for _, kind := range kinds {
			switch kind {
			case AgentKindResolver:
				c.Agents.Resolver = true
			case AgentKindVariable:
				c.Agents.Variable = true
			default:
				return &TrackerError{
					Op:      "WithAgents",
					Kind:    "config",
					Message: fmt.Sprintf("unknown agent kind: %q", kind),
					Err:     ErrInvalidConfiguration,
				}
			}
		}
		return nil
	}
}

// WithMirror enables the Redis mirror at the given URL
func WithMirror(redisURL string) Option {
	return func(c *Config) error {
		c.Mirror.Enabled = true
		c.Mirror.RedisURL = redisURL
		return nil
	}
}

// WithMirrorNamespace sets the Redis key prefix used by the mirror
func WithMirrorNamespace(namespace string) Option {
	return func(c *Config) error {
		if namespace == "" {
			return &TrackerError{
				Op:      "WithMirrorNamespace",
				Kind:    "config",
				Message: "mirror namespace must not be empty",
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Mirror.Namespace = namespace
		return nil
	}
}

// WithMirrorTTL sets the expiry applied to mirrored keys
func WithMirrorTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		c.Mirror.TTL = ttl
		return nil
	}
}

// WithTelemetry enables telemetry with the given exporter.
// The endpoint is used by the otlp exporter only.
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the minimum logging level.
// Valid levels: "error", "warn", "info", "debug".
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file.
// Options after it override file settings.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables pretty debug logging.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// NewConfig creates a new configuration with the provided options.
// Configuration is applied in the following order:
//  1. Default values from DefaultConfig()
//  2. Environment variables via LoadFromEnv()
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
