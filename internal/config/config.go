package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Routing   RoutingConfig   `yaml:"routing"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Project   ProjectConfig   `yaml:"project"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`

	// StreamWriteTimeout bounds each event write on a streaming response.
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout"`
}

// DatabaseConfig configures the optional command audit store. An empty host
// disables auditing.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// RedisConfig configures the shared rate limit store. With no addresses the
// gateway limits in process.
type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

type AuthConfig struct {
	// Secret is the shared value every caller presents in X-API-KEY.
	Secret string `yaml:"secret"`
}

type RateLimitConfig struct {
	// Policy is "<count>/<unit>", e.g. "10/minute".
	Policy  string `yaml:"policy"`
	Enabled bool   `yaml:"enabled"`
}

type RoutingConfig struct {
	DefaultProvider    string               `yaml:"default_provider"`
	SecondaryProvider  string               `yaml:"secondary_provider"`
	SecondaryPrefix    string               `yaml:"secondary_prefix"`
	StreamChunkTimeout time.Duration        `yaml:"stream_chunk_timeout"`
	CircuitBreaker     CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig with a zero threshold leaves every provider available.
type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type SandboxConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Root             string        `yaml:"root"`
	AllowedCommands  []string      `yaml:"allowed_commands"`
	MaxCommandLength int           `yaml:"max_command_length"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxOutputBytes   int64         `yaml:"max_output_bytes"`
	KillGrace        time.Duration `yaml:"kill_grace"`
	MaxConcurrent    int64         `yaml:"max_concurrent"`
	RedactSecrets    bool          `yaml:"redact_secrets"`
	Policy           PolicyConfig  `yaml:"policy"`
}

// PolicyConfig points at optional Rego modules evaluated after the built-in
// allow-list.
type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type ProjectConfig struct {
	Root          string `yaml:"root"`
	MaxFileBytes  int64  `yaml:"max_file_bytes"`
	RedactSecrets bool   `yaml:"redact_secrets"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               7860,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       0,
			IdleTimeout:        120 * time.Second,
			GracefulShutdown:   30 * time.Second,
			MaxBodyBytes:       1 << 20,
			StreamWriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			Name:            "bridge",
			User:            "bridge",
			MaxOpenConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		RateLimit: RateLimitConfig{
			Policy:  "10/minute",
			Enabled: true,
		},
		Routing: RoutingConfig{
			DefaultProvider:    "perplexity",
			SecondaryProvider:  "copilot",
			SecondaryPrefix:    "copilot-",
			StreamChunkTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Sandbox: SandboxConfig{
			Enabled:          true,
			Root:             ".",
			AllowedCommands:  []string{"cat", "date", "echo", "grep", "head", "ls", "pwd", "tail", "tree", "wc", "whoami"},
			MaxCommandLength: 200,
			Timeout:          8 * time.Second,
			MaxOutputBytes:   64 * 1024,
			KillGrace:        time.Second,
			MaxConcurrent:    4,
			RedactSecrets:    true,
			Policy: PolicyConfig{
				EvaluationTimeout: 100 * time.Millisecond,
			},
		},
		Project: ProjectConfig{
			Root:          ".",
			MaxFileBytes:  200 * 1024,
			RedactSecrets: true,
		},
	}
}

// Validate reports configuration the gateway refuses to start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required (set BRIDGE_SECRET)"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.StreamWriteTimeout < 0 {
		errs = append(errs, errors.New("server.stream_write_timeout must not be negative"))
	}
	if c.Routing.DefaultProvider == "" || c.Routing.SecondaryProvider == "" {
		errs = append(errs, errors.New("routing.default_provider and routing.secondary_provider are required"))
	}
	if c.Sandbox.Enabled {
		if c.Sandbox.MaxCommandLength <= 0 {
			errs = append(errs, errors.New("sandbox.max_command_length must be positive"))
		}
		if c.Sandbox.Timeout <= 0 {
			errs = append(errs, errors.New("sandbox.timeout must be positive"))
		}
		if c.Sandbox.MaxOutputBytes <= 0 {
			errs = append(errs, errors.New("sandbox.max_output_bytes must be positive"))
		}
		if len(c.Sandbox.AllowedCommands) == 0 {
			errs = append(errs, errors.New("sandbox.allowed_commands must not be empty"))
		}
	}
	if c.Project.MaxFileBytes <= 0 {
		errs = append(errs, errors.New("project.max_file_bytes must be positive"))
	}
	return errors.Join(errs...)
}
