package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultTenant            = "business"
	DefaultLanguage          = "en"
	DefaultCacheTTL          = 30 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultMaxConcurrency    = 16
	DefaultProxyTimeout      = 30 * time.Second
	DefaultProxyMaxIdleConns = 100
	DefaultBroadcastInterval = 60 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// Environment variables that override the YAML file.
const (
	EnvAPIConfigs      = "API_CONFIGS"
	EnvDefaultTenant   = "DEFAULT_TENANT"
	EnvDefaultLanguage = "DEFAULT_LANGUAGE"
	EnvHTTPPort        = "HTTP_PORT"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one alert condition evaluated against every API status.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "status == unhealthy",
	// "liveness != ok", "response_ms > 2000".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`

	// APIs limits the rule to these descriptor ids or names. Empty means all.
	APIs []string `yaml:"apis"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Config is the whole file: the `server:` and `log:` sections.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort serves the proxy, the dashboard API and the WebSocket hub.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves grpc.health.v1.Health; 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// APIConfigs is the comma-separated name:url[:label[:token]] list.
	APIConfigs string `yaml:"api_configs"`

	Defaults DefaultsConfig `yaml:"defaults"`
	Health   HealthConfig   `yaml:"health"`
	Proxy    ProxyConfig    `yaml:"proxy"`

	// BroadcastInterval is how often WebSocket clients get fresh statuses.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	Alerts AlertsConfig `yaml:"alerts"`
}

// DefaultsConfig is echoed to clients by GET /api/config.
type DefaultsConfig struct {
	Tenant   string `yaml:"tenant" json:"tenant"`
	Language string `yaml:"language" json:"language"`
}

// HealthConfig controls probing and the health cache.
type HealthConfig struct {
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// ProxyConfig controls the upstream client of the request proxy.
type ProxyConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// Load reads the config file at path, applies environment overrides and
// validates the result. An empty path means environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("server config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("server config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// envOwned records, per .env path, the keys LoadEnvFile set in the process
// environment, so a reload can unset keys that were removed from the file.
var (
	envMu    sync.Mutex
	envOwned = map[string]map[string]bool{}
)

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. Variables already set win unless override is true. Keys that
// an earlier call loaded from the same file and that are no longer in it are
// unset. A missing file is not an error.
func LoadEnvFile(path string, override bool) error {
	if path == "" {
		return nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("server config: load env file %q: %w", path, err)
		}
		vals = map[string]string{}
	}
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}

	envMu.Lock()
	defer envMu.Unlock()

	prev := envOwned[key]
	for k := range prev {
		if _, ok := vals[k]; !ok {
			os.Unsetenv(k)
		}
	}
	owned := make(map[string]bool, len(vals))
	for k, v := range vals {
		if _, set := os.LookupEnv(k); set && !override && !prev[k] {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("server config: set %s from %q: %w", k, path, err)
		}
		owned[k] = true
	}
	envOwned[key] = owned
	return nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Defaults: DefaultsConfig{
				Tenant:   DefaultTenant,
				Language: DefaultLanguage,
			},
			Health: HealthConfig{
				CacheTTL:       DefaultCacheTTL,
				ProbeTimeout:   DefaultProbeTimeout,
				MaxConcurrency: DefaultMaxConcurrency,
			},
			Proxy: ProxyConfig{
				Timeout:      DefaultProxyTimeout,
				MaxIdleConns: DefaultProxyMaxIdleConns,
			},
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// applyEnv overrides file values with the environment variables that are set.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvAPIConfigs); v != "" {
		cfg.Server.APIConfigs = v
	}
	if v := os.Getenv(EnvDefaultTenant); v != "" {
		cfg.Server.Defaults.Tenant = v
	}
	if v := os.Getenv(EnvDefaultLanguage); v != "" {
		cfg.Server.Defaults.Language = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s=%q is not a port number", EnvHTTPPort, v)
		}
		cfg.Server.HTTPPort = port
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", s.GRPCPort)
	}
	if s.GRPCPort != 0 && s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	if s.Health.CacheTTL < 0 {
		return fmt.Errorf("server.health.cache_ttl must not be negative")
	}
	if s.Health.ProbeTimeout < 0 {
		return fmt.Errorf("server.health.probe_timeout must not be negative")
	}
	if s.Health.MaxConcurrency < 0 {
		return fmt.Errorf("server.health.max_concurrency must not be negative")
	}
	if s.Proxy.Timeout < 0 {
		return fmt.Errorf("server.proxy.timeout must not be negative")
	}
	if s.BroadcastInterval < 0 {
		return fmt.Errorf("server.broadcast_interval must not be negative")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "pagerduty", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want teams|slack|pagerduty|http", i, w.Type)
		}
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}
