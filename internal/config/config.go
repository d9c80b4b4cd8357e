// Package config handles configuration loading and management for q360live.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/q360/livemonitor/pkg/types"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "Q360_"

// Config represents the global configuration for q360live
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Reconnect ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	Channels  ChannelsConfig  `yaml:"channels" envPrefix:"CHANNELS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	Serve     ServeConfig     `yaml:"serve" envPrefix:"SERVE_"`
	Report    ReportConfig    `yaml:"report" envPrefix:"REPORT_"`
}

// ServerConfig describes the dashboard the clients connect to
type ServerConfig struct {
	URL                string        `yaml:"url" env:"URL"` // dashboard page URL, e.g. https://q360.example.com/
	SessionCookie      string        `yaml:"session_cookie" env:"SESSION_COOKIE"`
	Session            string        `yaml:"session" env:"SESSION"`
	CSRFToken          string        `yaml:"csrf_token" env:"CSRF_TOKEN"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// ReconnectConfig defines the reconnect policy of every channel
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Strategy    string        `yaml:"strategy" env:"STRATEGY"` // exponential, linear
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"` // exponential only
}

// ChannelsConfig holds the fixed channel paths
type ChannelsConfig struct {
	Notifications string `yaml:"notifications" env:"NOTIFICATIONS"`
	ThreatMonitor string `yaml:"threat_monitor" env:"THREAT_MONITOR"`
	AuditLogs     string `yaml:"audit_logs" env:"AUDIT_LOGS"`
}

// LogConfig defines logging output
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	File   string `yaml:"file" env:"FILE"` // used by the TUI commands
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// MetricsConfig defines the Prometheus endpoint of the client commands
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"` // empty disables the endpoint
}

// ServeConfig defines the development server
type ServeConfig struct {
	Listen        string        `yaml:"listen" env:"LISTEN"`
	EventInterval time.Duration `yaml:"event_interval" env:"EVENT_INTERVAL"`
	CommandRate   float64       `yaml:"command_rate" env:"COMMAND_RATE"` // inbound commands per second per connection
	CommandBurst  int           `yaml:"command_burst" env:"COMMAND_BURST"`
	Session       string        `yaml:"session" env:"SESSION"` // required session cookie value, empty allows anonymous
	BroadcastPool int           `yaml:"broadcast_pool" env:"BROADCAST_POOL"`
}

// ReportConfig defines the session report the monitor writes on exit
type ReportConfig struct {
	Path   string `yaml:"path" env:"PATH"`     // output directory, empty disables the report
	Format string `yaml:"format" env:"FORMAT"` // json, html, all
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:              "http://127.0.0.1:8000/",
			SessionCookie:    "sessionid",
			HandshakeTimeout: 10 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			Strategy:    "exponential",
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Channels: ChannelsConfig{
			Notifications: types.PathNotifications,
			ThreatMonitor: types.PathThreatMonitor,
			AuditLogs:     types.PathAuditLogs,
		},
		Log: LogConfig{
			Level: "info",
			File:  "q360live.log",
		},
		Serve: ServeConfig{
			Listen:        "127.0.0.1:8000",
			EventInterval: 3 * time.Second,
			CommandRate:   5,
			CommandBurst:  10,
			BroadcastPool: 64,
		},
		Report: ReportConfig{
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then Q360_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Server.URL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.url %q is not an absolute URL", c.Server.URL))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	switch c.Reconnect.Strategy {
	case "exponential", "linear":
	default:
		errs = append(errs, fmt.Errorf("reconnect.strategy %q must be exponential or linear", c.Reconnect.Strategy))
	}
	if c.Reconnect.BaseDelay <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay must be positive"))
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect.max_delay must be at least reconnect.base_delay"))
	}
	for name, p := range map[string]string{
		"channels.notifications":  c.Channels.Notifications,
		"channels.threat_monitor": c.Channels.ThreatMonitor,
		"channels.audit_logs":     c.Channels.AuditLogs,
	} {
		if p == "" || p[0] != '/' {
			errs = append(errs, fmt.Errorf("%s must be an absolute path", name))
		}
	}
	if c.Serve.CommandRate <= 0 || c.Serve.CommandBurst <= 0 {
		errs = append(errs, errors.New("serve.command_rate and serve.command_burst must be positive"))
	}
	if c.Serve.EventInterval <= 0 {
		errs = append(errs, errors.New("serve.event_interval must be positive"))
	}
	switch c.Report.Format {
	case "json", "html", "all":
	default:
		errs = append(errs, fmt.Errorf("report.format %q must be json, html or all", c.Report.Format))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
