// Package config loads and validates the driftgate server configuration.
// Routing rules live in their own file (see internal/routing); this package
// covers everything else: listeners, transports, suppression policies,
// channels, and escalation policies.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftgate/driftgate/internal/channel"
	"github.com/driftgate/driftgate/internal/dedup"
	"github.com/driftgate/driftgate/internal/escalation"
	"github.com/driftgate/driftgate/internal/rule"
	"github.com/driftgate/driftgate/internal/throttle"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort    = 8080
	DefaultNATSURL     = "nats://127.0.0.1:4222"
	DefaultNATSSubject = "driftgate.events"
	DefaultRoutesFile  = "routes.yaml"
	DefaultDedupKind   = dedup.KindBasic
	DefaultDedupWindow = 5 * time.Minute
)

// Config holds everything parsed from the `server:` section of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub, and /metrics listen
	// on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// RoutesFile is the path to the routing configuration, watched for
	// changes at runtime.
	RoutesFile string `yaml:"routes_file"`

	// NATS configures the inbound event subscription.
	NATS NATSConfig `yaml:"nats"`

	// Redis optionally backs dedup and throttle state shared across
	// replicas. Empty address keeps both in memory.
	Redis RedisConfig `yaml:"redis"`

	// Dedup selects the fingerprint policy.
	Dedup DedupConfig `yaml:"dedup"`

	// Throttle is the per-channel rate limit. All zero disables throttling.
	Throttle throttle.Config `yaml:"throttle"`

	// Limits bounds rule configuration trees.
	Limits LimitsConfig `yaml:"limits"`

	// Channels declares the outbound channel instances routes can name.
	Channels []channel.Config `yaml:"channels"`

	// Escalations declares the escalation policies routes can name.
	Escalations []escalation.Policy `yaml:"escalations"`
}

// NATSConfig configures the inbound event bus.
type NATSConfig struct {
	// Enabled turns the NATS consumer on. Off by default so the server can
	// run API-only.
	Enabled bool `yaml:"enabled"`

	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`

	// Queue is the queue group name; replicas in the same group share the
	// subject's messages.
	Queue string `yaml:"queue"`
}

// RedisConfig points at a shared redis instance.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`

	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Password resolves the redis password from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// DedupConfig selects the deduplication policy.
type DedupConfig struct {
	// Kind is one of: none | basic | severity | issue | strict.
	Kind string `yaml:"kind"`

	// Window is the suppression window (severity kind uses per-severity
	// windows instead). Default 5m.
	Window time.Duration `yaml:"window"`
}

// LimitsConfig bounds rule configuration trees. Zero fields fall back to
// the built-in defaults.
type LimitsConfig struct {
	MaxDepth    int `yaml:"max_depth"`
	MaxChildren int `yaml:"max_children"`
	MaxRules    int `yaml:"max_rules"`
}

// RuleLimits converts to the validator's limits type.
func (l LimitsConfig) RuleLimits() rule.Limits {
	return rule.Limits{MaxDepth: l.MaxDepth, MaxChildren: l.MaxChildren, MaxRules: l.MaxRules}
}

// Load reads and parses the config file at path. Missing fields are filled
// with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:   DefaultHTTPPort,
			RoutesFile: DefaultRoutesFile,
			NATS: NATSConfig{
				URL:     DefaultNATSURL,
				Subject: DefaultNATSSubject,
			},
			Dedup: DedupConfig{
				Kind:   DefaultDedupKind,
				Window: DefaultDedupWindow,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server

	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.RoutesFile == "" {
		return fmt.Errorf("server.routes_file must not be empty")
	}
	if s.NATS.Enabled && s.NATS.URL == "" {
		return fmt.Errorf("server.nats.url must not be empty when nats is enabled")
	}

	if _, err := dedup.NewPolicy(s.Dedup.Kind, s.Dedup.Window); err != nil {
		return fmt.Errorf("server.dedup: %w", err)
	}
	if s.Throttle.PerMinute < 0 || s.Throttle.PerHour < 0 || s.Throttle.PerDay < 0 || s.Throttle.Burst < 0 {
		return fmt.Errorf("server.throttle values must not be negative")
	}

	seen := map[string]bool{}
	for i, ch := range s.Channels {
		if ch.ID == "" {
			return fmt.Errorf("server.channels[%d] has no id", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("server.channels[%d] duplicates id %q", i, ch.ID)
		}
		seen[ch.ID] = true
	}

	policies := map[string]bool{}
	for i, p := range s.Escalations {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("server.escalations[%d]: %w", i, err)
		}
		if policies[p.ID] {
			return fmt.Errorf("server.escalations[%d] duplicates id %q", i, p.ID)
		}
		policies[p.ID] = true
	}

	return nil
}
