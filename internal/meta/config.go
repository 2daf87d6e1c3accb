package meta

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LogConfig describes the log output engine.
type LogConfig struct {
	// Format is one of console (default) or json.
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string    `yaml:"sentry_dsn" toml:"sentry_dsn"`
	Log       LogConfig `yaml:"log" toml:"log"`
}

// StatsdConfig describes a statsd metrics sink.
type StatsdConfig struct {
	Address    string  `yaml:"addr" toml:"addr"`
	SampleRate float32 `yaml:"sample_rate" toml:"sample_rate"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *StatsdConfig `yaml:"statsd" toml:"statsd"`
}

// UDPListenerConfig describes the DNS socket shared by clients and the upstream.
type UDPListenerConfig struct {
	Address string `yaml:"addr" toml:"addr"`
}

// AdminListenerConfig describes the optional HTTP administration API.
type AdminListenerConfig struct {
	Address string `yaml:"addr" toml:"addr"`
}

// ListenerConfig is a top-level block for server listener configuration.
type ListenerConfig struct {
	UDP   UDPListenerConfig    `yaml:"udp" toml:"udp"`
	Admin *AdminListenerConfig `yaml:"admin" toml:"admin"`
}

// UpstreamConfig is a top-level block for upstream configuration.
type UpstreamConfig struct {
	Address        string        `yaml:"addr" toml:"addr"`
	PendingTimeout time.Duration `yaml:"pending_timeout" toml:"pending_timeout"`
	MaxPending     int           `yaml:"max_pending" toml:"max_pending"`
}

// PoolConfig is a top-level block for worker pool configuration.
type PoolConfig struct {
	// Size is an explicit worker count; zero derives it from the multiplier and LTPC.
	Size                  int  `yaml:"size" toml:"size"`
	Multiplier            int  `yaml:"multiplier" toml:"multiplier"`
	LogicalThreadsPerCore int  `yaml:"logical_threads_per_core" toml:"logical_threads_per_core"`
	Affinity              bool `yaml:"affinity" toml:"affinity"`
}

// CacheConfig is a top-level block for answer cache configuration.
type CacheConfig struct {
	Capacity    int           `yaml:"capacity" toml:"capacity"`
	TTLEviction bool          `yaml:"ttl_eviction" toml:"ttl_eviction"`
	MinTTL      time.Duration `yaml:"min_ttl" toml:"min_ttl"`
	MaxTTL      time.Duration `yaml:"max_ttl" toml:"max_ttl"`
}

// Config describes all application configuration options.
type Config struct {
	Application ApplicationConfig `yaml:"application" toml:"application"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
	Listener    ListenerConfig    `yaml:"listener" toml:"listener"`
	Upstream    UpstreamConfig    `yaml:"upstream" toml:"upstream"`
	Pool        PoolConfig        `yaml:"pool" toml:"pool"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
}

// Overrides carries command-line values that take precedence over the configuration file. Nil
// fields leave the corresponding option untouched.
type Overrides struct {
	Port                  *int
	Upstream              *string
	PoolSize              *int
	LogicalThreadsPerCore *int
	Multiplier            *int
	Affinity              *bool
	Capacity              *int
	TTLEviction           *bool
}

// DefaultConfig returns the configuration used for any option not specified by the user.
func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Log: LogConfig{
				Format:     "console",
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Listener: ListenerConfig{
			UDP: UDPListenerConfig{Address: ":6073"},
		},
		Upstream: UpstreamConfig{
			Address:        "8.8.8.8:53",
			PendingTimeout: 5 * time.Second,
			MaxPending:     65536,
		},
		Pool: PoolConfig{
			Multiplier:            4,
			LogicalThreadsPerCore: 1,
		},
		Cache: CacheConfig{
			Capacity:    1000000,
			TTLEviction: true,
			MaxTTL:      6 * time.Hour,
		},
	}
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk. Options
// absent from the file keep their default values. Files with a .toml extension are parsed as TOML;
// anything else is parsed as YAML. An empty path yields the validated defaults.
func ParseConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: error parsing toml config: err=%v", err)
		}
	} else {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: error parsing config: err=%v", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Apply layers command-line overrides on top of the configuration and revalidates the result.
func (c *Config) Apply(overrides Overrides) error {
	if overrides.Port != nil {
		host, _, err := net.SplitHostPort(c.Listener.UDP.Address)
		if err != nil {
			host = ""
		}

		c.Listener.UDP.Address = net.JoinHostPort(host, strconv.Itoa(*overrides.Port))
	}

	if overrides.Upstream != nil {
		c.Upstream.Address = *overrides.Upstream
	}

	if overrides.PoolSize != nil {
		c.Pool.Size = *overrides.PoolSize
	}

	if overrides.LogicalThreadsPerCore != nil {
		c.Pool.LogicalThreadsPerCore = *overrides.LogicalThreadsPerCore
	}

	if overrides.Multiplier != nil {
		c.Pool.Multiplier = *overrides.Multiplier
	}

	if overrides.Affinity != nil {
		c.Pool.Affinity = *overrides.Affinity
	}

	if overrides.Capacity != nil {
		c.Cache.Capacity = *overrides.Capacity
	}

	if overrides.TTLEviction != nil {
		c.Cache.TTLEviction = *overrides.TTLEviction
	}

	return c.validate()
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Application */

	switch c.Application.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: unknown log format: format=%s", c.Application.Log.Format)
	}

	/* Metrics */

	// Users can omit the metrics block entirely to disable metrics reporting.
	if c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	/* Listener */

	if err := validateAddress(c.Listener.UDP.Address); err != nil {
		return fmt.Errorf("config: invalid UDP server listening address: addr=%s err=%v", c.Listener.UDP.Address, err)
	}

	if c.Listener.Admin != nil && c.Listener.Admin.Address == "" {
		return fmt.Errorf("config: missing admin server listening address")
	}

	/* Upstream */

	if err := validateAddress(c.Upstream.Address); err != nil {
		return fmt.Errorf("config: invalid upstream address: addr=%s err=%v", c.Upstream.Address, err)
	}

	if c.Upstream.PendingTimeout <= 0 {
		return fmt.Errorf("config: upstream pending timeout must be positive")
	}

	if c.Upstream.MaxPending <= 0 {
		return fmt.Errorf("config: upstream max pending must be positive")
	}

	/* Pool */

	if c.Pool.Size < 0 {
		return fmt.Errorf("config: pool size must be non-negative: size=%d", c.Pool.Size)
	}

	if c.Pool.Multiplier < 1 {
		return fmt.Errorf("config: pool multiplier must be at least 1: multiplier=%d", c.Pool.Multiplier)
	}

	if c.Pool.LogicalThreadsPerCore < 1 {
		return fmt.Errorf(
			"config: logical threads per core must be at least 1: ltpc=%d",
			c.Pool.LogicalThreadsPerCore,
		)
	}

	if c.Pool.Affinity && c.Pool.Size > 0 {
		return fmt.Errorf("config: pool affinity cannot be combined with an explicit pool size")
	}

	/* Cache */

	if c.Cache.Capacity < 0 {
		return fmt.Errorf("config: cache capacity must be non-negative: capacity=%d", c.Cache.Capacity)
	}

	if c.Cache.MinTTL < 0 || c.Cache.MaxTTL < 0 {
		return fmt.Errorf("config: cache TTL bounds must be non-negative")
	}

	if c.Cache.MinTTL > c.Cache.MaxTTL {
		return fmt.Errorf("config: cache min TTL exceeds max TTL: min=%v max=%v", c.Cache.MinTTL, c.Cache.MaxTTL)
	}

	return nil
}

// validateAddress checks that addr is a host:port pair with a valid numeric port.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	num, err := strconv.Atoi(port)
	if err != nil || num < 0 || num > 65535 {
		return fmt.Errorf("invalid port: port=%s", port)
	}

	return nil
}
