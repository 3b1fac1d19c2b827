package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	PlatformTypeOpenCTI = "opencti"
	PlatformTypeOpenAEV = "openaev"
)

type Config struct {
	Logger    LoggerConfig     `mapstructure:"logger"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Scanner   ScannerConfig    `mapstructure:"scanner"`
	Resolver  ResolverConfig   `mapstructure:"resolver"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Server    ServerConfig     `mapstructure:"server"`
	Platforms []PlatformConfig `mapstructure:"platforms"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// RedisConfig points at the optional cache snapshot store. An empty Addr
// disables persistence and the cache lives in memory only.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
}

type ScannerConfig struct {
	ContextWindow       int `mapstructure:"context_window"`
	MinEntityNameLength int `mapstructure:"min_entity_name_length"`
}

type ResolverConfig struct {
	SearchTimeout     time.Duration `mapstructure:"search_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	LiveSearch        bool          `mapstructure:"live_search"`
}

type CacheConfig struct {
	EntityTypes     []string      `mapstructure:"entity_types"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RefreshTimeout  time.Duration `mapstructure:"refresh_timeout"`
	SafetyTimeout   time.Duration `mapstructure:"safety_timeout"`
}

type ServerConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	APIKey    string          `mapstructure:"api_key"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

// PlatformConfig describes one connected threat-intelligence or
// attack-surface platform.
type PlatformConfig struct {
	ID                 string          `mapstructure:"id"`
	Name               string          `mapstructure:"name"`
	Type               string          `mapstructure:"type"` // opencti, openaev
	URL                string          `mapstructure:"url"`
	APIToken           string          `mapstructure:"api_token"`
	Enabled            bool            `mapstructure:"enabled"`
	Timeout            time.Duration   `mapstructure:"timeout"`
	InsecureSkipVerify bool            `mapstructure:"insecure_skip_verify"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
}

// Platform returns the platform configuration with the given id.
func (c *Config) Platform(id string) (PlatformConfig, bool) {
	for _, p := range c.Platforms {
		if p.ID == id {
			return p, true
		}
	}
	return PlatformConfig{}, false
}

// EnabledPlatforms returns enabled platforms in declaration order.
func (c *Config) EnabledPlatforms() []PlatformConfig {
	var out []PlatformConfig
	for _, p := range c.Platforms {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("platforms[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("platforms[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true

		switch p.Type {
		case PlatformTypeOpenCTI, PlatformTypeOpenAEV:
		default:
			errs = append(errs, fmt.Errorf("platform %s: unsupported type %q", p.ID, p.Type))
		}

		if p.Enabled && (p.URL == "" || p.APIToken == "") {
			errs = append(errs, fmt.Errorf("platform %s: url and api_token are required", p.ID))
		}
	}

	if c.Resolver.Concurrency < 0 {
		errs = append(errs, errors.New("resolver.concurrency must not be negative"))
	}
	if c.Scanner.ContextWindow < 0 {
		errs = append(errs, errors.New("scanner.context_window must not be negative"))
	}

	return errors.Join(errs...)
}

// DefaultConfig mirrors the defaults registered with viper in cmd/root.go.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "spotter",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Redis: RedisConfig{
			Addr:         "",
			DB:           0,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "spotter:cache",
			SnapshotTTL:  24 * time.Hour,
		},
		Scanner: ScannerConfig{
			ContextWindow:       40,
			MinEntityNameLength: 4,
		},
		Resolver: ResolverConfig{
			SearchTimeout:     5 * time.Second,
			ConnectionTimeout: 10 * time.Second,
			Concurrency:       8,
			LiveSearch:        true,
		},
		Cache: CacheConfig{
			EntityTypes: []string{
				"Threat-Actor-Group",
				"Intrusion-Set",
				"Malware",
				"Campaign",
				"Attack-Pattern",
				"Vulnerability",
			},
			MaxAge:          time.Hour,
			RefreshInterval: 30 * time.Minute,
			RefreshTimeout:  2 * time.Minute,
			SafetyTimeout:   5 * time.Minute,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8484,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
		},
	}
}
