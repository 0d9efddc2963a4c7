// Package config manages poolkit configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names the deployment environment used in metric labels.
type Environment string

const (
	// EnvDevelopment marks local development runs.
	EnvDevelopment Environment = "development"
	// EnvStaging marks staging builds.
	EnvStaging Environment = "staging"
	// EnvProduction marks release builds.
	EnvProduction Environment = "production"
)

const (
	defaultPoolCapacity   = 10
	defaultPoolMaxSize    = 100
	defaultMetricInterval = 30 * time.Second
	defaultServiceName    = "poolkit"
)

// PoolSpec sizes a single named pool.
type PoolSpec struct {
	// DefaultCapacity pre-sizes idle storage; it is not a limit.
	DefaultCapacity int `yaml:"defaultCapacity"`
	// MaxSize caps the idle items a pool retains.
	MaxSize int `yaml:"maxSize"`
	// CollectionCheck enables double-release detection. Defaults to true.
	CollectionCheck *bool `yaml:"collectionCheck"`
	// Warm is the number of items created up front.
	Warm int `yaml:"warm"`
}

// CollectionCheckEnabled resolves the collection check flag, defaulting to true.
func (s PoolSpec) CollectionCheckEnabled() bool {
	if s.CollectionCheck == nil {
		return true
	}
	return *s.CollectionCheck
}

func (s PoolSpec) validate(name string) error {
	if s.MaxSize <= 0 {
		return fmt.Errorf("pools.%s.maxSize must be >0", name)
	}
	if s.DefaultCapacity < 0 {
		return fmt.Errorf("pools.%s.defaultCapacity must be >=0", name)
	}
	if s.DefaultCapacity > s.MaxSize {
		return fmt.Errorf("pools.%s.defaultCapacity must be <= maxSize", name)
	}
	if s.Warm < 0 || s.Warm > s.MaxSize {
		return fmt.Errorf("pools.%s.warm must be between 0 and maxSize", name)
	}
	return nil
}

// TelemetryConfig controls metric export.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	ServiceName    string        `yaml:"serviceName"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// SimulationConfig drives the poolsim frame loop.
type SimulationConfig struct {
	Frames        int   `yaml:"frames"`
	SpawnPerFrame int   `yaml:"spawnPerFrame"`
	LifetimeTicks int   `yaml:"lifetimeTicks"`
	Seed          int64 `yaml:"seed"`
}

// AppConfig is the unified poolkit configuration sourced from YAML.
type AppConfig struct {
	Environment Environment         `yaml:"environment"`
	Pools       map[string]PoolSpec `yaml:"pools"`
	Telemetry   TelemetryConfig     `yaml:"telemetry"`
	Simulation  SimulationConfig    `yaml:"simulation"`
}

// Default returns the configuration used when no file is present.
func Default() AppConfig {
	enabled, disabled := true, false
	return AppConfig{
		Environment: EnvDevelopment,
		Pools: map[string]PoolSpec{
			"projectiles": {DefaultCapacity: defaultPoolCapacity, MaxSize: defaultPoolMaxSize, CollectionCheck: &enabled},
			"sparks":      {DefaultCapacity: 32, MaxSize: 64, CollectionCheck: &disabled, Warm: 16},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    defaultServiceName,
			MetricInterval: defaultMetricInterval,
		},
		Simulation: SimulationConfig{
			Frames:        600,
			SpawnPerFrame: 3,
			LifetimeTicks: 45,
			Seed:          1,
		},
	}
}

// PoolNames returns the configured pool names in sorted order.
func (c AppConfig) PoolNames() []string {
	names := make([]string, 0, len(c.Pools))
	for name := range c.Pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads, normalises and validates an AppConfig from the YAML file at path.
func Load(ctx context.Context, path string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	return Decode(reader)
}

// LoadOrDefault behaves like Load but falls back to Default when the file does
// not exist. The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, path string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	return AppConfig{}, false, err
}

// Decode parses YAML from r, then normalises and validates the result.
func Decode(r io.Reader) (AppConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := AppConfig{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}

	pools := make(map[string]PoolSpec, len(c.Pools))
	for name, spec := range c.Pools {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, exists := pools[key]; exists {
			return fmt.Errorf("duplicate pool name %q", key)
		}
		if spec.DefaultCapacity == 0 {
			spec.DefaultCapacity = min(defaultPoolCapacity, max(spec.MaxSize, 0))
		}
		pools[key] = spec
	}
	c.Pools = pools

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	if c.Telemetry.MetricInterval <= 0 {
		c.Telemetry.MetricInterval = defaultMetricInterval
	}
	return nil
}

// Validate checks the configuration for values the runtime cannot honour.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("environment must be one of development, staging, production")
	}

	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}
	for _, name := range c.PoolNames() {
		if name == "" {
			return fmt.Errorf("pool names must be non-empty")
		}
		if err := c.Pools[name].validate(name); err != nil {
			return err
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlpEndpoint required when telemetry is enabled")
	}

	if c.Simulation.Frames < 0 {
		return fmt.Errorf("simulation.frames must be >=0")
	}
	if c.Simulation.SpawnPerFrame < 0 {
		return fmt.Errorf("simulation.spawnPerFrame must be >=0")
	}
	if c.Simulation.LifetimeTicks < 0 {
		return fmt.Errorf("simulation.lifetimeTicks must be >=0")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
