// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// DatabaseConfig controls PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/ledgerlens"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	return nil
}

// RedisConfig controls the optional wallet result cache.
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

func (c *RedisConfig) applyDefaults() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
}

func (c RedisConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr required when enabled")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be >=0")
	}
	return nil
}

// EngineConfig sizes the reconciliation engine's fetch stage and batch pool.
type EngineConfig struct {
	// Workers bounds concurrent wallet computations. Zero or "auto" uses the
	// CPU count capped at 8.
	Workers WorkerSetting `yaml:"workers"`
	// AmountScale is the scaled-integer exponent of upstream amounts.
	AmountScale     int32         `yaml:"amountScale"`
	FetchTimeout    time.Duration `yaml:"fetchTimeout"`
	FetchRate       float64       `yaml:"fetchRate"`
	FetchBurst      int           `yaml:"fetchBurst"`
	RetryMaxElapsed time.Duration `yaml:"retryMaxElapsed"`
}

func (c *EngineConfig) applyDefaults() {
	if c.AmountScale <= 0 {
		c.AmountScale = 6
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.FetchRate <= 0 {
		c.FetchRate = 20
	}
	if c.FetchBurst <= 0 {
		c.FetchBurst = 5
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = 20 * time.Second
	}
}

func (c EngineConfig) validate() error {
	if c.WorkerCount() <= 0 {
		return fmt.Errorf("workers must be >0")
	}
	if c.AmountScale <= 0 {
		return fmt.Errorf("amountScale must be >0")
	}
	if c.FetchRate <= 0 {
		return fmt.Errorf("fetchRate must be >0")
	}
	return nil
}

// WorkerCount returns the resolved worker count for the batch pool.
func (c EngineConfig) WorkerCount() int {
	return c.Workers.resolve()
}

type workerKind int

const (
	workerUnset workerKind = iota
	workerExplicit
	workerAuto
)

// WorkerSetting encapsulates the worker configuration allowing both numeric
// and symbolic values.
type WorkerSetting struct {
	kind  workerKind
	value int
}

// UnmarshalYAML supports integer and "auto" values for workers.
func (s *WorkerSetting) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = WorkerSetting{kind: workerUnset, value: 0}
		return nil
	}
	text := strings.TrimSpace(node.Value)
	if text == "" {
		s.kind = workerUnset
		s.value = 0
		return nil
	}
	if strings.EqualFold(text, "auto") {
		s.kind = workerAuto
		s.value = 0
		return nil
	}
	var val int
	if err := node.Decode(&val); err != nil {
		return fmt.Errorf("workers: invalid value %q", node.Value)
	}
	if val <= 0 {
		return fmt.Errorf("workers: numeric value must be > 0")
	}
	s.kind = workerExplicit
	s.value = val
	return nil
}

func (s WorkerSetting) resolve() int {
	switch s.kind {
	case workerExplicit:
		return s.value
	case workerAuto:
		cores := runtime.NumCPU()
		if cores <= 0 {
			return 8
		}
		if cores > 8 {
			return 8
		}
		return cores
	default:
		return 8
	}
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Engine      EngineConfig    `yaml:"engine"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "ledgerlens"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Database.applyDefaults()
	c.Redis.applyDefaults()
	c.Engine.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := c.Engine.validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level must be one of trace, debug, info, warn, error")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
