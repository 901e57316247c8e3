// Package config manages trader configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the trader operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

const (
	defaultPlatform          = "binance"
	defaultHost              = "https://api.binance.com"
	defaultFuturesHost       = "https://fapi.binance.com"
	defaultWSS               = "wss://stream.binance.com:9443"
	defaultRenewInterval     = 30 * time.Minute
	defaultHeartbeatInterval = 10 * time.Second
	defaultMaxRenewFailures  = 3
	defaultHTTPTimeout       = 10 * time.Second
	defaultRecvWindow        = 5 * time.Second
	defaultRequestsPerSecond = 10
	defaultBurst             = 5
	defaultQueueSize         = 1024
	defaultServiceName       = "meltica-trader"
	defaultTelemetryInterval = 15 * time.Second
	defaultKeyPrefix         = "trader"
)

// Environment variable overrides applied after the file is parsed.
const (
	EnvAccessKey  = "BINANCE_ACCESS_KEY"
	EnvSecretKey  = "BINANCE_SECRET_KEY"
	EnvJournalDSN = "TRADER_JOURNAL_DSN"
	EnvRedisAddr  = "TRADER_REDIS_ADDR"
)

// TradeConfig identifies the owning context and the exchange account.
type TradeConfig struct {
	Platform string `yaml:"platform"`
	Account  string `yaml:"account"`
	Strategy string `yaml:"strategy"`
	Symbol   string `yaml:"symbol"`
	Host     string `yaml:"host"`
	// FuturesHost serves the USD-M futures endpoints.
	FuturesHost string `yaml:"futuresHost"`
	WSS         string `yaml:"wss"`
	AccessKey   string `yaml:"accessKey"`
	SecretKey   string `yaml:"secretKey"`
}

// SessionConfig controls listen key renewal and stream liveness.
type SessionConfig struct {
	RenewInterval     time.Duration `yaml:"renewInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	MaxRenewFailures  int           `yaml:"maxRenewFailures"`
}

// HTTPConfig controls the REST transport.
type HTTPConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	RecvWindow         time.Duration `yaml:"recvWindow"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	RequestsPerSecond  float64       `yaml:"requestsPerSecond"`
	Burst              int           `yaml:"burst"`
}

// DispatchConfig sizes the notification queue.
type DispatchConfig struct {
	QueueSize int `yaml:"queueSize"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	OTLPEndpoint string        `yaml:"otlpEndpoint"`
	OTLPInsecure bool          `yaml:"otlpInsecure"`
	ServiceName  string        `yaml:"serviceName"`
	Interval     time.Duration `yaml:"interval"`
}

// JournalConfig enables the Postgres order journal when DSN is set.
type JournalConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// MirrorConfig enables the Redis open-order mirror when Addr is set.
type MirrorConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// AppConfig is the unified trader configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Trade       TradeConfig     `yaml:"trade"`
	Session     SessionConfig   `yaml:"session"`
	HTTP        HTTPConfig      `yaml:"http"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Journal     JournalConfig   `yaml:"journal"`
	Mirror      MirrorConfig    `yaml:"mirror"`
}

// Default returns a configuration populated with defaults only.
func Default() AppConfig {
	var cfg AppConfig
	cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	return Parse(reader)
}

// Parse decodes, normalises and validates configuration from r.
func Parse(r io.Reader) (AppConfig, error) {
	bytes, err := io.ReadAll(r)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAccessKey); ok && strings.TrimSpace(v) != "" {
		c.Trade.AccessKey = v
	}
	if v, ok := lookup(EnvSecretKey); ok && strings.TrimSpace(v) != "" {
		c.Trade.SecretKey = v
	}
	if v, ok := lookup(EnvJournalDSN); ok && strings.TrimSpace(v) != "" {
		c.Journal.DSN = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && strings.TrimSpace(v) != "" {
		c.Mirror.Addr = v
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Trade.Platform = strings.ToLower(strings.TrimSpace(c.Trade.Platform))
	if c.Trade.Platform == "" {
		c.Trade.Platform = defaultPlatform
	}
	c.Trade.Account = strings.TrimSpace(c.Trade.Account)
	c.Trade.Strategy = strings.TrimSpace(c.Trade.Strategy)
	c.Trade.Symbol = strings.TrimSpace(c.Trade.Symbol)
	c.Trade.AccessKey = strings.TrimSpace(c.Trade.AccessKey)
	c.Trade.SecretKey = strings.TrimSpace(c.Trade.SecretKey)
	c.Trade.Host = strings.TrimRight(strings.TrimSpace(c.Trade.Host), "/")
	if c.Trade.Host == "" {
		c.Trade.Host = defaultHost
	}
	c.Trade.FuturesHost = strings.TrimRight(strings.TrimSpace(c.Trade.FuturesHost), "/")
	if c.Trade.FuturesHost == "" {
		c.Trade.FuturesHost = defaultFuturesHost
	}
	c.Trade.WSS = strings.TrimRight(strings.TrimSpace(c.Trade.WSS), "/")
	if c.Trade.WSS == "" {
		c.Trade.WSS = defaultWSS
	}

	if c.Session.RenewInterval <= 0 {
		c.Session.RenewInterval = defaultRenewInterval
	}
	if c.Session.HeartbeatInterval <= 0 {
		c.Session.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Session.MaxRenewFailures <= 0 {
		c.Session.MaxRenewFailures = defaultMaxRenewFailures
	}

	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = defaultHTTPTimeout
	}
	if c.HTTP.RecvWindow <= 0 {
		c.HTTP.RecvWindow = defaultRecvWindow
	}
	if c.HTTP.RequestsPerSecond <= 0 {
		c.HTTP.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = defaultBurst
	}

	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = defaultQueueSize
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	if c.Telemetry.Interval <= 0 {
		c.Telemetry.Interval = defaultTelemetryInterval
	}

	c.Journal.DSN = strings.TrimSpace(c.Journal.DSN)
	c.Mirror.Addr = strings.TrimSpace(c.Mirror.Addr)
	c.Mirror.KeyPrefix = strings.TrimSpace(c.Mirror.KeyPrefix)
	if c.Mirror.KeyPrefix == "" {
		c.Mirror.KeyPrefix = defaultKeyPrefix
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	required := []struct {
		name  string
		value string
	}{
		{"account", c.Trade.Account},
		{"strategy", c.Trade.Strategy},
		{"symbol", c.Trade.Symbol},
		{"accessKey", c.Trade.AccessKey},
		{"secretKey", c.Trade.SecretKey},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("trade: param %s miss", r.name)
		}
	}

	if c.Session.HeartbeatInterval >= c.Session.RenewInterval {
		return fmt.Errorf("session heartbeatInterval must be shorter than renewInterval")
	}
	if c.Mirror.DB < 0 {
		return fmt.Errorf("mirror db must be >= 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when enabled")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json")
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
