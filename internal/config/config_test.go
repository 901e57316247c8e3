package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv(EnvAccessKey, "")
	t.Setenv(EnvSecretKey, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "trader.yaml")
	yaml := `
environment: STAGING
trade:
  account: main
  strategy: grid
  symbol: BTC/USDT
  host: https://api.binance.com/
  accessKey: " ak "
  secretKey: sk
session:
  renewInterval: 20m
  heartbeatInterval: 5s
  maxRenewFailures: 2
http:
  timeout: 3s
  insecureSkipVerify: true
dispatch:
  queueSize: 64
logging:
  level: DEBUG
  format: json
journal:
  dsn: postgres://trader@localhost/trader
  migrate: true
mirror:
  addr: localhost:6379
  db: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "binance", cfg.Trade.Platform)
	require.Equal(t, "https://api.binance.com", cfg.Trade.Host)
	require.Equal(t, "https://fapi.binance.com", cfg.Trade.FuturesHost)
	require.Equal(t, defaultWSS, cfg.Trade.WSS)
	require.Equal(t, "ak", cfg.Trade.AccessKey)
	require.Equal(t, 20*time.Minute, cfg.Session.RenewInterval)
	require.Equal(t, 5*time.Second, cfg.Session.HeartbeatInterval)
	require.Equal(t, 2, cfg.Session.MaxRenewFailures)
	require.Equal(t, 3*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, defaultRecvWindow, cfg.HTTP.RecvWindow)
	require.True(t, cfg.HTTP.InsecureSkipVerify)
	require.Equal(t, 64, cfg.Dispatch.QueueSize)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.True(t, cfg.Journal.Migrate)
	require.Equal(t, 2, cfg.Mirror.DB)
	require.Equal(t, defaultKeyPrefix, cfg.Mirror.KeyPrefix)
}

func TestParseRequiresTradeParams(t *testing.T) {
	t.Setenv(EnvAccessKey, "")
	t.Setenv(EnvSecretKey, "")
	_, err := Parse(strings.NewReader("trade:\n  strategy: grid\n  symbol: BTCUSDT\n"))
	require.ErrorContains(t, err, "param account miss")
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv(EnvAccessKey, "env-ak")
	t.Setenv(EnvSecretKey, "env-sk")
	t.Setenv(EnvRedisAddr, "redis:6379")

	cfg, err := Parse(strings.NewReader("trade:\n  account: a\n  strategy: s\n  symbol: BTCUSDT\n  accessKey: file-ak\n"))
	require.NoError(t, err)
	require.Equal(t, "env-ak", cfg.Trade.AccessKey)
	require.Equal(t, "env-sk", cfg.Trade.SecretKey)
	require.Equal(t, "redis:6379", cfg.Mirror.Addr)
}

func TestValidateRejectsHeartbeatLongerThanRenewal(t *testing.T) {
	cfg := Default()
	cfg.Trade = TradeConfig{Account: "a", Strategy: "s", Symbol: "BTCUSDT", AccessKey: "k", SecretKey: "s"}
	cfg.Session.HeartbeatInterval = time.Hour
	require.ErrorContains(t, cfg.Validate(), "heartbeatInterval")
}

func TestValidateTelemetryEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Trade = TradeConfig{Account: "a", Strategy: "s", Symbol: "BTCUSDT", AccessKey: "k", SecretKey: "s"}
	require.NoError(t, cfg.Validate())

	cfg.Telemetry.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "otlpEndpoint")
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, defaultRenewInterval, cfg.Session.RenewInterval)
	require.Equal(t, defaultHeartbeatInterval, cfg.Session.HeartbeatInterval)
	require.Equal(t, defaultQueueSize, cfg.Dispatch.QueueSize)
	require.Equal(t, "info", cfg.Logging.Level)
}
