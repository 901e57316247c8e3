// Command trader runs one Binance spot trading connector: it keeps the live order view for
// a single account and symbol, journals order updates and mirrors open orders.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	dbmigrations "github.com/coachpo/meltica-trader/db/migrations"
	"github.com/coachpo/meltica-trader/internal/binance"
	"github.com/coachpo/meltica-trader/internal/config"
	rediscache "github.com/coachpo/meltica-trader/internal/infra/cache/redis"
	"github.com/coachpo/meltica-trader/internal/infra/persistence/migrations"
	"github.com/coachpo/meltica-trader/internal/infra/persistence/postgres"
	"github.com/coachpo/meltica-trader/internal/notify"
	"github.com/coachpo/meltica-trader/internal/observability"
	"github.com/coachpo/meltica-trader/internal/schema"
	"github.com/coachpo/meltica-trader/internal/telemetry"
	"github.com/coachpo/meltica-trader/internal/trade"
)

const (
	defaultConfigPath        = "config/trader.yaml"
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trader: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := resolveConfigPath(parseFlags())
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	observability.SetLogger(logger)
	logger.Info("configuration loaded",
		observability.F("path", cfgPath),
		observability.F("environment", string(cfg.Environment)))

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		MetricInterval: cfg.Telemetry.Interval,
		ServiceName:    cfg.Telemetry.ServiceName,
		Environment:    string(cfg.Environment),
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", observability.F("error", err))
		}
	}()
	metrics := observability.NewMetrics(string(cfg.Environment), cfg.Trade.Platform, cfg.Trade.Account, cfg.Trade.Symbol)

	sinks, closeSinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	dispatcher, err := notify.NewDispatcher(notify.Options{
		Callbacks: callbacks(logger, cancel),
		Sinks:     sinks,
		QueueSize: cfg.Dispatch.QueueSize,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("initialise notifications: %w", err)
	}

	trader, err := trade.New(tradeOptions(cfg, dispatcher, logger, metrics))
	if err != nil {
		return fmt.Errorf("initialise trade: %w", err)
	}
	if err := trader.Start(ctx); err != nil {
		drainNotifications(logger, dispatcher)
		return fmt.Errorf("start trade: %w", err)
	}
	if _, err := trader.RefreshAssets(ctx); err != nil {
		logger.Warn("initial balance load failed", observability.F("error", err))
	}

	logger.Info("trader started; awaiting shutdown signal", observability.F("symbol", cfg.Trade.Symbol))
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	start := time.Now()
	if err := trader.Close(shutdownCtx); err != nil {
		logger.Warn("trade close", observability.F("error", err))
	}
	drainNotifications(logger, dispatcher)
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(start).String()))
	return nil
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to trader configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func newLogger(cfg config.AppConfig) observability.Logger {
	return observability.NewLogrusLogger(observability.LogrusOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
		Fields: []observability.Field{
			observability.F("service", cfg.Telemetry.ServiceName),
			observability.F("account", cfg.Trade.Account),
			observability.F("strategy", cfg.Trade.Strategy),
		},
	})
}

// callbacks logs every notification. A failed initialization stops the process.
func callbacks(logger observability.Logger, stop context.CancelFunc) notify.Callbacks {
	return notify.Callbacks{
		OrderUpdate: func(order *schema.Order) {
			logger.Info("order update",
				observability.F("order_id", order.OrderID),
				observability.F("status", string(order.Status)),
				observability.F("remain", order.Remain.String()))
		},
		Error: func(err error) {
			logger.Error("trade error", observability.F("error", err))
		},
		InitDone: func(success bool, err error) {
			if success {
				logger.Info("open orders loaded")
				return
			}
			logger.Error("initialization failed", observability.F("error", err))
			stop()
		},
	}
}

func tradeOptions(cfg config.AppConfig, notifier trade.Notifier, logger observability.Logger, metrics *observability.Metrics) trade.Options {
	return trade.Options{
		Platform: cfg.Trade.Platform,
		Account:  cfg.Trade.Account,
		Strategy: cfg.Trade.Strategy,
		Symbol:   cfg.Trade.Symbol,
		WSS:      cfg.Trade.WSS,
		REST: binance.ClientOptions{
			Host:               cfg.Trade.Host,
			FuturesHost:        cfg.Trade.FuturesHost,
			AccessKey:          cfg.Trade.AccessKey,
			SecretKey:          cfg.Trade.SecretKey,
			Timeout:            cfg.HTTP.Timeout,
			InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
			RecvWindow:         cfg.HTTP.RecvWindow,
			RequestsPerSecond:  cfg.HTTP.RequestsPerSecond,
			Burst:              cfg.HTTP.Burst,
			Logger:             logger,
			Metrics:            metrics,
		},
		Notifier:          notifier,
		RenewInterval:     cfg.Session.RenewInterval,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		MaxRenewFailures:  cfg.Session.MaxRenewFailures,
		Logger:            logger,
		Metrics:           metrics,
	}
}

// buildSinks opens the configured journal and mirror. The returned func releases them.
func buildSinks(ctx context.Context, cfg config.AppConfig, logger observability.Logger) ([]notify.Sink, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Journal.DSN != "" {
		pool, err := openJournal(ctx, cfg, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, pool.Close)
		sinks = append(sinks, postgres.NewJournal(pool))
		logger.Info("order journal enabled")
	}

	if cfg.Mirror.Addr != "" {
		mirror := rediscache.New(rediscache.Options{
			Addr:      cfg.Mirror.Addr,
			DB:        cfg.Mirror.DB,
			KeyPrefix: cfg.Mirror.KeyPrefix,
		})
		if err := mirror.Ping(ctx); err != nil {
			_ = mirror.Close()
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() {
			if err := mirror.Close(); err != nil {
				logger.Warn("order mirror close", observability.F("error", err))
			}
		})
		sinks = append(sinks, mirror)
		logger.Info("open order mirror enabled", observability.F("addr", cfg.Mirror.Addr))
	}
	return sinks, closeAll, nil
}

func openJournal(ctx context.Context, cfg config.AppConfig, logger observability.Logger) (*pgxpool.Pool, error) {
	if cfg.Journal.Migrate {
		if err := migrations.Apply(ctx, cfg.Journal.DSN, dbmigrations.Files, logger); err != nil {
			return nil, err
		}
	}
	pool, err := postgres.Open(ctx, cfg.Journal.DSN)
	if err != nil {
		return nil, err
	}
	postgres.ObservePoolMetrics(pool, string(cfg.Environment))
	return pool, nil
}

func drainNotifications(logger observability.Logger, dispatcher *notify.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("notification drain", observability.F("error", err))
	}
}
