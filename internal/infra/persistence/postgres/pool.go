package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Open builds a pgx pool for dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("order journal: dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("order journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("order journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order journal: ping: %w", err)
	}
	return pool, nil
}

// ObservePoolMetrics registers observable gauges reporting pgx pool health.
func ObservePoolMetrics(pool *pgxpool.Pool, environment string) {
	if pool == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("environment", environment),
		attribute.String("db_pool", "journal"),
	)

	meter := otel.Meter("postgres.pool")
	gauges := []struct {
		name, description string
		read              func(*pgxpool.Stat) int64
	}{
		{"trader_db_pool_connections_total", "Total connections (idle + acquired + constructing)",
			func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) }},
		{"trader_db_pool_connections_idle", "Idle connections ready for checkout",
			func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) }},
		{"trader_db_pool_connections_acquired", "Connections currently acquired by callers",
			func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) }},
	}
	for _, g := range gauges {
		if _, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(g.read(pool.Stat()), attrs)
				return nil
			}),
		); err != nil {
			return
		}
	}
}
