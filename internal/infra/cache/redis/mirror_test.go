package redis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/meltica-trader/internal/schema"
)

func TestMirrorKeyLayout(t *testing.T) {
	m := NewWithClient(nil, "")
	require.Equal(t, "trader:binance:acct:BTC/USDT:orders", m.Key("binance", "acct", "BTC/USDT"))

	m = NewWithClient(nil, " desk: ")
	require.Equal(t, "desk:binance:acct:ETHBTC:orders", m.Key("binance", "acct", "ETHBTC"))
	require.Equal(t, "redis", m.Name())
	require.NoError(t, m.Close())
}

func TestMirrorRejectsMissingOrderID(t *testing.T) {
	m := NewWithClient(nil, "")
	require.Error(t, m.WriteOrder(context.Background(), nil))
	require.Error(t, m.WriteOrder(context.Background(), &schema.Order{}))
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container skipped in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestMirrorTracksOpenOrders(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	m := New(Options{Addr: addr, KeyPrefix: "test"})
	defer m.Close()
	require.NoError(t, m.Ping(ctx))

	order := &schema.Order{
		Platform: "binance", Account: "acct", Strategy: "grid", Symbol: "BTC/USDT",
		OrderID: "1", Action: schema.ActionBuy, OrderType: schema.OrderTypeLimit,
		Price: decimal.RequireFromString("100"), Quantity: decimal.RequireFromString("2"),
		Remain: decimal.RequireFromString("2"), Status: schema.StatusSubmitted,
	}
	require.NoError(t, m.WriteOrder(ctx, order))

	partial := order.Clone()
	partial.Remain = decimal.RequireFromString("0.5")
	partial.Status = schema.StatusPartialFilled
	require.NoError(t, m.WriteOrder(ctx, partial))

	other := order.Clone()
	other.OrderID = "2"
	require.NoError(t, m.WriteOrder(ctx, other))

	open, err := m.OpenOrders(ctx, "binance", "acct", "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, schema.StatusPartialFilled, open["1"].Status)
	require.True(t, open["1"].Remain.Equal(decimal.RequireFromString("0.5")))

	filled := partial.Clone()
	filled.Remain = decimal.Zero
	filled.Status = schema.StatusFilled
	require.NoError(t, m.WriteOrder(ctx, filled))

	open, err = m.OpenOrders(ctx, "binance", "acct", "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Contains(t, open, "2")
}
