// Package redis mirrors the live open-order set into a Redis hash per trading context.
package redis

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/coachpo/meltica-trader/internal/schema"
)

const defaultKeyPrefix = "trader"

// Options configures the mirror connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Mirror keeps one hash of open orders keyed by order id. Terminal orders are removed.
type Mirror struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

// New connects to the Redis server described by opts.
func New(opts Options) *Mirror {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	m := NewWithClient(client, opts.KeyPrefix)
	m.closer = client.Close
	return m
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(client redis.Cmdable, prefix string) *Mirror {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Mirror{client: client, prefix: prefix}
}

// Name identifies the mirror in sink errors.
func (m *Mirror) Name() string { return "redis" }

// Key returns the hash holding open orders for one trading context.
func (m *Mirror) Key(platform, account, symbol string) string {
	return strings.Join([]string{m.prefix, platform, account, symbol, "orders"}, ":")
}

// WriteOrder stores a live order or drops a terminal one.
func (m *Mirror) WriteOrder(ctx context.Context, order *schema.Order) error {
	if order == nil || strings.TrimSpace(order.OrderID) == "" {
		return fmt.Errorf("order mirror: order id required")
	}
	key := m.Key(order.Platform, order.Account, order.Symbol)
	if order.Status.Terminal() {
		if err := m.client.HDel(ctx, key, order.OrderID).Err(); err != nil {
			return fmt.Errorf("order mirror: remove %s: %w", order.OrderID, err)
		}
		return nil
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("order mirror: encode %s: %w", order.OrderID, err)
	}
	if err := m.client.HSet(ctx, key, order.OrderID, payload).Err(); err != nil {
		return fmt.Errorf("order mirror: store %s: %w", order.OrderID, err)
	}
	return nil
}

// OpenOrders reads the mirrored open orders for one trading context.
func (m *Mirror) OpenOrders(ctx context.Context, platform, account, symbol string) (map[string]*schema.Order, error) {
	raw, err := m.client.HGetAll(ctx, m.Key(platform, account, symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("order mirror: load: %w", err)
	}
	out := make(map[string]*schema.Order, len(raw))
	for id, payload := range raw {
		var order schema.Order
		if err := json.Unmarshal([]byte(payload), &order); err != nil {
			return nil, fmt.Errorf("order mirror: decode %s: %w", id, err)
		}
		out[id] = &order
	}
	return out, nil
}

// Ping verifies connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("order mirror: ping: %w", err)
	}
	return nil
}

// Close releases the connection when the mirror owns it.
func (m *Mirror) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
