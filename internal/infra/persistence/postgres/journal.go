// Package postgres journals order updates to PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/meltica-trader/internal/schema"
)

const (
	orderUpsertSQL = `
INSERT INTO orders (
    platform,
    account,
    order_id,
    strategy,
    symbol,
    client_order_id,
    action,
    order_type,
    price,
    quantity,
    remain,
    status,
    created_time,
    updated_time,
    recorded_at
)
VALUES (
    @platform,
    @account,
    @order_id,
    @strategy,
    @symbol,
    @client_order_id,
    @action,
    @order_type,
    @price,
    @quantity,
    @remain,
    @status,
    @created_time,
    @updated_time,
    NOW()
)
ON CONFLICT (platform, account, order_id) DO UPDATE SET
    remain = EXCLUDED.remain,
    status = EXCLUDED.status,
    updated_time = EXCLUDED.updated_time,
    client_order_id = COALESCE(EXCLUDED.client_order_id, orders.client_order_id),
    recorded_at = NOW();
`

	eventInsertSQL = `
INSERT INTO order_events (
    platform,
    account,
    order_id,
    status,
    remain,
    updated_time,
    payload,
    recorded_at
)
VALUES (
    @platform,
    @account,
    @order_id,
    @status,
    @remain,
    @updated_time,
    @payload::jsonb,
    NOW()
);
`

	orderSelectSQL = `
SELECT
    strategy,
    symbol,
    COALESCE(client_order_id, ''),
    action,
    order_type,
    price::text,
    quantity::text,
    remain::text,
    status,
    created_time,
    updated_time
FROM orders
WHERE platform = $1 AND account = $2 AND order_id = $3
`

	eventSelectSQL = `
SELECT payload
FROM order_events
WHERE platform = $1 AND account = $2 AND order_id = $3
ORDER BY id
`
)

// Journal records every order update as an event and keeps the latest state per order.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal constructs a Journal backed by pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Name identifies the journal in sink errors.
func (j *Journal) Name() string { return "postgres" }

func (j *Journal) ensurePool() (*pgxpool.Pool, error) {
	if j == nil || j.pool == nil {
		return nil, fmt.Errorf("order journal: nil pool")
	}
	return j.pool, nil
}

// WriteOrder appends the update to order_events and upserts the orders row in one transaction.
func (j *Journal) WriteOrder(ctx context.Context, order *schema.Order) error {
	if order == nil || strings.TrimSpace(order.OrderID) == "" {
		return fmt.Errorf("order journal: order id required")
	}
	pool, err := j.ensurePool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("order journal: encode payload: %w", err)
	}
	price, err := numericFromDecimal(order.Price)
	if err != nil {
		return err
	}
	quantity, err := numericFromDecimal(order.Quantity)
	if err != nil {
		return err
	}
	remain, err := numericFromDecimal(order.Remain)
	if err != nil {
		return err
	}

	orderArgs := pgx.NamedArgs{
		"platform":        order.Platform,
		"account":         order.Account,
		"order_id":        order.OrderID,
		"strategy":        order.Strategy,
		"symbol":          order.Symbol,
		"client_order_id": nullableString(order.ClientOrderID),
		"action":          string(order.Action),
		"order_type":      string(order.OrderType),
		"price":           price,
		"quantity":        quantity,
		"remain":          remain,
		"status":          string(order.Status),
		"created_time":    nullableTime(order.CreatedTime),
		"updated_time":    nullableTime(order.UpdatedTime),
	}
	eventArgs := pgx.NamedArgs{
		"platform":     order.Platform,
		"account":      order.Account,
		"order_id":     order.OrderID,
		"status":       string(order.Status),
		"remain":       remain,
		"updated_time": nullableTime(order.UpdatedTime),
		"payload":      payload,
	}

	return j.withTransaction(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, eventInsertSQL, eventArgs); err != nil {
			return fmt.Errorf("order journal: insert event: %w", err)
		}
		if _, err := tx.Exec(ctx, orderUpsertSQL, orderArgs); err != nil {
			return fmt.Errorf("order journal: upsert order: %w", err)
		}
		return nil
	})
}

// Order loads the latest journaled state of one order.
func (j *Journal) Order(ctx context.Context, platform, account, orderID string) (*schema.Order, error) {
	pool, err := j.ensurePool()
	if err != nil {
		return nil, err
	}
	var (
		clientOrderID string
		action        string
		orderType     string
		price         string
		quantity      string
		remain        string
		status        string
		createdTime   pgtype.Timestamptz
		updatedTime   pgtype.Timestamptz
	)
	order := &schema.Order{Platform: platform, Account: account, OrderID: orderID}
	row := pool.QueryRow(ctx, orderSelectSQL, platform, account, orderID)
	if err := row.Scan(
		&order.Strategy,
		&order.Symbol,
		&clientOrderID,
		&action,
		&orderType,
		&price,
		&quantity,
		&remain,
		&status,
		&createdTime,
		&updatedTime,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order journal: load order: %w", err)
	}
	order.ClientOrderID = clientOrderID
	order.Action = schema.Action(action)
	order.OrderType = schema.OrderType(orderType)
	order.Status = schema.Status(status)
	if order.Price, err = decimalFromText(price); err != nil {
		return nil, err
	}
	if order.Quantity, err = decimalFromText(quantity); err != nil {
		return nil, err
	}
	if order.Remain, err = decimalFromText(remain); err != nil {
		return nil, err
	}
	if createdTime.Valid {
		order.CreatedTime = createdTime.Time.UTC()
	}
	if updatedTime.Valid {
		order.UpdatedTime = updatedTime.Time.UTC()
	}
	return order, nil
}

// History returns every journaled update of one order in arrival order.
func (j *Journal) History(ctx context.Context, platform, account, orderID string) ([]*schema.Order, error) {
	pool, err := j.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, eventSelectSQL, platform, account, orderID)
	if err != nil {
		return nil, fmt.Errorf("order journal: list events: %w", err)
	}
	defer rows.Close()

	var out []*schema.Order
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("order journal: scan event: %w", err)
		}
		var order schema.Order
		if err := json.Unmarshal(payload, &order); err != nil {
			return nil, fmt.Errorf("order journal: decode event: %w", err)
		}
		out = append(out, &order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order journal: iterate events: %w", err)
	}
	return out, nil
}

// ErrOrderNotFound reports an order absent from the journal.
var ErrOrderNotFound = errors.New("order journal: order not found")

func (j *Journal) withTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("order journal: begin tx: %w", err)
	}
	if runErr := fn(ctx, tx); runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("order journal: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("order journal: commit tx: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC()
}
