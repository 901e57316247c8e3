package trade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/binance"
	"github.com/coachpo/meltica-trader/internal/observability"
	"github.com/coachpo/meltica-trader/internal/schema"
)

// Notifier receives reconciler output. Implementations must not block.
type Notifier interface {
	OrderUpdate(ctx context.Context, order *schema.Order)
	Error(ctx context.Context, err error)
	InitDone(ctx context.Context, success bool, err error)
}

// OpenOrderLister fetches the open-order snapshot for a raw symbol.
type OpenOrderLister interface {
	OpenOrders(ctx context.Context, symbol string) ([]binance.OrderRecord, error)
}

// Identity tags every order with its owning context.
type Identity struct {
	Platform string
	Account  string
	Strategy string
	Symbol   string
}

const defaultTombstoneRetention = 10 * time.Minute

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Identity Identity
	Orders   OpenOrderLister
	Notifier Notifier
	Logger   observability.Logger
	Metrics  *observability.Metrics
	// TombstoneRetention bounds how long a stream-closed order keeps masking snapshot rows,
	// measured in exchange event time. Defaults to 10 minutes.
	TombstoneRetention time.Duration
}

// Reconciler merges the REST open-order snapshot with streamed execution reports into
// the live order mapping. OnConnected and Process are serialized against each other for
// their full duration, including the snapshot fetch.
type Reconciler struct {
	id        Identity
	rawSymbol string
	source    OpenOrderLister
	notifier  Notifier
	logger    observability.Logger
	metrics   *observability.Metrics

	retention time.Duration

	procMu sync.Mutex

	mu         sync.RWMutex
	orders     map[string]*schema.Order
	tombstones map[string]time.Time
}

// NewReconciler builds an empty reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.TombstoneRetention <= 0 {
		opts.TombstoneRetention = defaultTombstoneRetention
	}
	return &Reconciler{
		id:         opts.Identity,
		rawSymbol:  binance.RawSymbol(opts.Identity.Symbol),
		source:     opts.Orders,
		notifier:   opts.Notifier,
		logger:     observability.OrDefault(opts.Logger),
		metrics:    opts.Metrics,
		retention:  opts.TombstoneRetention,
		orders:     make(map[string]*schema.Order),
		tombstones: make(map[string]time.Time),
	}
}

// OnConnected seeds the live mapping from the open-order snapshot. Rows are staged and
// committed only after the whole snapshot is processed; a fetch failure leaves the mapping
// untouched and reports initialization failure.
func (r *Reconciler) OnConnected(ctx context.Context) error {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	r.logger.Info("user data stream ready, loading open orders", observability.F("symbol", r.rawSymbol))
	rows, err := r.source.OpenOrders(ctx, r.rawSymbol)
	if err != nil {
		err = fmt.Errorf("get open orders: %w", err)
		r.notifier.Error(ctx, err)
		r.notifier.InitDone(ctx, false, err)
		return err
	}

	staged := make([]*schema.Order, 0, len(rows))
	r.mu.RLock()
	for _, row := range rows {
		order, err := r.orderFromSnapshot(row)
		if err != nil {
			r.reportSkipped(ctx, "snapshot", row.Status, err)
			continue
		}
		if r.staleLocked(order) {
			r.logger.Debug("snapshot row older than live state",
				observability.F("order_id", order.OrderID))
			continue
		}
		staged = append(staged, order)
	}
	r.mu.RUnlock()

	r.mu.Lock()
	for _, order := range staged {
		if order.Status.Terminal() {
			delete(r.orders, order.OrderID)
			continue
		}
		r.orders[order.OrderID] = order
	}
	clear(r.tombstones)
	r.mu.Unlock()

	for _, order := range staged {
		r.notifier.OrderUpdate(ctx, order.Clone())
	}
	r.metrics.RecordEvent(ctx, "snapshot", "ok")
	r.notifier.InitDone(ctx, true, nil)
	return nil
}

// Process applies one streamed message. Events other than execution reports and reports
// for other symbols are ignored without any state change or notification.
func (r *Reconciler) Process(ctx context.Context, data []byte) error {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	header, err := binance.DecodeEventHeader(data)
	if err != nil {
		r.metrics.RecordEvent(ctx, "unknown", "error")
		r.logger.Warn("undecodable stream message", observability.F("error", err))
		r.notifier.Error(ctx, err)
		return err
	}
	if header.Type != binance.EventExecutionReport {
		r.metrics.RecordEvent(ctx, header.Type, "ignored")
		return nil
	}

	report, err := binance.DecodeExecutionReport(data)
	if err != nil {
		r.metrics.RecordEvent(ctx, header.Type, "error")
		r.notifier.Error(ctx, err)
		return err
	}
	if binance.RawSymbol(report.Symbol) != r.rawSymbol {
		r.metrics.RecordEvent(ctx, header.Type, "ignored")
		return nil
	}
	return r.apply(ctx, report)
}

func (r *Reconciler) apply(ctx context.Context, report binance.ExecutionReport) error {
	status, err := MapStatus(report.Status)
	if err != nil {
		r.reportSkipped(ctx, "stream", report.Status, err)
		return err
	}
	quantity, err := parseDecimal("q", report.Quantity)
	if err != nil {
		r.reportSkipped(ctx, "stream", report.Status, err)
		return err
	}
	executed, err := parseDecimal("z", report.CumulativeQuantity)
	if err != nil {
		r.reportSkipped(ctx, "stream", report.Status, err)
		return err
	}

	id := report.ID()
	r.mu.Lock()
	order, ok := r.orders[id]
	if !ok {
		price, err := parseDecimal("p", report.Price)
		if err != nil {
			r.mu.Unlock()
			r.reportSkipped(ctx, "stream", report.Status, err)
			return err
		}
		order = &schema.Order{
			Platform:      r.id.Platform,
			Account:       r.id.Account,
			Strategy:      r.id.Strategy,
			OrderID:       id,
			ClientOrderID: report.ClientOrderID,
			Symbol:        r.id.Symbol,
			Action:        r.action(id, report.Side),
			OrderType:     r.orderType(id, report.OrderType),
			Price:         price,
			Quantity:      quantity,
			CreatedTime:   schema.Millis(int64(report.CreatedTime)),
		}
		r.orders[id] = order
	}
	order.Remain = quantity.Sub(executed)
	order.Status = status
	order.UpdatedTime = reportTime(report)
	snapshot := order.Clone()
	if status.Terminal() {
		delete(r.orders, id)
		r.pruneTombstonesLocked(snapshot.UpdatedTime)
		r.tombstones[id] = snapshot.UpdatedTime
	}
	r.mu.Unlock()

	if snapshot.Remain.IsNegative() {
		r.logger.Warn("executed quantity exceeds order quantity",
			observability.F("order_id", id),
			observability.F("remain", snapshot.Remain.String()))
	}
	r.metrics.RecordEvent(ctx, binance.EventExecutionReport, "ok")
	r.notifier.OrderUpdate(ctx, snapshot)
	return nil
}

// pruneTombstonesLocked drops tombstones closed more than the retention before now.
func (r *Reconciler) pruneTombstonesLocked(now time.Time) {
	cutoff := now.Add(-r.retention)
	for id, closedAt := range r.tombstones {
		if closedAt.Before(cutoff) {
			delete(r.tombstones, id)
		}
	}
}

// staleLocked reports whether a snapshot row must yield to state the stream already applied.
func (r *Reconciler) staleLocked(row *schema.Order) bool {
	if live, ok := r.orders[row.OrderID]; ok && live.UpdatedTime.After(row.UpdatedTime) {
		return true
	}
	if closedAt, ok := r.tombstones[row.OrderID]; ok && !closedAt.Before(row.UpdatedTime) {
		return true
	}
	return false
}

func (r *Reconciler) orderFromSnapshot(row binance.OrderRecord) (*schema.Order, error) {
	status, err := MapStatus(row.Status)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal("price", row.Price)
	if err != nil {
		return nil, err
	}
	quantity, err := parseDecimal("origQty", row.OrigQty)
	if err != nil {
		return nil, err
	}
	executed, err := parseDecimal("executedQty", row.ExecutedQty)
	if err != nil {
		return nil, err
	}
	updated := row.UpdateTime
	if updated == 0 {
		updated = row.Time
	}
	return &schema.Order{
		Platform:      r.id.Platform,
		Account:       r.id.Account,
		Strategy:      r.id.Strategy,
		OrderID:       row.ID(),
		ClientOrderID: row.ClientOrderID,
		Symbol:        r.id.Symbol,
		Action:        r.action(row.ID(), row.Side),
		OrderType:     r.orderType(row.ID(), row.Type),
		Price:         price,
		Quantity:      quantity,
		Remain:        quantity.Sub(executed),
		Status:        status,
		CreatedTime:   schema.Millis(row.Time),
		UpdatedTime:   schema.Millis(updated),
	}, nil
}

func (r *Reconciler) action(orderID, side string) schema.Action {
	action, ok := mapAction(side)
	if !ok {
		r.logger.Warn("unrecognized order side",
			observability.F("order_id", orderID),
			observability.F("side", side),
			observability.F("assumed", string(action)))
	}
	return action
}

func (r *Reconciler) orderType(orderID, kind string) schema.OrderType {
	orderType, ok := mapOrderType(kind)
	if !ok {
		r.logger.Warn("unrecognized order type",
			observability.F("order_id", orderID),
			observability.F("type", kind),
			observability.F("assumed", string(orderType)))
	}
	return orderType
}

func (r *Reconciler) reportSkipped(ctx context.Context, source, status string, err error) {
	r.logger.Warn("order entry skipped",
		observability.F("source", source),
		observability.F("status", status),
		observability.F("error", err))
	if errs.HasCanonical(err, errs.CanonicalUnknownStatus) {
		r.metrics.RecordUnknownStatus(ctx, status, source)
	}
	r.metrics.RecordEvent(ctx, source, "skipped")
	r.notifier.Error(ctx, err)
}

// Orders returns copies of every live order keyed by order id.
func (r *Reconciler) Orders() map[string]*schema.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*schema.Order, len(r.orders))
	for id, order := range r.orders {
		out[id] = order.Clone()
	}
	return out
}

// Order returns a copy of one live order.
func (r *Reconciler) Order(id string) (*schema.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(id)]
	if !ok {
		return nil, false
	}
	return order.Clone(), true
}

func reportTime(report binance.ExecutionReport) time.Time {
	if report.TransactionTime != 0 {
		return schema.Millis(int64(report.TransactionTime))
	}
	return schema.Millis(int64(report.EventTime))
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return d, nil
}
