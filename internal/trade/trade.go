package trade

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/binance"
	"github.com/coachpo/meltica-trader/internal/observability"
	"github.com/coachpo/meltica-trader/internal/schema"
)

const maxConcurrentCancels = 4

// API is the exchange surface a Trade needs. *binance.Client satisfies it.
type API interface {
	OpenOrderLister
	ListenKeyService
	CreateOrder(ctx context.Context, req binance.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (binance.OrderRecord, error)
	Account(ctx context.Context) (binance.AccountInfo, error)
}

// Options configures a Trade. When API is nil a Binance REST client is built from REST.
type Options struct {
	Platform string
	Account  string
	Strategy string
	Symbol   string
	WSS      string

	REST binance.ClientOptions
	API  API
	Dial StreamFactory

	Notifier Notifier

	RenewInterval     time.Duration
	HeartbeatInterval time.Duration
	MaxRenewFailures  int

	Logger  observability.Logger
	Metrics *observability.Metrics
}

type param struct{ name, value string }

func (o Options) validate() error {
	required := []param{
		{"account", o.Account},
		{"strategy", o.Strategy},
		{"symbol", o.Symbol},
		{"wss", o.WSS},
	}
	if o.API == nil {
		required = append(required,
			param{"host", o.REST.Host},
			param{"access_key", o.REST.AccessKey},
			param{"secret_key", o.REST.SecretKey})
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errs.MissingParam(platformBinance, r.name)
		}
	}
	if o.Notifier == nil {
		return errs.MissingParam(platformBinance, "notifier")
	}
	return nil
}

// Trade owns one account's order state on one symbol.
type Trade struct {
	id         Identity
	rawSymbol  string
	api        API
	notifier   Notifier
	reconciler *Reconciler
	session    *Session
	logger     observability.Logger

	assetsMu sync.RWMutex
	assets   schema.Assets
}

// New validates options and wires the session to the reconciler. Start begins streaming.
// A validation failure is also reported to the notifier, when one was supplied, as an
// error followed by a failed initialization.
func New(opts Options) (*Trade, error) {
	if err := opts.validate(); err != nil {
		if opts.Notifier != nil {
			ctx := context.Background()
			opts.Notifier.Error(ctx, err)
			opts.Notifier.InitDone(ctx, false, err)
		}
		return nil, err
	}
	if strings.TrimSpace(opts.Platform) == "" {
		opts.Platform = platformBinance
	}
	logger := observability.OrDefault(opts.Logger)
	api := opts.API
	if api == nil {
		rest := opts.REST
		if rest.Logger == nil {
			rest.Logger = logger
		}
		if rest.Metrics == nil {
			rest.Metrics = opts.Metrics
		}
		api = binance.NewClient(rest)
	}

	id := Identity{
		Platform: opts.Platform,
		Account:  opts.Account,
		Strategy: opts.Strategy,
		Symbol:   opts.Symbol,
	}
	t := &Trade{
		id:        id,
		rawSymbol: binance.RawSymbol(opts.Symbol),
		api:       api,
		notifier:  opts.Notifier,
		logger:    logger,
		assets:    schema.Assets{},
	}
	t.reconciler = NewReconciler(ReconcilerOptions{
		Identity: id,
		Orders:   api,
		Notifier: opts.Notifier,
		Logger:   logger,
		Metrics:  opts.Metrics,
	})
	t.session = NewSession(SessionOptions{
		WSS:               opts.WSS,
		Keys:              api,
		Dial:              opts.Dial,
		OnConnected:       func(ctx context.Context) { _ = t.reconciler.OnConnected(ctx) },
		OnMessage:         func(ctx context.Context, data []byte) { _ = t.reconciler.Process(ctx, data) },
		Notifier:          opts.Notifier,
		RenewInterval:     opts.RenewInterval,
		HeartbeatInterval: opts.HeartbeatInterval,
		MaxRenewFailures:  opts.MaxRenewFailures,
		Logger:            logger,
		Metrics:           opts.Metrics,
	})
	return t, nil
}

// Start acquires the listen key and opens the stream. The open-order snapshot loads once
// the stream handshake completes and InitDone reports the outcome.
func (t *Trade) Start(ctx context.Context) error {
	return t.session.Start(ctx)
}

// OrderOption adjusts an order submission.
type OrderOption func(*binance.OrderRequest)

// WithClientOrderID sets the idempotency token sent as newClientOrderId.
func WithClientOrderID(id string) OrderOption {
	return func(r *binance.OrderRequest) { r.ClientOrderID = strings.TrimSpace(id) }
}

// WithOrderType selects LIMIT (default) or MARKET.
func WithOrderType(kind schema.OrderType) OrderOption {
	return func(r *binance.OrderRequest) { r.Type = kind }
}

// CreateOrder submits an order and returns the exchange-assigned id. The Order itself
// appears through an order update once the stream reports it.
func (t *Trade) CreateOrder(ctx context.Context, action schema.Action, price, quantity string, opts ...OrderOption) (string, error) {
	req := binance.OrderRequest{
		Symbol:   t.rawSymbol,
		Action:   action,
		Type:     schema.OrderTypeLimit,
		Price:    price,
		Quantity: quantity,
	}
	for _, opt := range opts {
		opt(&req)
	}
	orderID, err := t.api.CreateOrder(ctx, req)
	if err != nil {
		t.notifier.Error(ctx, err)
		return "", err
	}
	t.logger.Info("order submitted",
		observability.F("order_id", orderID),
		observability.F("action", string(action)),
		observability.F("price", price),
		observability.F("quantity", quantity))
	return orderID, nil
}

// RevokeFailure pairs an order id with the reason its cancel failed.
type RevokeFailure struct {
	OrderID string
	Err     error
}

// RevokeResult partitions a revoke by outcome, in request order.
type RevokeResult struct {
	Succeeded []string
	Failed    []RevokeFailure
}

// RevokeOrder cancels orders in one of three modes. Every failure, including the open
// order fetch, also reaches the error callback, once per failed id.
//
//   - no ids: every open order for the symbol, fetched fresh from the exchange; the error
//     is the first cancel failure.
//   - one id: that order; the error is its cancel failure.
//   - several ids: each independently; a failure never aborts the others and the error is
//     always nil, failures are listed in the result.
func (t *Trade) RevokeOrder(ctx context.Context, ids ...string) (RevokeResult, error) {
	switch len(ids) {
	case 0:
		return t.revokeAll(ctx)
	case 1:
		return t.revokeOne(ctx, ids[0])
	default:
		return t.cancelEach(ctx, ids), nil
	}
}

func (t *Trade) revokeAll(ctx context.Context) (RevokeResult, error) {
	ids, err := t.GetOpenOrderIDs(ctx)
	if err != nil {
		return RevokeResult{}, err
	}
	result := t.cancelEach(ctx, ids)
	if len(result.Failed) > 0 {
		return result, result.Failed[0].Err
	}
	return result, nil
}

func (t *Trade) revokeOne(ctx context.Context, id string) (RevokeResult, error) {
	if _, err := t.api.CancelOrder(ctx, t.rawSymbol, id); err != nil {
		t.logger.Warn("cancel order failed",
			observability.F("order_id", id),
			observability.F("error", err))
		t.notifier.Error(ctx, err)
		return RevokeResult{Failed: []RevokeFailure{{OrderID: id, Err: err}}}, err
	}
	return RevokeResult{Succeeded: []string{id}}, nil
}

func (t *Trade) cancelEach(ctx context.Context, ids []string) RevokeResult {
	errsByIndex := make([]error, len(ids))
	p := pool.New().WithMaxGoroutines(maxConcurrentCancels)
	for i, id := range ids {
		p.Go(func() {
			_, errsByIndex[i] = t.api.CancelOrder(ctx, t.rawSymbol, id)
		})
	}
	p.Wait()

	result := RevokeResult{Succeeded: []string{}, Failed: []RevokeFailure{}}
	for i, id := range ids {
		if err := errsByIndex[i]; err != nil {
			t.logger.Warn("cancel order failed",
				observability.F("order_id", id),
				observability.F("error", err))
			t.notifier.Error(ctx, err)
			result.Failed = append(result.Failed, RevokeFailure{OrderID: id, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// GetOpenOrderIDs returns the exchange ids of open orders on the symbol, queried live.
func (t *Trade) GetOpenOrderIDs(ctx context.Context) ([]string, error) {
	rows, err := t.api.OpenOrders(ctx, t.rawSymbol)
	if err != nil {
		t.notifier.Error(ctx, err)
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID())
	}
	return ids, nil
}

// Orders returns copies of the live orders keyed by order id.
func (t *Trade) Orders() map[string]*schema.Order {
	return t.reconciler.Orders()
}

// Order returns a copy of one live order.
func (t *Trade) Order(id string) (*schema.Order, bool) {
	return t.reconciler.Order(id)
}

// Assets returns a copy of the cached balances.
func (t *Trade) Assets() schema.Assets {
	t.assetsMu.RLock()
	defer t.assetsMu.RUnlock()
	return t.assets.Clone()
}

// SetAssets replaces the cached balances with a copy of assets.
func (t *Trade) SetAssets(assets schema.Assets) {
	cp := assets.Clone()
	if cp == nil {
		cp = schema.Assets{}
	}
	t.assetsMu.Lock()
	t.assets = cp
	t.assetsMu.Unlock()
}

// RefreshAssets loads balances from the account endpoint into the cache.
func (t *Trade) RefreshAssets(ctx context.Context) (schema.Assets, error) {
	info, err := t.api.Account(ctx)
	if err != nil {
		return nil, err
	}
	assets := info.Assets()
	t.SetAssets(assets)
	return assets.Clone(), nil
}

// State returns the session lifecycle state.
func (t *Trade) State() SessionState {
	return t.session.State()
}

// RenewFailures returns the consecutive listen key renewal failures.
func (t *Trade) RenewFailures() int {
	return t.session.RenewFailures()
}

// Close stops the session and revokes the listen key.
func (t *Trade) Close(ctx context.Context) error {
	var failures []error
	if err := t.session.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		failures = append(failures, err)
	}
	return observability.AggregateErrors("trade close", failures,
		observability.F("symbol", t.rawSymbol))
}
