package trade

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/binance"
	"github.com/coachpo/meltica-trader/internal/schema"
)

func newTestTrade(t *testing.T, api *fakeAPI, n *recordingNotifier, d *dialer) *Trade {
	t.Helper()
	tr, err := New(Options{
		Account:  "acct",
		Strategy: "grid",
		Symbol:   "BTC/USDT",
		WSS:      "wss://stream.example:9443",
		API:      api,
		Dial:     d.dial,
		Notifier: n,
	})
	require.NoError(t, err)
	return tr
}

func TestNewRequiresParams(t *testing.T) {
	_, err := New(Options{Account: "acct", Symbol: "BTC/USDT", WSS: "wss://x", API: &fakeAPI{}, Notifier: &recordingNotifier{}})
	require.Error(t, err)
	require.True(t, errs.HasCanonical(err, errs.CanonicalMissingParam))
	require.Contains(t, err.Error(), "param strategy miss")

	_, err = New(Options{Account: "acct", Strategy: "grid", Symbol: "BTC/USDT", WSS: "wss://x", Notifier: &recordingNotifier{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "param host miss")

	_, err = New(Options{
		Account: "acct", Strategy: "grid", Symbol: "BTC/USDT", WSS: "wss://x",
		REST: binance.ClientOptions{Host: "https://api.binance.com", AccessKey: "a"},
		Notifier: &recordingNotifier{},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "param secret_key miss")

	_, err = New(Options{Account: "acct", Strategy: "grid", Symbol: "BTC/USDT", WSS: "wss://x", API: &fakeAPI{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "param notifier miss")
}

func TestNewSignalsNotifierOnInvalidOptions(t *testing.T) {
	n := &recordingNotifier{}
	_, err := New(Options{Account: "acct", Symbol: "BTC/USDT", WSS: "wss://x", API: &fakeAPI{}, Notifier: n})
	require.Error(t, err)

	_, reported, inits := n.snapshot()
	require.Len(t, reported, 1)
	require.True(t, errs.HasCanonical(reported[0], errs.CanonicalMissingParam))
	require.Equal(t, []bool{false}, inits)
}

func TestNewBuildsRESTClientFromOptions(t *testing.T) {
	tr, err := New(Options{
		Account: "acct", Strategy: "grid", Symbol: "BTC/USDT", WSS: "wss://x",
		REST:     binance.ClientOptions{Host: "https://api.binance.com", AccessKey: "a", SecretKey: "s"},
		Notifier: &recordingNotifier{},
	})
	require.NoError(t, err)
	_, ok := tr.api.(*binance.Client)
	require.True(t, ok)
	require.Equal(t, "binance", tr.id.Platform)
}

func TestCreateOrderReturnsExchangeID(t *testing.T) {
	api := &fakeAPI{}
	tr := newTestTrade(t, api, &recordingNotifier{}, &dialer{})

	id, err := tr.CreateOrder(context.Background(), schema.ActionBuy, "30000.1", "0.01")
	require.NoError(t, err)
	require.Equal(t, "1001", id)

	id, err = tr.CreateOrder(context.Background(), schema.ActionSell, "", "0.02",
		WithOrderType(schema.OrderTypeMarket), WithClientOrderID(" my-id "))
	require.NoError(t, err)
	require.Equal(t, "1002", id)

	require.Len(t, api.created, 2)
	require.Equal(t, binance.OrderRequest{
		Symbol: "BTCUSDT", Action: schema.ActionBuy, Type: schema.OrderTypeLimit,
		Price: "30000.1", Quantity: "0.01",
	}, api.created[0])
	require.Equal(t, schema.OrderTypeMarket, api.created[1].Type)
	require.Equal(t, "my-id", api.created[1].ClientOrderID)

	// The order only appears once the stream reports it.
	require.Empty(t, tr.Orders())
}

func TestCreateOrderFailureReachesErrorCallback(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("insufficient balance")}
	n := &recordingNotifier{}
	tr := newTestTrade(t, api, n, &dialer{})

	id, err := tr.CreateOrder(context.Background(), schema.ActionBuy, "1", "1")
	require.Error(t, err)
	require.Empty(t, id)
	_, errsSeen, _ := n.snapshot()
	require.Len(t, errsSeen, 1)
}

func TestRevokeAllCancelsEveryOpenOrder(t *testing.T) {
	api := &fakeAPI{openOrders: []binance.OrderRecord{
		openRow(1, "NEW", "1", "0", 1),
		openRow(2, "NEW", "1", "0", 1),
		openRow(3, "PARTIALLY_FILLED", "1", "0.5", 1),
	}}
	tr := newTestTrade(t, api, &recordingNotifier{}, &dialer{})

	result, err := tr.RevokeOrder(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, result.Succeeded)
	require.Empty(t, result.Failed)

	_, _, canceled := api.counts()
	require.ElementsMatch(t, []string{"1", "2", "3"}, canceled)
	require.Equal(t, 1, api.openCalls)
}

func TestRevokeAllReturnsFirstFailure(t *testing.T) {
	failure := errors.New("unknown order")
	api := &fakeAPI{
		openOrders: []binance.OrderRecord{openRow(1, "NEW", "1", "0", 1), openRow(2, "NEW", "1", "0", 1)},
		cancelErrs: map[string]error{"2": failure},
	}
	tr := newTestTrade(t, api, &recordingNotifier{}, &dialer{})

	result, err := tr.RevokeOrder(context.Background())
	require.ErrorIs(t, err, failure)
	require.Equal(t, []string{"1"}, result.Succeeded)

	_, _, canceled := api.counts()
	require.Len(t, canceled, 2)
}

func TestRevokeAllReportsEveryFailedCancel(t *testing.T) {
	first := errors.New("unknown order 2")
	second := errors.New("unknown order 3")
	api := &fakeAPI{
		openOrders: []binance.OrderRecord{
			openRow(1, "NEW", "1", "0", 1),
			openRow(2, "NEW", "1", "0", 1),
			openRow(3, "NEW", "1", "0", 1),
		},
		cancelErrs: map[string]error{"2": first, "3": second},
	}
	n := &recordingNotifier{}
	tr := newTestTrade(t, api, n, &dialer{})

	result, err := tr.RevokeOrder(context.Background())
	require.Error(t, err)
	require.Len(t, result.Failed, 2)

	_, reported, _ := n.snapshot()
	require.ElementsMatch(t, []error{first, second}, reported)
}

func TestRevokeAllFetchFailure(t *testing.T) {
	down := errors.New("down")
	api := &fakeAPI{openErr: down}
	n := &recordingNotifier{}
	tr := newTestTrade(t, api, n, &dialer{})

	_, err := tr.RevokeOrder(context.Background())
	require.ErrorIs(t, err, down)
	_, _, canceled := api.counts()
	require.Empty(t, canceled)

	_, reported, _ := n.snapshot()
	require.Len(t, reported, 1)
	require.ErrorIs(t, reported[0], down)
}

func TestRevokeSingleOrder(t *testing.T) {
	failure := errors.New("unknown order")
	api := &fakeAPI{cancelErrs: map[string]error{"9": failure}}
	n := &recordingNotifier{}
	tr := newTestTrade(t, api, n, &dialer{})

	result, err := tr.RevokeOrder(context.Background(), "8")
	require.NoError(t, err)
	require.Equal(t, []string{"8"}, result.Succeeded)
	_, reported, _ := n.snapshot()
	require.Empty(t, reported)

	result, err = tr.RevokeOrder(context.Background(), "9")
	require.ErrorIs(t, err, failure)
	require.Equal(t, []RevokeFailure{{OrderID: "9", Err: failure}}, result.Failed)
	_, reported, _ = n.snapshot()
	require.Equal(t, []error{failure}, reported)
}

func TestRevokeManyPartitionsOutcomes(t *testing.T) {
	failure := errors.New("unknown order")
	api := &fakeAPI{cancelErrs: map[string]error{"2": failure}}
	n := &recordingNotifier{}
	tr := newTestTrade(t, api, n, &dialer{})

	result, err := tr.RevokeOrder(context.Background(), "1", "2")
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, result.Succeeded)
	require.Equal(t, []RevokeFailure{{OrderID: "2", Err: failure}}, result.Failed)

	_, reported, _ := n.snapshot()
	require.Equal(t, []error{failure}, reported)
}

func TestGetOpenOrderIDsQueriesExchange(t *testing.T) {
	api := &fakeAPI{openOrders: []binance.OrderRecord{openRow(11, "NEW", "1", "0", 1), openRow(12, "NEW", "1", "0", 1)}}
	tr := newTestTrade(t, api, &recordingNotifier{}, &dialer{})

	ids, err := tr.GetOpenOrderIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"11", "12"}, ids)

	api.openOrders = nil
	ids, err = tr.GetOpenOrderIDs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ids)
	require.Empty(t, ids)
}

func TestGetOpenOrderIDsFailureReachesErrorCallback(t *testing.T) {
	down := errors.New("down")
	n := &recordingNotifier{}
	tr := newTestTrade(t, &fakeAPI{openErr: down}, n, &dialer{})

	ids, err := tr.GetOpenOrderIDs(context.Background())
	require.ErrorIs(t, err, down)
	require.Nil(t, ids)

	_, reported, _ := n.snapshot()
	require.Equal(t, []error{down}, reported)
}

func TestAssetsAreCopied(t *testing.T) {
	api := &fakeAPI{account: binance.AccountInfo{Balances: []binance.AccountBalance{
		{Asset: "BTC", Free: "1.5", Locked: "0.5"},
	}}}
	tr := newTestTrade(t, api, &recordingNotifier{}, &dialer{})
	require.Empty(t, tr.Assets())

	assets, err := tr.RefreshAssets(context.Background())
	require.NoError(t, err)
	require.True(t, assets["BTC"].Total.Equal(dec("2")))

	cached := tr.Assets()
	delete(cached, "BTC")
	require.Contains(t, tr.Assets(), "BTC")

	tr.SetAssets(nil)
	require.NotNil(t, tr.Assets())
	require.Empty(t, tr.Assets())
}

func TestTradeStreamLifecycle(t *testing.T) {
	api := &fakeAPI{
		listenKey:  "lk",
		openOrders: []binance.OrderRecord{openRow(1, "NEW", "1.0", "0.0", 1)},
	}
	n := &recordingNotifier{}
	d := &dialer{}
	tr := newTestTrade(t, api, n, d)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	stream := d.current()
	require.Equal(t, "wss://stream.example:9443/ws/lk", stream.opts.URL)

	stream.opts.OnConnected(ctx)
	require.Equal(t, StateActive, tr.State())
	order, ok := tr.Order("1")
	require.True(t, ok)
	require.Equal(t, schema.StatusSubmitted, order.Status)

	stream.opts.OnMessage(ctx, execReport(1, "BTCUSDT", "FILLED", "1.0", "1.0", 5))
	_, ok = tr.Order("1")
	require.False(t, ok)

	orders, _, inits := n.snapshot()
	require.Len(t, orders, 2)
	require.Equal(t, schema.StatusFilled, orders[1].Status)
	require.True(t, orders[1].Remain.IsZero())
	require.Equal(t, []bool{true}, inits)
	require.Equal(t, 0, tr.RenewFailures())

	require.NoError(t, tr.Close(ctx))
	_, deleted, _ := api.counts()
	require.Equal(t, []string{"lk"}, deleted)
}
