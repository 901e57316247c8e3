package binance

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

const defaultFuturesOrderLimit = 500

// FuturesOrderRecord is a USD-M futures order.
type FuturesOrderRecord struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cumQuote"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	StopPrice     string `json:"stopPrice"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	WorkingType   string `json:"workingType"`
	PriceProtect  bool   `json:"priceProtect"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

// ID returns the exchange order id in string form.
func (r FuturesOrderRecord) ID() string {
	return strconv.FormatInt(r.OrderID, 10)
}

// FuturesBalance is one asset of the futures wallet.
type FuturesBalance struct {
	AccountAlias       string `json:"accountAlias"`
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	CrossUnPnl         string `json:"crossUnPnl"`
	AvailableBalance   string `json:"availableBalance"`
	MaxWithdrawAmount  string `json:"maxWithdrawAmount"`
	MarginAvailable    bool   `json:"marginAvailable"`
	UpdateTime         int64  `json:"updateTime"`
}

// FuturesAccountAsset is the per-asset margin breakdown of the futures account.
type FuturesAccountAsset struct {
	Asset                  string `json:"asset"`
	WalletBalance          string `json:"walletBalance"`
	UnrealizedProfit       string `json:"unrealizedProfit"`
	MarginBalance          string `json:"marginBalance"`
	MaintMargin            string `json:"maintMargin"`
	InitialMargin          string `json:"initialMargin"`
	PositionInitialMargin  string `json:"positionInitialMargin"`
	OpenOrderInitialMargin string `json:"openOrderInitialMargin"`
	CrossWalletBalance     string `json:"crossWalletBalance"`
	CrossUnPnl             string `json:"crossUnPnl"`
	AvailableBalance       string `json:"availableBalance"`
	MaxWithdrawAmount      string `json:"maxWithdrawAmount"`
	MarginAvailable        bool   `json:"marginAvailable"`
}

// FuturesPosition is one symbol/side position of the futures account.
type FuturesPosition struct {
	Symbol                 string `json:"symbol"`
	InitialMargin          string `json:"initialMargin"`
	MaintMargin            string `json:"maintMargin"`
	UnrealizedProfit       string `json:"unrealizedProfit"`
	PositionInitialMargin  string `json:"positionInitialMargin"`
	OpenOrderInitialMargin string `json:"openOrderInitialMargin"`
	Leverage               string `json:"leverage"`
	Isolated               bool   `json:"isolated"`
	EntryPrice             string `json:"entryPrice"`
	MaxNotional            string `json:"maxNotional"`
	PositionSide           string `json:"positionSide"`
	PositionAmt            string `json:"positionAmt"`
}

// FuturesAccount is the USD-M futures account summary. Totals cover USDT only.
type FuturesAccount struct {
	FeeTier                     int                   `json:"feeTier"`
	CanTrade                    bool                  `json:"canTrade"`
	CanDeposit                  bool                  `json:"canDeposit"`
	CanWithdraw                 bool                  `json:"canWithdraw"`
	UpdateTime                  int64                 `json:"updateTime"`
	TotalInitialMargin          string                `json:"totalInitialMargin"`
	TotalMaintMargin            string                `json:"totalMaintMargin"`
	TotalWalletBalance          string                `json:"totalWalletBalance"`
	TotalUnrealizedProfit       string                `json:"totalUnrealizedProfit"`
	TotalMarginBalance          string                `json:"totalMarginBalance"`
	TotalPositionInitialMargin  string                `json:"totalPositionInitialMargin"`
	TotalOpenOrderInitialMargin string                `json:"totalOpenOrderInitialMargin"`
	TotalCrossWalletBalance     string                `json:"totalCrossWalletBalance"`
	TotalCrossUnPnl             string                `json:"totalCrossUnPnl"`
	AvailableBalance            string                `json:"availableBalance"`
	MaxWithdrawAmount           string                `json:"maxWithdrawAmount"`
	Assets                      []FuturesAccountAsset `json:"assets"`
	Positions                   []FuturesPosition     `json:"positions"`
}

// FuturesOrderQuery selects futures order history. Limit defaults to 500; the exchange
// caps the window at seven days.
type FuturesOrderQuery struct {
	Symbol    string
	OrderID   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// FuturesDualSidePosition reports whether hedge mode (dual side positions) is enabled.
func (c *Client) FuturesDualSidePosition(ctx context.Context) (bool, error) {
	var out struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := c.doFutures(ctx, http.MethodGet, "/fapi/v1/positionSide/dual", c.signed(nil), true, &out); err != nil {
		return false, err
	}
	return out.DualSidePosition, nil
}

// FuturesOrder queries one futures order.
func (c *Client) FuturesOrder(ctx context.Context, symbol, orderID string) (FuturesOrderRecord, error) {
	return c.futuresOrder(ctx, "/fapi/v1/order", symbol, orderID)
}

// FuturesOpenOrder queries one open futures order.
func (c *Client) FuturesOpenOrder(ctx context.Context, symbol, orderID string) (FuturesOrderRecord, error) {
	return c.futuresOrder(ctx, "/fapi/v1/openOrder", symbol, orderID)
}

func (c *Client) futuresOrder(ctx context.Context, path, symbol, orderID string) (FuturesOrderRecord, error) {
	params := NewParams().
		Set("symbol", RawSymbol(symbol)).
		SetIfNotEmpty("orderId", orderID)
	var out FuturesOrderRecord
	if err := c.doFutures(ctx, http.MethodGet, path, c.signed(params), true, &out); err != nil {
		return FuturesOrderRecord{}, err
	}
	return out, nil
}

// FuturesAllOrders lists futures orders: active, canceled or filled.
func (c *Client) FuturesAllOrders(ctx context.Context, q FuturesOrderQuery) ([]FuturesOrderRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFuturesOrderLimit
	}
	params := NewParams().
		Set("symbol", RawSymbol(q.Symbol)).
		SetIfNotEmpty("orderId", q.OrderID)
	if !q.StartTime.IsZero() {
		params.SetInt("startTime", q.StartTime.UnixMilli())
	}
	if !q.EndTime.IsZero() {
		params.SetInt("endTime", q.EndTime.UnixMilli())
	}
	params.Set("limit", strconv.Itoa(limit))

	var out []FuturesOrderRecord
	if err := c.doFutures(ctx, http.MethodGet, "/fapi/v1/allOrders", c.signed(params), true, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []FuturesOrderRecord{}
	}
	return out, nil
}

// FuturesBalances lists the futures wallet balances.
func (c *Client) FuturesBalances(ctx context.Context) ([]FuturesBalance, error) {
	var out []FuturesBalance
	if err := c.doFutures(ctx, http.MethodGet, "/fapi/v2/balance", c.signed(nil), true, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []FuturesBalance{}
	}
	return out, nil
}

// FuturesAccount fetches the futures account with assets and positions.
func (c *Client) FuturesAccount(ctx context.Context) (FuturesAccount, error) {
	var out FuturesAccount
	if err := c.doFutures(ctx, http.MethodGet, "/fapi/v2/account", c.signed(nil), true, &out); err != nil {
		return FuturesAccount{}, err
	}
	return out, nil
}
