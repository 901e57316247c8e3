package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-trader/internal/schema"
)

// AccountBalance is one asset entry of the account endpoint.
type AccountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo is the subset of /api/v3/account consumed by the connector.
type AccountInfo struct {
	MakerCommission int64            `json:"makerCommission"`
	TakerCommission int64            `json:"takerCommission"`
	CanTrade        bool             `json:"canTrade"`
	CanWithdraw     bool             `json:"canWithdraw"`
	CanDeposit      bool             `json:"canDeposit"`
	UpdateTime      int64            `json:"updateTime"`
	AccountType     string           `json:"accountType"`
	Balances        []AccountBalance `json:"balances"`
}

// Assets converts balances into the passive asset map. Unparseable amounts are treated as zero.
func (a AccountInfo) Assets() schema.Assets {
	out := make(schema.Assets, len(a.Balances))
	for _, b := range a.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		out[b.Asset] = schema.NewBalance(free, locked)
	}
	return out
}

// Account fetches account information.
func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	var out AccountInfo
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", c.signed(nil), true, &out); err != nil {
		return AccountInfo{}, err
	}
	return out, nil
}

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/time", nil, false, &out); err != nil {
		return time.Time{}, err
	}
	return schema.Millis(out.ServerTime), nil
}

// SymbolFilter is a trading rule attached to a symbol.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice,omitempty"`
	MaxPrice    string `json:"maxPrice,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// SymbolInfo describes a tradable symbol.
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	OrderTypes []string       `json:"orderTypes"`
	Filters    []SymbolFilter `json:"filters"`
}

// ExchangeInfo is the exchange metadata response.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// ExchangeInfo fetches exchange trading rules and symbol metadata.
func (c *Client) ExchangeInfo(ctx context.Context) (ExchangeInfo, error) {
	var out ExchangeInfo
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, false, &out); err != nil {
		return ExchangeInfo{}, err
	}
	return out, nil
}

// Ticker is the 24 hour rolling window statistics for a symbol.
type Ticker struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	OpenTime           int64  `json:"openTime"`
	CloseTime          int64  `json:"closeTime"`
	Count              int64  `json:"count"`
}

// Ticker24h fetches 24 hour ticker statistics.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker, error) {
	var out Ticker
	params := NewParams().Set("symbol", RawSymbol(symbol))
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", params, false, &out); err != nil {
		return Ticker{}, err
	}
	return out, nil
}

// Level is one price level of the order book.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	LastUpdateID int64
	Bids         []Level
	Asks         []Level
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// OrderBook fetches a depth snapshot limited to limit levels per side.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	if limit <= 0 {
		limit = 10
	}
	params := NewParams().Set("symbol", RawSymbol(symbol)).SetInt("limit", int64(limit))
	var payload depthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false, &payload); err != nil {
		return OrderBook{}, err
	}
	bids, err := toLevels(payload.Bids)
	if err != nil {
		return OrderBook{}, fmt.Errorf("decode depth bids: %w", err)
	}
	asks, err := toLevels(payload.Asks)
	if err != nil {
		return OrderBook{}, fmt.Errorf("decode depth asks: %w", err)
	}
	return OrderBook{LastUpdateID: payload.LastUpdateID, Bids: bids, Asks: asks}, nil
}

func toLevels(raw [][]string) ([]Level, error) {
	out := make([]Level, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, err
		}
		out = append(out, Level{Price: price, Quantity: qty})
	}
	return out, nil
}

// KlineQuery selects candlesticks.
type KlineQuery struct {
	Symbol    string
	Interval  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Kline is one candlestick.
type Kline struct {
	OpenTime  time.Time
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime time.Time
	Trades    int64
}

// UnmarshalJSON decodes the positional array form returned by the klines endpoint.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 9 {
		return fmt.Errorf("kline: expected at least 9 fields, got %d", len(raw))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(raw[0], &openMs); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}
	fields := []*string{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		if err := json.Unmarshal(raw[i+1], dst); err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	if err := json.Unmarshal(raw[6], &closeMs); err != nil {
		return fmt.Errorf("kline close time: %w", err)
	}
	if err := json.Unmarshal(raw[8], &k.Trades); err != nil {
		return fmt.Errorf("kline trades: %w", err)
	}
	k.OpenTime = schema.Millis(openMs)
	k.CloseTime = schema.Millis(closeMs)
	return nil
}

// Klines fetches candlesticks. Interval defaults to 1m and limit to 500.
func (c *Client) Klines(ctx context.Context, q KlineQuery) ([]Kline, error) {
	interval := q.Interval
	if interval == "" {
		interval = "1m"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	params := NewParams().
		Set("symbol", RawSymbol(q.Symbol)).
		Set("interval", interval).
		Set("limit", strconv.Itoa(limit))
	if !q.StartTime.IsZero() {
		params.SetInt("startTime", q.StartTime.UnixMilli())
	}
	if !q.EndTime.IsZero() {
		params.SetInt("endTime", q.EndTime.UnixMilli())
	}
	var out []Kline
	if err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}
