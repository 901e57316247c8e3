package binance

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// TransferType is the direction of a spot/futures transfer.
type TransferType int

const (
	TransferSpotToUSDM  TransferType = 1
	TransferUSDMToSpot  TransferType = 2
	TransferSpotToCoinM TransferType = 3
	TransferCoinMToSpot TransferType = 4
)

// Transfer is one row of the futures transfer history.
type Transfer struct {
	Asset     string `json:"asset"`
	TranID    int64  `json:"tranId"`
	Amount    string `json:"amount"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}

// TransferHistory is a page of futures transfers.
type TransferHistory struct {
	Rows  []Transfer `json:"rows"`
	Total int        `json:"total"`
}

// TransferQuery selects futures transfer history. Current and Size default to 1 and 10.
type TransferQuery struct {
	Asset     string
	StartTime time.Time
	EndTime   time.Time
	Current   int
	Size      int
}

// FuturesTransfers lists spot/futures transfers.
func (c *Client) FuturesTransfers(ctx context.Context, q TransferQuery) (TransferHistory, error) {
	asset := q.Asset
	if asset == "" {
		asset = "USDT"
	}
	current := q.Current
	if current <= 0 {
		current = 1
	}
	size := q.Size
	if size <= 0 {
		size = 10
	}
	params := NewParams().
		Set("asset", asset).
		SetInt("startTime", q.StartTime.UnixMilli())
	if !q.EndTime.IsZero() {
		params.SetInt("endTime", q.EndTime.UnixMilli())
	}
	params.Set("current", strconv.Itoa(current)).
		Set("size", strconv.Itoa(size))

	var out TransferHistory
	if err := c.do(ctx, http.MethodGet, "/sapi/v1/futures/transfer", c.signed(params), true, &out); err != nil {
		return TransferHistory{}, err
	}
	return out, nil
}

// FuturesTransfer moves amount of asset in the given direction and returns the transfer id.
func (c *Client) FuturesTransfer(ctx context.Context, asset, amount string, direction TransferType) (int64, error) {
	if asset == "" {
		asset = "USDT"
	}
	params := NewParams().
		Set("asset", asset).
		Set("amount", amount).
		Set("type", strconv.Itoa(int(direction)))
	var out struct {
		TranID int64 `json:"tranId"`
	}
	if err := c.do(ctx, http.MethodPost, "/sapi/v1/futures/transfer", c.signed(params), true, &out); err != nil {
		return 0, err
	}
	return out.TranID, nil
}
