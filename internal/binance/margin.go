package binance

import (
	"context"
	"net/http"
	"strings"
)

// MarginAsset is one leg of an isolated margin pair.
type MarginAsset struct {
	Asset         string `json:"asset"`
	BorrowEnabled bool   `json:"borrowEnabled"`
	Borrowed      string `json:"borrowed"`
	Free          string `json:"free"`
	Interest      string `json:"interest"`
	Locked        string `json:"locked"`
	NetAsset      string `json:"netAsset"`
	NetAssetOfBtc string `json:"netAssetOfBtc"`
	RepayEnabled  bool   `json:"repayEnabled"`
	TotalAsset    string `json:"totalAsset"`
}

// IsolatedMarginPair is the isolated margin position of one symbol.
type IsolatedMarginPair struct {
	Symbol            string      `json:"symbol"`
	BaseAsset         MarginAsset `json:"baseAsset"`
	QuoteAsset        MarginAsset `json:"quoteAsset"`
	IsolatedCreated   bool        `json:"isolatedCreated"`
	MarginLevel       string      `json:"marginLevel"`
	MarginLevelStatus string      `json:"marginLevelStatus"`
	MarginRatio       string      `json:"marginRatio"`
	IndexPrice        string      `json:"indexPrice"`
	LiquidatePrice    string      `json:"liquidatePrice"`
	LiquidateRate     string      `json:"liquidateRate"`
	TradeEnabled      bool        `json:"tradeEnabled"`
}

// IsolatedMarginAccount is the isolated margin account summary.
type IsolatedMarginAccount struct {
	Assets              []IsolatedMarginPair `json:"assets"`
	TotalAssetOfBtc     string               `json:"totalAssetOfBtc"`
	TotalLiabilityOfBtc string               `json:"totalLiabilityOfBtc"`
	TotalNetAssetOfBtc  string               `json:"totalNetAssetOfBtc"`
}

// IsolatedMarginAccount fetches isolated margin positions, limited to symbols when given.
func (c *Client) IsolatedMarginAccount(ctx context.Context, symbols ...string) (IsolatedMarginAccount, error) {
	raw := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = RawSymbol(s); s != "" {
			raw = append(raw, s)
		}
	}
	params := NewParams().SetIfNotEmpty("symbols", strings.Join(raw, ","))
	var out IsolatedMarginAccount
	if err := c.do(ctx, http.MethodGet, "/sapi/v1/margin/isolated/account", c.signed(params), true, &out); err != nil {
		return IsolatedMarginAccount{}, err
	}
	if out.Assets == nil {
		out.Assets = []IsolatedMarginPair{}
	}
	return out, nil
}
