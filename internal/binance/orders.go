package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/schema"
)

// OrderRequest describes a new order. Price and Quantity are sent verbatim; the exchange
// is authoritative on precision and limits.
type OrderRequest struct {
	Symbol        string
	Action        schema.Action
	Type          schema.OrderType
	Price         string
	Quantity      string
	ClientOrderID string
}

// OrderRecord is the order representation shared by query, cancel and create responses.
type OrderRecord struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	OrigClientID  string `json:"origClientOrderId,omitempty"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
	TransactTime  int64  `json:"transactTime"`
}

// ID returns the exchange order id in string form.
func (r OrderRecord) ID() string {
	return strconv.FormatInt(r.OrderID, 10)
}

// NewClientOrderID returns a fresh idempotency token accepted by newClientOrderId.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateOrder places a LIMIT GTC order, or a MARKET order when requested, and returns
// the exchange-assigned order id.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	if !req.Action.Valid() {
		return "", errs.New(exchangeName, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unsupported action %q", req.Action)))
	}
	orderType := req.Type
	if orderType == "" {
		orderType = schema.OrderTypeLimit
	}
	params := NewParams().
		Set("symbol", RawSymbol(req.Symbol)).
		Set("side", string(req.Action)).
		Set("type", string(orderType))
	switch orderType {
	case schema.OrderTypeLimit:
		params.Set("timeInForce", "GTC").
			Set("quantity", req.Quantity).
			Set("price", req.Price)
	case schema.OrderTypeMarket:
		params.Set("quantity", req.Quantity)
	default:
		return "", errs.New(exchangeName, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unsupported order type %q", orderType)))
	}
	params.SetIfNotEmpty("newClientOrderId", req.ClientOrderID).
		Set("recvWindow", c.recvWindowMillis()).
		Set("newOrderRespType", "FULL")

	var out OrderRecord
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", c.signed(params), true, &out); err != nil {
		return "", err
	}
	return out.ID(), nil
}

// CancelOrder cancels one order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (OrderRecord, error) {
	params := NewParams().
		Set("symbol", RawSymbol(symbol)).
		Set("orderId", orderID)
	var out OrderRecord
	if err := c.do(ctx, http.MethodDelete, "/api/v3/order", c.signed(params), true, &out); err != nil {
		return OrderRecord{}, err
	}
	return out, nil
}

// OrderStatus queries one order by exchange id and, optionally, client order id.
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID, clientOrderID string) (OrderRecord, error) {
	params := NewParams().
		Set("symbol", RawSymbol(symbol)).
		SetIfNotEmpty("orderId", orderID).
		SetIfNotEmpty("origClientOrderId", clientOrderID)
	var out OrderRecord
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", c.signed(params), true, &out); err != nil {
		return OrderRecord{}, err
	}
	return out, nil
}

// AllOrders lists all orders of a symbol, open or closed.
func (c *Client) AllOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	params := NewParams().Set("symbol", RawSymbol(symbol))
	var out []OrderRecord
	if err := c.do(ctx, http.MethodGet, "/api/v3/allOrders", c.signed(params), true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenOrders lists currently open orders of a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	params := NewParams().Set("symbol", RawSymbol(symbol))
	var out []OrderRecord
	if err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", c.signed(params), true, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []OrderRecord{}
	}
	return out, nil
}

// CreateListenKey acquires a user data stream token.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ListenKey) == "" {
		return "", errEmptyListenKey
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends the validity of a listen key.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := NewParams().Set("listenKey", listenKey)
	return c.do(ctx, http.MethodPut, "/api/v3/userDataStream", params, false, nil)
}

// DeleteListenKey revokes a listen key.
func (c *Client) DeleteListenKey(ctx context.Context, listenKey string) error {
	params := NewParams().Set("listenKey", listenKey)
	return c.do(ctx, http.MethodDelete, "/api/v3/userDataStream", params, false, nil)
}
