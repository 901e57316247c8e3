package binance

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// EventExecutionReport is the user data stream discriminator for order updates.
const EventExecutionReport = "executionReport"

// Millis is a millisecond timestamp that tolerates numeric and quoted encodings.
type Millis int64

// UnmarshalJSON accepts integers, floats, quoted numbers and null.
func (ts *Millis) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*ts = 0
		return nil
	}
	if trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		trimmed = bytes.TrimSpace(trimmed[1 : len(trimmed)-1])
		if len(trimmed) == 0 {
			*ts = 0
			return nil
		}
	}
	if parsed, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		*ts = Millis(parsed)
		return nil
	}
	if parsed, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		*ts = Millis(int64(parsed))
		return nil
	}
	return fmt.Errorf("binance: invalid timestamp %q", string(data))
}

// EventHeader carries the discriminator fields common to user data stream events.
type EventHeader struct {
	Type      string `json:"e"`
	EventTime Millis `json:"E"`
}

// ExecutionReport is a streamed order update. Keys that differ only by case are all
// declared so that case-insensitive matching never folds one into another.
type ExecutionReport struct {
	EventType          string  `json:"e"`
	EventTime          Millis  `json:"E"`
	Symbol             string  `json:"s"`
	ClientOrderID      string  `json:"c"`
	Side               string  `json:"S"`
	OrderType          string  `json:"o"`
	TimeInForce        string  `json:"f"`
	Quantity           string  `json:"q"`
	Price              string  `json:"p"`
	StopPrice          string  `json:"P"`
	IcebergQuantity    string  `json:"F"`
	OrderListID        int64   `json:"g"`
	OrigClientOrderID  string  `json:"C"`
	ExecutionType      string  `json:"x"`
	Status             string  `json:"X"`
	RejectReason       string  `json:"r"`
	OrderID            int64   `json:"i"`
	LastExecutedQty    string  `json:"l"`
	CumulativeQuantity string  `json:"z"`
	LastExecutedPrice  string  `json:"L"`
	Commission         string  `json:"n"`
	CommissionAsset    *string `json:"N"`
	TransactionTime    Millis  `json:"T"`
	TradeID            int64   `json:"t"`
	PreventedMatchID   int64   `json:"v"`
	ExecutionID        int64   `json:"I"`
	OnBook             bool    `json:"w"`
	Maker              bool    `json:"m"`
	Ignored            bool    `json:"M"`
	CreatedTime        Millis  `json:"O"`
	CumulativeQuoteQty string  `json:"Z"`
	LastQuoteQty       string  `json:"Y"`
	QuoteOrderQty      string  `json:"Q"`
	WorkingTime        Millis  `json:"W"`
	SelfTradePrevent   string  `json:"V"`
}

// ID returns the exchange order id in string form.
func (r ExecutionReport) ID() string {
	return strconv.FormatInt(r.OrderID, 10)
}

// DecodeEventHeader decodes the discriminator fields of a stream frame.
func DecodeEventHeader(data []byte) (EventHeader, error) {
	var h EventHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return EventHeader{}, fmt.Errorf("decode stream event: %w", err)
	}
	return h, nil
}

// DecodeExecutionReport decodes an execution report frame.
func DecodeExecutionReport(data []byte) (ExecutionReport, error) {
	var r ExecutionReport
	if err := json.Unmarshal(data, &r); err != nil {
		return ExecutionReport{}, fmt.Errorf("decode execution report: %w", err)
	}
	return r, nil
}
