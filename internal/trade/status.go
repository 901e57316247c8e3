// Package trade keeps a live view of one account's orders on one symbol and exposes the
// order operations a strategy needs.
package trade

import (
	"github.com/coachpo/meltica-trader/errs"
	"github.com/coachpo/meltica-trader/internal/schema"
)

const platformBinance = "binance"

// MapStatus translates an exchange order status into the normalized vocabulary.
// REJECTED and EXPIRED both collapse to FAILED. Anything else is an unknown status error.
func MapStatus(raw string) (schema.Status, error) {
	switch raw {
	case "NEW":
		return schema.StatusSubmitted, nil
	case "PARTIALLY_FILLED":
		return schema.StatusPartialFilled, nil
	case "FILLED":
		return schema.StatusFilled, nil
	case "CANCELED":
		return schema.StatusCanceled, nil
	case "REJECTED", "EXPIRED":
		return schema.StatusFailed, nil
	default:
		return "", errs.UnknownStatus(platformBinance, raw)
	}
}

// mapAction translates an order side. An unrecognized side maps to SELL and reports false.
func mapAction(side string) (schema.Action, bool) {
	switch side {
	case string(schema.ActionBuy):
		return schema.ActionBuy, true
	case string(schema.ActionSell):
		return schema.ActionSell, true
	default:
		return schema.ActionSell, false
	}
}

// mapOrderType translates an order type. Anything but LIMIT and MARKET maps to MARKET and
// reports false.
func mapOrderType(kind string) (schema.OrderType, bool) {
	switch kind {
	case string(schema.OrderTypeLimit):
		return schema.OrderTypeLimit, true
	case string(schema.OrderTypeMarket):
		return schema.OrderTypeMarket, true
	default:
		return schema.OrderTypeMarket, false
	}
}
