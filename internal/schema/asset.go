package schema

import (
	"maps"

	"github.com/shopspring/decimal"
)

// Balance holds the free, locked and total amount of one asset.
type Balance struct {
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Total  decimal.Decimal `json:"total"`
}

// NewBalance derives Total from free and locked.
func NewBalance(free, locked decimal.Decimal) Balance {
	return Balance{Free: free, Locked: locked, Total: free.Add(locked)}
}

// Assets maps asset symbols to balances.
type Assets map[string]Balance

// Clone returns a shallow copy; Balance values are immutable.
func (a Assets) Clone() Assets {
	if a == nil {
		return Assets{}
	}
	return maps.Clone(a)
}
