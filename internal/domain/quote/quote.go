// Package quote defines the price-oracle contract consumed by the portfolio engine.
package quote

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is the oracle's answer for one symbol.
type Quote struct {
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Oracle supplies the current market price for a symbol. Implementations
// return an errs envelope with code unknown_symbol when the symbol does not
// resolve; any other error is a transport or upstream failure.
type Oracle interface {
	Lookup(ctx context.Context, symbol string) (Quote, error)
}
