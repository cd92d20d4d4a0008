// Package fake provides a deterministic in-process price oracle for
// development runs and tests.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/domain/quote"
)

// Oracle serves quotes from a mutable in-memory table. Safe for concurrent use.
type Oracle struct {
	mu     sync.RWMutex
	quotes map[string]quote.Quote
}

// NewOracle constructs an oracle seeded with the provided quotes.
func NewOracle(seed ...quote.Quote) *Oracle {
	o := &Oracle{quotes: make(map[string]quote.Quote, len(seed))}
	for _, q := range seed {
		o.SetQuote(q)
	}
	return o
}

// DefaultTable returns a small seed of well-known symbols for dev runs.
func DefaultTable() []quote.Quote {
	return []quote.Quote{
		{Name: "Apple Inc", Symbol: "AAPL", Price: decimal.NewFromFloat(227.52)},
		{Name: "Alphabet Inc", Symbol: "GOOG", Price: decimal.NewFromFloat(196.11)},
		{Name: "Microsoft Corp", Symbol: "MSFT", Price: decimal.NewFromFloat(412.87)},
		{Name: "Netflix Inc", Symbol: "NFLX", Price: decimal.NewFromFloat(701.35)},
	}
}

// SetQuote installs or replaces the table entry for the quote's symbol.
func (o *Oracle) SetQuote(q quote.Quote) {
	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" {
		return
	}
	q.Symbol = symbol
	o.mu.Lock()
	o.quotes[symbol] = q
	o.mu.Unlock()
}

// SetPrice updates the price of an existing entry, creating a bare entry if
// the symbol is new.
func (o *Oracle) SetPrice(symbol string, price decimal.Decimal) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	o.mu.Lock()
	q, ok := o.quotes[symbol]
	if !ok {
		q = quote.Quote{Name: symbol, Symbol: symbol}
	}
	q.Price = price
	o.quotes[symbol] = q
	o.mu.Unlock()
}

// Delist removes a symbol from the table. Subsequent lookups fail with
// unknown_symbol, which is how tests exercise ledger/oracle drift.
func (o *Oracle) Delist(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	o.mu.Lock()
	delete(o.quotes, symbol)
	o.mu.Unlock()
}

// Lookup returns the table entry for symbol.
func (o *Oracle) Lookup(_ context.Context, symbol string) (quote.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	o.mu.RLock()
	q, ok := o.quotes[symbol]
	o.mu.RUnlock()
	if !ok {
		return quote.Quote{}, errs.New("quote_lookup", errs.CodeUnknownSymbol,
			errs.WithSymbol(symbol),
			errs.WithMessage("oracle does not resolve symbol"))
	}
	return q, nil
}
