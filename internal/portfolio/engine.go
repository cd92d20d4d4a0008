// Package portfolio implements the trade execution engine: the single place
// that mutates account cash, holdings, and the append-only trade history.
package portfolio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/domain/ledgerstore"
	"github.com/MohGumaa/finance/internal/domain/quote"
	"github.com/MohGumaa/finance/internal/infra/telemetry"
)

const (
	opBuy   = "buy"
	opSell  = "sell"
	opValue = "portfolio_value"
)

var (
	tradesCounter     metric.Int64Counter
	tradesCounterOnce sync.Once
)

// Position is one live portfolio line: a holding priced at the current quote.
type Position struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"marketValue"`
}

// Statement summarises an account: cash plus every position at market.
type Statement struct {
	AccountID  string          `json:"accountId"`
	Cash       decimal.Decimal `json:"cash"`
	Positions  []Position      `json:"positions"`
	TotalValue decimal.Decimal `json:"totalValue"`
}

// Engine validates trade requests against fresh ledger state and applies
// them atomically. It never caches account or holding rows across calls.
type Engine struct {
	store  ledgerstore.Store
	oracle quote.Oracle
	clock  func() time.Time
}

// NewEngine constructs an Engine over the supplied ledger store and price
// oracle. A nil clock defaults to time.Now.
func NewEngine(store ledgerstore.Store, oracle quote.Oracle, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: store, oracle: oracle, clock: clock}
}

// Buy purchases quantity whole shares of symbol at the oracle's current
// price. The cash debit, holding upsert, and trade append commit together or
// not at all. Spending the entire cash balance is allowed; exceeding it
// fails with insufficient_funds and leaves the ledger untouched.
func (e *Engine) Buy(ctx context.Context, accountID, symbol string, quantity int64) (ledgerstore.Trade, error) {
	symbol = normalizeSymbol(symbol)
	if err := validateQuantity(opBuy, accountID, symbol, quantity); err != nil {
		recordTrade(ctx, opBuy, errs.CodeOf(err))
		return ledgerstore.Trade{}, err
	}
	quoted, err := e.freshQuote(ctx, opBuy, accountID, symbol)
	if err != nil {
		recordTrade(ctx, opBuy, errs.CodeOf(err))
		return ledgerstore.Trade{}, err
	}

	cost := quoted.Price.Mul(decimal.NewFromInt(quantity))
	var executed ledgerstore.Trade
	err = e.store.WithAccountTx(ctx, accountID, func(ctx context.Context, tx ledgerstore.Tx) error {
		account, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if cost.GreaterThan(account.Cash) {
			return errs.New(opBuy, errs.CodeInsufficientFunds,
				errs.WithAccount(accountID),
				errs.WithSymbol(symbol),
				errs.WithMessage(fmt.Sprintf("cost %s exceeds cash %s", cost, account.Cash)))
		}
		if err := tx.SetCash(ctx, accountID, account.Cash.Sub(cost)); err != nil {
			return err
		}

		holding, exists, err := tx.Holding(ctx, accountID, symbol)
		if err != nil {
			return err
		}
		shares := quantity
		if exists {
			shares += holding.Shares
		}
		if err := tx.UpsertHolding(ctx, ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: shares}); err != nil {
			return err
		}

		executed = e.newTrade(accountID, symbol, quantity, quoted.Price)
		return tx.AppendTrade(ctx, executed)
	})
	if err != nil {
		recordTrade(ctx, opBuy, errs.CodeOf(err))
		return ledgerstore.Trade{}, err
	}
	recordTrade(ctx, opBuy, "")
	return executed, nil
}

// Sell disposes of quantity whole shares of symbol at the oracle's current
// price. A missing holding is treated as zero shares. Selling the entire
// position deletes the holding row rather than leaving a zero-count row.
func (e *Engine) Sell(ctx context.Context, accountID, symbol string, quantity int64) (ledgerstore.Trade, error) {
	symbol = normalizeSymbol(symbol)
	if err := validateQuantity(opSell, accountID, symbol, quantity); err != nil {
		recordTrade(ctx, opSell, errs.CodeOf(err))
		return ledgerstore.Trade{}, err
	}
	quoted, err := e.freshQuote(ctx, opSell, accountID, symbol)
	if err != nil {
		recordTrade(ctx, opSell, errs.CodeOf(err))
		return ledgerstore.Trade{}, err
	}

	proceeds := quoted.Price.Mul(decimal.NewFromInt(quantity))
	var executed ledgerstore.Trade
	err = e.store.WithAccountTx(ctx, accountID, func(ctx context.Context, tx ledgerstore.Tx) error {
		account, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}

		holding, exists, err := tx.Holding(ctx, accountID, symbol)
		if err != nil {
			return err
		}
		held := int64(0)
		if exists {
			held = holding.Shares
		}
		if held < quantity {
			return errs.New(opSell, errs.CodeInsufficientShares,
				errs.WithAccount(accountID),
				errs.WithSymbol(symbol),
				errs.WithMessage(fmt.Sprintf("holding covers %d shares, requested %d", held, quantity)))
		}

		if err := tx.SetCash(ctx, accountID, account.Cash.Add(proceeds)); err != nil {
			return err
		}

		remaining := held - quantity
		if remaining == 0 {
			if err := tx.DeleteHolding(ctx, accountID, symbol); err != nil {
				return err
			}
		} else {
			if err := tx.UpsertHolding(ctx, ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: remaining}); err != nil {
				return err
			}
		}

		executed = e.newTrade(accountID, symbol, -quantity, quoted.Price)
		return tx.AppendTrade(ctx, executed)
	})
	if err != nil {
		recordTrade(ctx, opSell, errs.CodeOf(err))
		return ledgerstore.Trade{}, err
	}
	recordTrade(ctx, opSell, "")
	return executed, nil
}

// Holdings returns every position priced at the current quote. A persisted
// holding whose symbol the oracle no longer resolves is reported as an
// integrity failure rather than silently valued at zero.
func (e *Engine) Holdings(ctx context.Context, accountID string) ([]Position, error) {
	holdings, err := e.store.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(holdings))
	for _, holding := range holdings {
		quoted, err := e.oracle.Lookup(ctx, holding.Symbol)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeUnknownSymbol {
				return nil, errs.New(opValue, errs.CodeIntegrity,
					errs.WithAccount(accountID),
					errs.WithSymbol(holding.Symbol),
					errs.WithMessage("persisted holding references a symbol the oracle no longer resolves"),
					errs.WithCause(err))
			}
			return nil, err
		}
		positions = append(positions, Position{
			Symbol:      holding.Symbol,
			Name:        quoted.Name,
			Shares:      holding.Shares,
			Price:       quoted.Price,
			MarketValue: quoted.Price.Mul(decimal.NewFromInt(holding.Shares)),
		})
	}
	return positions, nil
}

// History returns the account's executed trades, most recent first.
func (e *Engine) History(ctx context.Context, accountID string) ([]ledgerstore.Trade, error) {
	return e.store.ListTrades(ctx, ledgerstore.TradeQuery{AccountID: accountID})
}

// Value computes cash plus the market value of every position. Read-only;
// repeated calls never change ledger state.
func (e *Engine) Value(ctx context.Context, accountID string) (Statement, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Statement{}, err
	}
	positions, err := e.Holdings(ctx, accountID)
	if err != nil {
		return Statement{}, err
	}
	total := account.Cash
	for _, position := range positions {
		total = total.Add(position.MarketValue)
	}
	return Statement{
		AccountID:  accountID,
		Cash:       account.Cash,
		Positions:  positions,
		TotalValue: total,
	}, nil
}

// freshQuote obtains a just-in-time price for symbol; stale or caller-held
// prices are never trusted. Non-positive quotes are rejected outright.
func (e *Engine) freshQuote(ctx context.Context, op, accountID, symbol string) (quote.Quote, error) {
	quoted, err := e.oracle.Lookup(ctx, symbol)
	if err != nil {
		return quote.Quote{}, err
	}
	if quoted.Price.Sign() <= 0 {
		return quote.Quote{}, errs.New(op, errs.CodeIntegrity,
			errs.WithAccount(accountID),
			errs.WithSymbol(symbol),
			errs.WithMessage(fmt.Sprintf("oracle returned non-positive price %s", quoted.Price)))
	}
	return quoted, nil
}

func (e *Engine) newTrade(accountID, symbol string, shareDelta int64, price decimal.Decimal) ledgerstore.Trade {
	return ledgerstore.Trade{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Symbol:     symbol,
		ShareDelta: shareDelta,
		Price:      price,
		ExecutedAt: e.clock().UTC(),
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validateQuantity(op, accountID, symbol string, quantity int64) error {
	if quantity <= 0 {
		return errs.New(op, errs.CodeInvalidQuantity,
			errs.WithAccount(accountID),
			errs.WithSymbol(symbol),
			errs.WithMessage(fmt.Sprintf("quantity must be a positive whole number of shares, got %d", quantity)))
	}
	return nil
}

func recordTrade(ctx context.Context, side string, failure errs.Code) {
	tradesCounterOnce.Do(func() {
		meter := otel.Meter("portfolio.engine")
		counter, err := meter.Int64Counter("finance_trades_total",
			metric.WithDescription("Trade executions attempted by the portfolio engine"),
			metric.WithUnit("{trade}"))
		if err == nil {
			tradesCounter = counter
		}
	})
	if tradesCounter == nil {
		return
	}
	result := "executed"
	if failure != "" {
		result = string(failure)
	}
	tradesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("side", side),
		attribute.String("result", result),
	))
}
