// Package ledgerstore defines persistence contracts for account, holding, and
// trade-history state.
package ledgerstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Account represents the cash position of one registered user.
type Account struct {
	ID        string          `json:"id"`
	Cash      decimal.Decimal `json:"cash"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Holding represents the aggregated share count of one symbol owned by one
// account. At most one holding exists per (account, symbol) pair, and a
// persisted holding never carries a zero share count.
type Holding struct {
	AccountID string `json:"accountId"`
	Symbol    string `json:"symbol"`
	Shares    int64  `json:"shares"`
}

// Trade is one immutable entry in the append-only trade history. ShareDelta
// is positive for buys and negative for sells.
type Trade struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"accountId"`
	Symbol     string          `json:"symbol"`
	ShareDelta int64           `json:"shareDelta"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// TradeQuery scopes trade-history lookups.
type TradeQuery struct {
	AccountID string `json:"accountId"`
	Symbol    string `json:"symbol,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Tx exposes the ledger mutations available inside one account transaction.
// Reads performed through a Tx observe state current as of the transaction
// and are stable against concurrent trades on the same account.
type Tx interface {
	// Account returns the account row, locked for the duration of the
	// transaction so no concurrent trade can interleave.
	Account(ctx context.Context, id string) (Account, error)
	// Holding returns the holding for (account, symbol) and whether it exists.
	Holding(ctx context.Context, accountID, symbol string) (Holding, bool, error)
	SetCash(ctx context.Context, accountID string, cash decimal.Decimal) error
	UpsertHolding(ctx context.Context, holding Holding) error
	DeleteHolding(ctx context.Context, accountID, symbol string) error
	AppendTrade(ctx context.Context, trade Trade) error
}

// Store defines the contract for ledger persistence.
//
// WithAccountTx runs fn inside a single atomic transaction scope serialized
// per account: two trades against the same account never interleave their
// read-validate-write sequence, and either every mutation commits or none do.
type Store interface {
	CreateAccount(ctx context.Context, startingCash decimal.Decimal) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ListHoldings(ctx context.Context, accountID string) ([]Holding, error)
	ListTrades(ctx context.Context, query TradeQuery) ([]Trade, error)
	WithAccountTx(ctx context.Context, accountID string, fn func(context.Context, Tx) error) error
}
