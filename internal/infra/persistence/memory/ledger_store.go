// Package memory provides an in-process ledgerstore.Store with the same
// per-account transaction semantics as the Postgres implementation. It backs
// unit tests and DSN-less development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/domain/ledgerstore"
)

type accountState struct {
	mu       sync.Mutex
	account  ledgerstore.Account
	holdings map[string]int64
	trades   []ledgerstore.Trade
}

// LedgerStore is a mutex-serialized, map-backed ledger. Each account owns a
// lock that is held for the whole transaction scope, so trades against one
// account never interleave their read-validate-write sequence.
type LedgerStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
	clock    func() time.Time
}

// NewLedgerStore constructs an empty in-memory ledger. A nil clock defaults
// to time.Now.
func NewLedgerStore(clock func() time.Time) *LedgerStore {
	if clock == nil {
		clock = time.Now
	}
	return &LedgerStore{accounts: make(map[string]*accountState), clock: clock}
}

// CreateAccount provisions a new account seeded with startingCash.
func (s *LedgerStore) CreateAccount(_ context.Context, startingCash decimal.Decimal) (ledgerstore.Account, error) {
	if startingCash.Sign() < 0 {
		return ledgerstore.Account{}, errs.New("create_account", errs.CodeInvalidQuantity,
			errs.WithMessage(fmt.Sprintf("starting cash must not be negative, got %s", startingCash)))
	}
	account := ledgerstore.Account{
		ID:        uuid.NewString(),
		Cash:      startingCash,
		CreatedAt: s.clock().UTC(),
	}
	s.mu.Lock()
	s.accounts[account.ID] = &accountState{
		account:  account,
		holdings: make(map[string]int64),
	}
	s.mu.Unlock()
	return account, nil
}

// GetAccount returns the current account snapshot.
func (s *LedgerStore) GetAccount(_ context.Context, id string) (ledgerstore.Account, error) {
	state, err := s.state(id)
	if err != nil {
		return ledgerstore.Account{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.account, nil
}

// ListHoldings returns the account's holdings sorted by symbol.
func (s *LedgerStore) ListHoldings(_ context.Context, accountID string) ([]ledgerstore.Holding, error) {
	state, err := s.state(accountID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	holdings := make([]ledgerstore.Holding, 0, len(state.holdings))
	for symbol, shares := range state.holdings {
		holdings = append(holdings, ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: shares})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings, nil
}

// ListTrades returns the account's trade history, most recent first.
func (s *LedgerStore) ListTrades(_ context.Context, query ledgerstore.TradeQuery) ([]ledgerstore.Trade, error) {
	state, err := s.state(query.AccountID)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(query.Symbol))

	state.mu.Lock()
	defer state.mu.Unlock()
	trades := make([]ledgerstore.Trade, 0, len(state.trades))
	for _, trade := range state.trades {
		if symbol != "" && trade.Symbol != symbol {
			continue
		}
		trades = append(trades, trade)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ExecutedAt.After(trades[j].ExecutedAt) })
	if query.Limit > 0 && len(trades) > query.Limit {
		trades = trades[:query.Limit]
	}
	return trades, nil
}

// WithAccountTx runs fn while holding the account's lock. Mutations are
// staged and applied only when fn returns nil, so a failed transaction
// leaves the ledger byte-identical to before the call.
func (s *LedgerStore) WithAccountTx(ctx context.Context, accountID string, fn func(context.Context, ledgerstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("ledger store: transaction callback required")
	}
	state, err := s.state(accountID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	tx := &memoryTx{state: state, staged: stagedChanges{holdings: make(map[string]*int64)}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *LedgerStore) state(accountID string) (*accountState, error) {
	s.mu.RLock()
	state, ok := s.accounts[strings.TrimSpace(accountID)]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.New("ledger", errs.CodeNotFound,
			errs.WithAccount(accountID),
			errs.WithMessage("account not found"))
	}
	return state, nil
}

type stagedChanges struct {
	cash     *decimal.Decimal
	holdings map[string]*int64 // nil value marks deletion
	trades   []ledgerstore.Trade
}

type memoryTx struct {
	state  *accountState
	staged stagedChanges
}

func (t *memoryTx) Account(_ context.Context, id string) (ledgerstore.Account, error) {
	if strings.TrimSpace(id) != t.state.account.ID {
		return ledgerstore.Account{}, errs.New("ledger", errs.CodeNotFound,
			errs.WithAccount(id),
			errs.WithMessage("account not part of this transaction"))
	}
	account := t.state.account
	if t.staged.cash != nil {
		account.Cash = *t.staged.cash
	}
	return account, nil
}

func (t *memoryTx) Holding(_ context.Context, accountID, symbol string) (ledgerstore.Holding, bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if staged, ok := t.staged.holdings[symbol]; ok {
		if staged == nil {
			return ledgerstore.Holding{}, false, nil
		}
		return ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: *staged}, true, nil
	}
	shares, ok := t.state.holdings[symbol]
	if !ok {
		return ledgerstore.Holding{}, false, nil
	}
	return ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: shares}, true, nil
}

func (t *memoryTx) SetCash(_ context.Context, _ string, cash decimal.Decimal) error {
	if cash.Sign() < 0 {
		return errs.New("ledger", errs.CodeIntegrity,
			errs.WithAccount(t.state.account.ID),
			errs.WithMessage(fmt.Sprintf("cash balance must not go negative, got %s", cash)))
	}
	t.staged.cash = &cash
	return nil
}

func (t *memoryTx) UpsertHolding(_ context.Context, holding ledgerstore.Holding) error {
	if holding.Shares <= 0 {
		return errs.New("ledger", errs.CodeIntegrity,
			errs.WithAccount(holding.AccountID),
			errs.WithSymbol(holding.Symbol),
			errs.WithMessage(fmt.Sprintf("holding share count must stay positive, got %d", holding.Shares)))
	}
	symbol := strings.ToUpper(strings.TrimSpace(holding.Symbol))
	shares := holding.Shares
	t.staged.holdings[symbol] = &shares
	return nil
}

func (t *memoryTx) DeleteHolding(_ context.Context, _, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	t.staged.holdings[symbol] = nil
	return nil
}

func (t *memoryTx) AppendTrade(_ context.Context, trade ledgerstore.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	t.staged.trades = append(t.staged.trades, trade)
	return nil
}

func (t *memoryTx) commit() {
	if t.staged.cash != nil {
		t.state.account.Cash = *t.staged.cash
	}
	for symbol, shares := range t.staged.holdings {
		if shares == nil {
			delete(t.state.holdings, symbol)
			continue
		}
		t.state.holdings[symbol] = *shares
	}
	t.state.trades = append(t.state.trades, t.staged.trades...)
}
