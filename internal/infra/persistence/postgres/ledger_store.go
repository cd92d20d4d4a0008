package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/domain/ledgerstore"
)

// LedgerStore persists accounts, holdings, and the append-only trade history.
type LedgerStore struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

// NewLedgerStore constructs a LedgerStore backed by the provided pool. A nil
// clock defaults to time.Now.
func NewLedgerStore(pool *pgxpool.Pool, clock func() time.Time) *LedgerStore {
	if clock == nil {
		clock = time.Now
	}
	return &LedgerStore{pool: pool, clock: clock}
}

const (
	accountInsertSQL = `
INSERT INTO accounts (id, cash, created_at)
VALUES (@id, @cash, @created_at);
`

	accountSelectSQL = `
SELECT id::text, cash::text, created_at
FROM accounts
WHERE id = @id;
`

	// Locking read: holding the account row lock for the duration of the
	// transaction serializes every trade against this account.
	accountLockSQL = `
SELECT id::text, cash::text, created_at
FROM accounts
WHERE id = @id
FOR UPDATE;
`

	cashUpdateSQL = `
UPDATE accounts
SET cash = @cash
WHERE id = @id;
`

	holdingSelectSQL = `
SELECT shares
FROM holdings
WHERE account_id = @account_id AND symbol = @symbol;
`

	holdingUpsertSQL = `
INSERT INTO holdings (account_id, symbol, shares)
VALUES (@account_id, @symbol, @shares)
ON CONFLICT (account_id, symbol) DO UPDATE SET
    shares = EXCLUDED.shares;
`

	holdingDeleteSQL = `
DELETE FROM holdings
WHERE account_id = @account_id AND symbol = @symbol;
`

	tradeInsertSQL = `
INSERT INTO trades (id, account_id, symbol, share_delta, price, executed_at)
VALUES (@id, @account_id, @symbol, @share_delta, @price, @executed_at);
`

	holdingsSelectSQL = `
SELECT symbol, shares
FROM holdings
WHERE account_id = $1
ORDER BY symbol;
`

	tradesSelectBase = `
SELECT id::text, account_id::text, symbol, share_delta, price::text, executed_at
FROM trades
WHERE account_id = $1
`

	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ledgerTx struct {
	tx    pgx.Tx
	store *LedgerStore
}

func (s *LedgerStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("ledger store: nil pool")
	}
	return s.pool, nil
}

// CreateAccount provisions a new account seeded with startingCash.
func (s *LedgerStore) CreateAccount(ctx context.Context, startingCash decimal.Decimal) (ledgerstore.Account, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledgerstore.Account{}, err
	}
	if startingCash.Sign() < 0 {
		return ledgerstore.Account{}, errs.New("create_account", errs.CodeInvalidQuantity,
			errs.WithMessage(fmt.Sprintf("starting cash must not be negative, got %s", startingCash)))
	}
	cash, err := numericFromDecimal(startingCash)
	if err != nil {
		return ledgerstore.Account{}, fmt.Errorf("ledger store: encode cash: %w", err)
	}
	account := ledgerstore.Account{
		ID:        uuid.NewString(),
		Cash:      startingCash,
		CreatedAt: s.clock().UTC(),
	}
	args := pgx.NamedArgs{
		"id":         account.ID,
		"cash":       cash,
		"created_at": account.CreatedAt,
	}
	if _, err := pool.Exec(ctx, accountInsertSQL, args); err != nil {
		return ledgerstore.Account{}, storeFailure("create_account", err)
	}
	return account, nil
}

// GetAccount returns the current account snapshot without locking.
func (s *LedgerStore) GetAccount(ctx context.Context, id string) (ledgerstore.Account, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledgerstore.Account{}, err
	}
	return scanAccount(ctx, pool, accountSelectSQL, id)
}

// ListHoldings returns the account's holdings ordered by symbol.
func (s *LedgerStore) ListHoldings(ctx context.Context, accountID string) ([]ledgerstore.Holding, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, holdingsSelectSQL, strings.TrimSpace(accountID))
	if err != nil {
		return nil, storeFailure("list_holdings", err)
	}
	defer rows.Close()

	var holdings []ledgerstore.Holding
	for rows.Next() {
		var (
			symbol string
			shares int64
		)
		if err := rows.Scan(&symbol, &shares); err != nil {
			return nil, fmt.Errorf("ledger store: scan holding: %w", err)
		}
		holdings = append(holdings, ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: shares})
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list_holdings", err)
	}
	return holdings, nil
}

// ListTrades returns the account's trade history, most recent first.
func (s *LedgerStore) ListTrades(ctx context.Context, query ledgerstore.TradeQuery) ([]ledgerstore.Trade, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultTradeLimit, maxTradeLimit)

	builder := strings.Builder{}
	builder.WriteString(tradesSelectBase)

	args := []any{strings.TrimSpace(query.AccountID)}
	argPos := 2

	if symbol := strings.ToUpper(strings.TrimSpace(query.Symbol)); symbol != "" {
		fmt.Fprintf(&builder, " AND symbol = $%d", argPos)
		args = append(args, symbol)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY executed_at DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, storeFailure("list_trades", err)
	}
	defer rows.Close()

	var trades []ledgerstore.Trade
	for rows.Next() {
		var (
			id         string
			accountID  string
			symbol     string
			shareDelta int64
			priceText  string
			executedAt time.Time
		)
		if err := rows.Scan(&id, &accountID, &symbol, &shareDelta, &priceText, &executedAt); err != nil {
			return nil, fmt.Errorf("ledger store: scan trade: %w", err)
		}
		price, err := decimal.NewFromString(priceText)
		if err != nil {
			return nil, fmt.Errorf("ledger store: decode price %q: %w", priceText, err)
		}
		trades = append(trades, ledgerstore.Trade{
			ID:         id,
			AccountID:  accountID,
			Symbol:     symbol,
			ShareDelta: shareDelta,
			Price:      price,
			ExecutedAt: executedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list_trades", err)
	}
	return trades, nil
}

// WithAccountTx executes fn within a database transaction while holding a
// row lock on the account. The lock is taken before fn runs, so precondition
// reads inside fn always observe committed state that no concurrent trade
// can move underneath them.
func (s *LedgerStore) WithAccountTx(ctx context.Context, accountID string, fn func(context.Context, ledgerstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("ledger store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return storeFailure("begin_tx", err)
	}

	wrapped := &ledgerTx{tx: tx, store: s}
	runErr := func() error {
		if _, err := scanAccount(ctx, tx, accountLockSQL, accountID); err != nil {
			return err
		}
		return fn(ctx, wrapped)
	}()
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("ledger store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return storeFailure("commit_tx", err)
	}
	return nil
}

func (t *ledgerTx) Account(ctx context.Context, id string) (ledgerstore.Account, error) {
	if t == nil {
		return ledgerstore.Account{}, fmt.Errorf("ledger store: nil transaction")
	}
	return scanAccount(ctx, t.tx, accountLockSQL, id)
}

func (t *ledgerTx) Holding(ctx context.Context, accountID, symbol string) (ledgerstore.Holding, bool, error) {
	if t == nil {
		return ledgerstore.Holding{}, false, fmt.Errorf("ledger store: nil transaction")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	args := pgx.NamedArgs{
		"account_id": strings.TrimSpace(accountID),
		"symbol":     symbol,
	}
	var shares int64
	if err := t.tx.QueryRow(ctx, holdingSelectSQL, args).Scan(&shares); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledgerstore.Holding{}, false, nil
		}
		return ledgerstore.Holding{}, false, storeFailure("read_holding", err)
	}
	return ledgerstore.Holding{AccountID: accountID, Symbol: symbol, Shares: shares}, true, nil
}

func (t *ledgerTx) SetCash(ctx context.Context, accountID string, cash decimal.Decimal) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	encoded, err := numericFromDecimal(cash)
	if err != nil {
		return fmt.Errorf("ledger store: encode cash: %w", err)
	}
	args := pgx.NamedArgs{
		"id":   strings.TrimSpace(accountID),
		"cash": encoded,
	}
	if _, err := t.tx.Exec(ctx, cashUpdateSQL, args); err != nil {
		return storeFailure("set_cash", err)
	}
	return nil
}

func (t *ledgerTx) UpsertHolding(ctx context.Context, holding ledgerstore.Holding) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	args := pgx.NamedArgs{
		"account_id": strings.TrimSpace(holding.AccountID),
		"symbol":     strings.ToUpper(strings.TrimSpace(holding.Symbol)),
		"shares":     holding.Shares,
	}
	if _, err := t.tx.Exec(ctx, holdingUpsertSQL, args); err != nil {
		return storeFailure("upsert_holding", err)
	}
	return nil
}

func (t *ledgerTx) DeleteHolding(ctx context.Context, accountID, symbol string) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	args := pgx.NamedArgs{
		"account_id": strings.TrimSpace(accountID),
		"symbol":     strings.ToUpper(strings.TrimSpace(symbol)),
	}
	if _, err := t.tx.Exec(ctx, holdingDeleteSQL, args); err != nil {
		return storeFailure("delete_holding", err)
	}
	return nil
}

func (t *ledgerTx) AppendTrade(ctx context.Context, trade ledgerstore.Trade) error {
	if t == nil {
		return fmt.Errorf("ledger store: nil transaction")
	}
	if strings.TrimSpace(trade.ID) == "" {
		trade.ID = uuid.NewString()
	}
	price, err := numericFromDecimal(trade.Price)
	if err != nil {
		return fmt.Errorf("ledger store: encode price: %w", err)
	}
	executedAt := trade.ExecutedAt
	if executedAt.IsZero() {
		executedAt = t.store.clock().UTC()
	}
	args := pgx.NamedArgs{
		"id":          trade.ID,
		"account_id":  strings.TrimSpace(trade.AccountID),
		"symbol":      strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		"share_delta": trade.ShareDelta,
		"price":       price,
		"executed_at": executedAt,
	}
	if _, err := t.tx.Exec(ctx, tradeInsertSQL, args); err != nil {
		return storeFailure("append_trade", err)
	}
	return nil
}

func scanAccount(ctx context.Context, q querier, sql, id string) (ledgerstore.Account, error) {
	args := pgx.NamedArgs{"id": strings.TrimSpace(id)}
	var (
		accountID string
		cashText  string
		createdAt time.Time
	)
	if err := q.QueryRow(ctx, sql, args).Scan(&accountID, &cashText, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledgerstore.Account{}, errs.New("ledger", errs.CodeNotFound,
				errs.WithAccount(id),
				errs.WithMessage("account not found"))
		}
		return ledgerstore.Account{}, storeFailure("read_account", err)
	}
	cash, err := decimal.NewFromString(cashText)
	if err != nil {
		return ledgerstore.Account{}, fmt.Errorf("ledger store: decode cash %q: %w", cashText, err)
	}
	return ledgerstore.Account{ID: accountID, Cash: cash, CreatedAt: createdAt}, nil
}

// storeFailure classifies an infrastructure error: serialization failures
// and deadlocks surface as retryable conflicts, everything else as a store
// availability problem. Neither leaves partial effects thanks to the
// surrounding transaction.
func storeFailure(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errs.New(op, errs.CodeConflict, errs.WithCause(err))
		}
	}
	return errs.New(op, errs.CodeStoreUnavailable, errs.WithCause(err))
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}
