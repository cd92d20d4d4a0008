package persistence_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/adapters/fake"
	"github.com/MohGumaa/finance/internal/domain/ledgerstore"
	"github.com/MohGumaa/finance/internal/domain/quote"
	pgstore "github.com/MohGumaa/finance/internal/infra/persistence/postgres"
	"github.com/MohGumaa/finance/internal/portfolio"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "finance"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/finance?sslmode=disable", host, port.Port())

	if err := applyMigrations(dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func applyMigrations(dsn string) error {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("runtime caller lookup failed")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
	migrationsDir := filepath.Join(root, "db", "migrations")
	sourceURL := fmt.Sprintf("file://%s", migrationsDir)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func newLedger(t *testing.T) *pgstore.LedgerStore {
	t.Helper()
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	return pgstore.NewLedgerStore(testPool, nil)
}

func TestPostgresLedgerLifecycle(t *testing.T) {
	store := newLedger(t)
	ctx := context.Background()

	account, err := store.CreateAccount(ctx, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if account.ID == "" {
		t.Fatal("account id empty")
	}
	if !account.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("cash = %s, want 10000", account.Cash)
	}

	fetched, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !fetched.Cash.Equal(account.Cash) {
		t.Fatalf("fetched cash = %s, want %s", fetched.Cash, account.Cash)
	}

	if _, err := store.GetAccount(ctx, "00000000-0000-0000-0000-000000000000"); errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("unknown account code = %s, want not_found", errs.CodeOf(err))
	}
}

func TestPostgresBuySellCycle(t *testing.T) {
	store := newLedger(t)
	ctx := context.Background()

	oracle := fake.NewOracle(quote.Quote{Name: "Apple Inc", Symbol: "AAPL", Price: decimal.NewFromInt(10)})
	engine := portfolio.NewEngine(store, oracle, nil)

	account, err := store.CreateAccount(ctx, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := engine.Buy(ctx, account.ID, "AAPL", 100); err != nil {
		t.Fatalf("buy entire balance: %v", err)
	}
	if _, err := engine.Buy(ctx, account.ID, "AAPL", 1); errs.CodeOf(err) != errs.CodeInsufficientFunds {
		t.Fatalf("overdraft buy code = %s, want insufficient_funds", errs.CodeOf(err))
	}

	if _, err := engine.Sell(ctx, account.ID, "AAPL", 101); errs.CodeOf(err) != errs.CodeInsufficientShares {
		t.Fatalf("oversell code = %s, want insufficient_shares", errs.CodeOf(err))
	}
	if _, err := engine.Sell(ctx, account.ID, "AAPL", 100); err != nil {
		t.Fatalf("sell out: %v", err)
	}

	holdings, err := store.ListHoldings(ctx, account.ID)
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	if len(holdings) != 0 {
		t.Fatalf("holdings = %+v, want the row removed after selling out", holdings)
	}

	final, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !final.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("cash after round trip = %s, want 1000", final.Cash)
	}

	trades, err := store.ListTrades(ctx, ledgerstore.TradeQuery{AccountID: account.ID})
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].ShareDelta != -100 {
		t.Fatalf("most recent trade delta = %d, want -100", trades[0].ShareDelta)
	}

	var sum int64
	for _, trade := range trades {
		sum += trade.ShareDelta
	}
	if sum != 0 {
		t.Fatalf("trade delta sum = %d, want 0 after round trip", sum)
	}
}

func TestPostgresRejectedTradeLeavesNoTrace(t *testing.T) {
	store := newLedger(t)
	ctx := context.Background()

	oracle := fake.NewOracle(quote.Quote{Name: "Apple Inc", Symbol: "AAPL", Price: decimal.NewFromInt(10)})
	engine := portfolio.NewEngine(store, oracle, nil)

	account, err := store.CreateAccount(ctx, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := engine.Buy(ctx, account.ID, "AAPL", 6); errs.CodeOf(err) != errs.CodeInsufficientFunds {
		t.Fatalf("code = %s, want insufficient_funds", errs.CodeOf(err))
	}

	after, err := store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !after.Cash.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("cash = %s, want untouched 50", after.Cash)
	}
	trades, err := store.ListTrades(ctx, ledgerstore.TradeQuery{AccountID: account.ID})
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("trades = %+v, want none", trades)
	}
}

func TestPostgresConcurrentOversell(t *testing.T) {
	store := newLedger(t)
	ctx := context.Background()

	oracle := fake.NewOracle(quote.Quote{Name: "Apple Inc", Symbol: "AAPL", Price: decimal.NewFromInt(10)})
	engine := portfolio.NewEngine(store, oracle, nil)

	account, err := store.CreateAccount(ctx, decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := engine.Buy(ctx, account.ID, "AAPL", 50); err != nil {
		t.Fatalf("buy: %v", err)
	}

	const attempts = 6
	results := make(chan error, attempts)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			_, err := engine.Sell(ctx, account.ID, "AAPL", 50)
			results <- err
		}()
	}
	start.Done()

	succeeded := 0
	for i := 0; i < attempts; i++ {
		err := <-results
		if err == nil {
			succeeded++
			continue
		}
		if code := errs.CodeOf(err); code != errs.CodeInsufficientShares {
			t.Fatalf("unexpected failure code %s: %v", code, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("successful sells = %d, want exactly 1", succeeded)
	}

	holdings, err := store.ListHoldings(ctx, account.ID)
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	if len(holdings) != 0 {
		t.Fatalf("holdings = %+v, want none", holdings)
	}
}

func TestPostgresTradeFilterAndLimit(t *testing.T) {
	store := newLedger(t)
	ctx := context.Background()

	oracle := fake.NewOracle(
		quote.Quote{Name: "Apple Inc", Symbol: "AAPL", Price: decimal.NewFromInt(1)},
		quote.Quote{Name: "Netflix Inc", Symbol: "NFLX", Price: decimal.NewFromInt(2)},
	)
	engine := portfolio.NewEngine(store, oracle, nil)

	account, err := store.CreateAccount(ctx, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	for _, symbol := range []string{"AAPL", "NFLX", "AAPL"} {
		if _, err := engine.Buy(ctx, account.ID, symbol, 1); err != nil {
			t.Fatalf("buy %s: %v", symbol, err)
		}
	}

	trades, err := store.ListTrades(ctx, ledgerstore.TradeQuery{AccountID: account.ID, Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("AAPL trades = %d, want 2", len(trades))
	}

	trades, err = store.ListTrades(ctx, ledgerstore.TradeQuery{AccountID: account.ID, Limit: 1})
	if err != nil {
		t.Fatalf("list trades limited: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("limited trades = %d, want 1", len(trades))
	}
}
