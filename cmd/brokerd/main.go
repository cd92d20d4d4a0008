// Command brokerd launches the portfolio ledger service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/MohGumaa/finance/internal/adapters/fake"
	"github.com/MohGumaa/finance/internal/adapters/stockapi"
	"github.com/MohGumaa/finance/internal/domain/ledgerstore"
	"github.com/MohGumaa/finance/internal/domain/quote"
	"github.com/MohGumaa/finance/internal/infra/config"
	"github.com/MohGumaa/finance/internal/infra/persistence/memory"
	"github.com/MohGumaa/finance/internal/infra/persistence/migrations"
	"github.com/MohGumaa/finance/internal/infra/persistence/postgres"
	httpserver "github.com/MohGumaa/finance/internal/infra/server/http"
	"github.com/MohGumaa/finance/internal/infra/telemetry"
	"github.com/MohGumaa/finance/internal/portfolio"
)

const (
	defaultConfigPath        = "config/app.yaml"
	brokerLoggerPrefix       = "brokerd "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newBrokerLogger()

	appCfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, addr=%s", appCfg.Environment, appCfg.Server.Addr)

	telemetryShutdown, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, pool, err := buildLedgerStore(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("initialise ledger store: %v", err)
	}

	oracle := buildOracle(logger, appCfg.Oracle)
	engine := portfolio.NewEngine(store, oracle, nil)

	apiServer := buildAPIServer(appCfg, engine, store, oracle)

	var lifecycle conc.WaitGroup
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("ledger API listening on %s", apiServer.Addr)

	logger.Print("brokerd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:            apiServer,
		mainCancel:        cancel,
		lifecycle:         &lifecycle,
		pool:              pool,
		telemetryShutdown: telemetryShutdown,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", defaultConfigPath, fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newBrokerLogger() *log.Logger {
	return log.New(os.Stdout, brokerLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (func(context.Context) error, error) {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: appCfg.Telemetry.OTLPEndpoint,
		ServiceName:  appCfg.Telemetry.ServiceName,
		Environment:  string(appCfg.Environment),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if strings.TrimSpace(appCfg.Telemetry.OTLPEndpoint) != "" {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", appCfg.Telemetry.OTLPEndpoint, appCfg.Telemetry.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return shutdown, nil
}

// buildLedgerStore selects Postgres when a DSN is configured and the
// in-memory ledger otherwise. Migrations run before the pool is handed out.
func buildLedgerStore(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (ledgerstore.Store, *pgxpool.Pool, error) {
	dsn := strings.TrimSpace(appCfg.Database.DSN)
	if dsn == "" {
		logger.Print("no database DSN configured, using in-memory ledger store")
		return memory.NewLedgerStore(nil), nil, nil
	}

	if err := migrations.Apply(ctx, dsn, appCfg.Database.MigrationsPath, logger); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	postgres.ObservePoolMetrics(pool, "ledger")

	store := postgres.New(pool, nil)
	logger.Print("postgres ledger store initialised")
	return store.Ledger, pool, nil
}

// buildOracle selects the upstream quote API when a base URL is configured
// and the deterministic fake table otherwise.
func buildOracle(logger *log.Logger, cfg config.OracleConfig) quote.Oracle {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		logger.Print("no oracle base URL configured, using built-in quote table")
		return fake.NewOracle(fake.DefaultTable()...)
	}
	client, err := stockapi.NewClient(stockapi.Config{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		Timeout:           cfg.Timeout.Std(),
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		logger.Fatalf("initialise quote client: %v", err)
	}
	logger.Printf("quote oracle initialised: url=%s", cfg.BaseURL)
	return client
}

func buildAPIServer(appCfg config.AppConfig, engine *portfolio.Engine, store ledgerstore.Store, oracle quote.Oracle) *http.Server {
	handler := httpserver.NewHandler(appCfg.Environment, engine, store, oracle, appCfg.Ledger.StartingCash.Decimal)
	return &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("ledger server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server            *http.Server
	mainCancel        context.CancelFunc
	lifecycle         *conc.WaitGroup
	pool              *pgxpool.Pool
	telemetryShutdown func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping ledger server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.pool != nil {
		shutdownStep("closing connection pool", serverShutdownTimeout, func(context.Context) error {
			cfg.pool.Close()
			return nil
		})
	}

	if cfg.telemetryShutdown != nil {
		shutdownStep("flushing telemetry", telemetryShutdownTimeout, cfg.telemetryShutdown)
	}
}
