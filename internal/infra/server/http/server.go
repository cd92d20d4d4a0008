// Package httpserver exposes the JSON API for accounts, quotes, and trades.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/domain/ledgerstore"
	"github.com/MohGumaa/finance/internal/domain/quote"
	"github.com/MohGumaa/finance/internal/infra/config"
	"github.com/MohGumaa/finance/internal/portfolio"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	accountsPath        = "/accounts"
	accountDetailPrefix = accountsPath + "/"

	quoteDetailPrefix = "/quotes/"

	healthPath      = "/healthz"
	swaggerSpecPath = "/docs/openapi.json"
	swaggerUIPath   = "/docs"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	environment  config.Environment
	engine       *portfolio.Engine
	store        ledgerstore.Store
	oracle       quote.Oracle
	startingCash decimal.Decimal
}

type tradeRequest struct {
	Symbol string `json:"symbol"`
	Shares int64  `json:"shares"`
}

// NewHandler creates the HTTP handler serving the ledger API.
func NewHandler(environment config.Environment, engine *portfolio.Engine, store ledgerstore.Store, oracle quote.Oracle, startingCash decimal.Decimal) http.Handler {
	server := &httpServer{
		environment:  environment,
		engine:       engine,
		store:        store,
		oracle:       oracle,
		startingCash: startingCash,
	}
	mux := http.NewServeMux()

	mux.Handle(accountsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.createAccount,
	}))
	mux.Handle(accountDetailPrefix, http.HandlerFunc(server.handleAccount))
	mux.Handle(quoteDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getQuote,
	}))
	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))

	if environment == config.EnvDev {
		mux.Handle(swaggerSpecPath, http.HandlerFunc(server.serveSwaggerSpec))
		mux.Handle(swaggerUIPath, http.HandlerFunc(server.serveSwaggerUI))
	}

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) createAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.CreateAccount(r.Context(), s.startingCash)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *httpServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, accountDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "account id required")
		return
	}

	id, action, hasAction := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusNotFound, "account id required")
		return
	}

	if !hasAction {
		s.handleAccountResource(w, r, id)
		return
	}

	action = strings.TrimSpace(action)
	s.handleAccountAction(w, r, id, action)
}

func (s *httpServer) handleAccountResource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *httpServer) handleAccountAction(w http.ResponseWriter, r *http.Request, id, action string) {
	switch action {
	case "portfolio":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getPortfolio(w, r, id)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.getHistory(w, r, id)
	case "buy":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.executeTrade(w, r, id, s.engine.Buy)
	case "sell":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.executeTrade(w, r, id, s.engine.Sell)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

func (s *httpServer) getPortfolio(w http.ResponseWriter, r *http.Request, id string) {
	statement, err := s.engine.Value(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (s *httpServer) getHistory(w http.ResponseWriter, r *http.Request, id string) {
	query := ledgerstore.TradeQuery{AccountID: id}
	if symbol := strings.TrimSpace(r.URL.Query().Get("symbol")); symbol != "" {
		query.Symbol = symbol
	}
	trades, err := s.store.ListTrades(r.Context(), query)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *httpServer) executeTrade(w http.ResponseWriter, r *http.Request, id string, execute func(ctx context.Context, accountID, symbol string, quantity int64) (ledgerstore.Trade, error)) {
	limitRequestBody(w, r)
	payload, err := decodeTradeRequest(r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(payload.Symbol) == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	trade, err := execute(r.Context(), id, payload.Symbol, payload.Shares)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

func (s *httpServer) getQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.Trim(strings.TrimPrefix(r.URL.Path, quoteDetailPrefix), "/")
	if symbol == "" {
		writeError(w, http.StatusNotFound, "symbol required")
		return
	}
	quoted, err := s.oracle.Lookup(r.Context(), symbol)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeUnknownSymbol {
			writeCodedError(w, http.StatusNotFound, errs.CodeUnknownSymbol, err.Error())
			return
		}
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoted)
}

// writeLedgerError maps typed ledger failures onto HTTP statuses. A rejected
// trade reads as a client error; infrastructure trouble reads as retryable.
func (s *httpServer) writeLedgerError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	writeCodedError(w, statusForCode(code), code, err.Error())
}

func statusForCode(code errs.Code) int {
	switch code {
	case errs.CodeInvalidQuantity, errs.CodeUnknownSymbol:
		return http.StatusBadRequest
	case errs.CodeInsufficientFunds, errs.CodeInsufficientShares:
		return http.StatusUnprocessableEntity
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeConflict:
		return http.StatusConflict
	case errs.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeTradeRequest(r *http.Request) (tradeRequest, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var payload tradeRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func writeCodedError(w http.ResponseWriter, status int, code errs.Code, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "code": string(code), "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
