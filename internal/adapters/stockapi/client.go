// Package stockapi implements the price-oracle contract over a REST quote API.
package stockapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/MohGumaa/finance/errs"
	"github.com/MohGumaa/finance/internal/domain/quote"
)

const (
	opLookup = "quote_lookup"

	defaultTimeout     = 10 * time.Second
	defaultRate        = 8 // requests per second
	defaultMaxAttempts = 4
	maxResponseBytes   = 1 << 20 // 1 MiB
)

// Config describes the upstream quote endpoint.
type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxAttempts       int
}

// Client looks up live quotes over HTTP. Requests are throttled client-side
// and transient failures are retried with exponential backoff.
type Client struct {
	baseURL     *url.URL
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
}

// NewClient constructs a quote client for the configured endpoint.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("stockapi: base URL required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("stockapi: parse base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRate
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Client{
		baseURL:     parsed,
		token:       strings.TrimSpace(cfg.Token),
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxAttempts: attempts,
	}, nil
}

type quotePayload struct {
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Lookup fetches the current quote for symbol. Unknown symbols surface as an
// unknown_symbol failure; transport and upstream 5xx failures are retried
// before being reported as a transient infrastructure error.
func (c *Client) Lookup(ctx context.Context, symbol string) (quote.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return quote.Quote{}, errs.New(opLookup, errs.CodeUnknownSymbol,
			errs.WithMessage("symbol required"))
	}

	backoffCfg := backoff.NewExponentialBackOff()
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return quote.Quote{}, errs.New(opLookup, errs.CodeStoreUnavailable,
				errs.WithSymbol(symbol),
				errs.WithCause(err))
		}

		quoted, retryable, err := c.fetch(ctx, symbol)
		if err == nil {
			return quoted, nil
		}
		if !retryable {
			return quote.Quote{}, err
		}
		lastErr = err

		sleep := backoffCfg.NextBackOff()
		select {
		case <-ctx.Done():
			return quote.Quote{}, errs.New(opLookup, errs.CodeStoreUnavailable,
				errs.WithSymbol(symbol),
				errs.WithCause(ctx.Err()))
		case <-time.After(sleep):
		}
	}
	return quote.Quote{}, lastErr
}

func (c *Client) fetch(ctx context.Context, symbol string) (quote.Quote, bool, error) {
	endpoint := c.baseURL.JoinPath("quote", symbol)
	if c.token != "" {
		values := endpoint.Query()
		values.Set("token", c.token)
		endpoint.RawQuery = values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("stockapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return quote.Quote{}, true, errs.New(opLookup, errs.CodeStoreUnavailable,
			errs.WithSymbol(symbol),
			errs.WithCause(err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return quote.Quote{}, false, errs.New(opLookup, errs.CodeUnknownSymbol,
			errs.WithSymbol(symbol),
			errs.WithMessage("oracle does not resolve symbol"))
	case resp.StatusCode >= 500:
		return quote.Quote{}, true, errs.New(opLookup, errs.CodeStoreUnavailable,
			errs.WithSymbol(symbol),
			errs.WithMessage(fmt.Sprintf("oracle returned status %d", resp.StatusCode)))
	default:
		return quote.Quote{}, false, errs.New(opLookup, errs.CodeUnknown,
			errs.WithSymbol(symbol),
			errs.WithMessage(fmt.Sprintf("oracle returned status %d", resp.StatusCode)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return quote.Quote{}, true, errs.New(opLookup, errs.CodeStoreUnavailable,
			errs.WithSymbol(symbol),
			errs.WithCause(err))
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return quote.Quote{}, false, errs.New(opLookup, errs.CodeUnknown,
			errs.WithSymbol(symbol),
			errs.WithMessage("decode quote payload"),
			errs.WithCause(err))
	}
	if payload.Price.Sign() <= 0 {
		return quote.Quote{}, false, errs.New(opLookup, errs.CodeIntegrity,
			errs.WithSymbol(symbol),
			errs.WithMessage(fmt.Sprintf("oracle returned non-positive price %s", payload.Price)))
	}
	resolved := strings.ToUpper(strings.TrimSpace(payload.Symbol))
	if resolved == "" {
		resolved = symbol
	}
	return quote.Quote{Name: payload.Name, Symbol: resolved, Price: payload.Price}, false, nil
}
