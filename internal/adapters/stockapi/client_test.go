package stockapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MohGumaa/finance/errs"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:           baseURL,
		Token:             "test-token",
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		MaxAttempts:       3,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestLookupSuccess(t *testing.T) {
	var gotPath, gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Apple Inc","symbol":"AAPL","price":"227.52"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	quoted, err := client.Lookup(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if gotPath != "/quote/AAPL" {
		t.Fatalf("path = %q, want /quote/AAPL", gotPath)
	}
	if gotToken != "test-token" {
		t.Fatalf("token = %q, want test-token", gotToken)
	}
	if quoted.Symbol != "AAPL" || quoted.Name != "Apple Inc" {
		t.Fatalf("quote = %+v", quoted)
	}
	if !quoted.Price.Equal(decimal.RequireFromString("227.52")) {
		t.Fatalf("price = %s, want 227.52", quoted.Price)
	}
}

func TestLookupUnknownSymbolDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Lookup(context.Background(), "ZZZZ")
	if errs.CodeOf(err) != errs.CodeUnknownSymbol {
		t.Fatalf("code = %s, want unknown_symbol", errs.CodeOf(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 (404 must not retry)", calls.Load())
	}
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Apple Inc","symbol":"AAPL","price":"10"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	quoted, err := client.Lookup(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("lookup after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if !quoted.Price.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("price = %s, want 10", quoted.Price)
	}
}

func TestLookupExhaustedRetriesReportUnavailable(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Lookup(context.Background(), "AAPL")
	if errs.CodeOf(err) != errs.CodeStoreUnavailable {
		t.Fatalf("code = %s, want store_unavailable", errs.CodeOf(err))
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want maxAttempts=3", calls.Load())
	}
}

func TestLookupRejectsNonPositivePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Apple Inc","symbol":"AAPL","price":"0"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Lookup(context.Background(), "AAPL")
	if errs.CodeOf(err) != errs.CodeIntegrity {
		t.Fatalf("code = %s, want integrity", errs.CodeOf(err))
	}
}

func TestLookupRejectsEmptySymbol(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	_, err := client.Lookup(context.Background(), "  ")
	if errs.CodeOf(err) != errs.CodeUnknownSymbol {
		t.Fatalf("code = %s, want unknown_symbol", errs.CodeOf(err))
	}
}
