// Package errs provides structured error types shared across the finance services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category in the trade taxonomy.
type Code string

const (
	// CodeInvalidQuantity indicates a non-positive or non-integer share quantity.
	CodeInvalidQuantity Code = "invalid_quantity"
	// CodeUnknownSymbol indicates the price oracle cannot resolve the symbol.
	CodeUnknownSymbol Code = "unknown_symbol"
	// CodeInsufficientFunds indicates the account cash cannot cover the purchase.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeInsufficientShares indicates the holding cannot cover the sale.
	CodeInsufficientShares Code = "insufficient_shares"
	// CodeStoreUnavailable indicates a ledger store infrastructure failure.
	CodeStoreUnavailable Code = "store_unavailable"
	// CodeConflict indicates a transaction conflict that is safe to retry.
	CodeConflict Code = "conflict"
	// CodeIntegrity indicates ledger/oracle drift, e.g. a persisted holding
	// whose symbol the oracle no longer resolves.
	CodeIntegrity Code = "integrity"
	// CodeNotFound indicates a missing resource such as an unknown account.
	CodeNotFound Code = "not_found"
	// CodeUnknown captures uncategorized failures.
	CodeUnknown Code = "unknown"
)

// E captures structured error information produced across the ledger stack.
type E struct {
	Op      string
	Code    Code
	Account string
	Symbol  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and failure code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Account: "",
		Symbol:  "",
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithAccount records the account the failed operation targeted.
func WithAccount(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.Account = trimmed
	}
}

// WithSymbol records the instrument symbol involved in the failure.
func WithSymbol(symbol string) Option {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	return func(e *E) {
		e.Symbol = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = string(CodeUnknown)
	}
	parts = append(parts, "code="+code)

	if e.Account != "" {
		parts = append(parts, "account="+e.Account)
	}
	if e.Symbol != "" {
		parts = append(parts, "symbol="+e.Symbol)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure code from err, walking the wrap chain.
// Errors outside the taxonomy report CodeUnknown.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		if strings.TrimSpace(string(envelope.Code)) == "" {
			return CodeUnknown
		}
		return envelope.Code
	}
	return CodeUnknown
}

// Retryable reports whether the failure is transient and the operation may
// be replayed without risk of partial effects.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}
