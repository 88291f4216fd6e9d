// Package wallet defines the capability surface every Lightning backend
// implements, and the result types those capabilities produce. Expected
// failures (backend refused, timeout, unconfigured) travel inside result
// values so callers branch on flags instead of unwrapping errors.
package wallet

import (
	"context"
	"errors"
	"time"
)

// Error codes carried in PaymentResult and friends.
const (
	CodeNotConfigured = "NOT_CONFIGURED"
	CodeNoPreimage    = "NO_PREIMAGE"
	CodeTimeout       = "TIMEOUT"
	CodeRelayError    = "RELAY_ERROR"
	CodePaymentFailed = "PAYMENT_FAILED"
	CodeAPIError      = "API_ERROR"
	CodeUnsupported   = "UNSUPPORTED"
)

// ErrNotConfigured is returned by capabilities that cannot run without
// backend credentials.
var ErrNotConfigured = errors.New("wallet backend not configured")

// ErrUnsupported is returned by optional capabilities a backend does not
// implement.
var ErrUnsupported = errors.New("operation not supported by this wallet backend")

// PaymentResult is the outcome of paying a BOLT11 invoice.
type PaymentResult struct {
	Success bool

	// PreimageHex is the settlement proof, 64 hex characters. Backends that
	// cannot return a preimage (OpenNode) leave it empty and set TrackingID.
	PreimageHex string

	// TrackingID identifies the payment in the backend's own system.
	TrackingID string

	ErrorCode    string
	ErrorMessage string

	// Warning flags a succeeded payment with a suspect preimage (wrong
	// length, not hex). The payment settled, but credential protocols
	// downstream may not work.
	Warning string
}

// Failed builds a failed PaymentResult.
func Failed(code, message string) PaymentResult {
	return PaymentResult{ErrorCode: code, ErrorMessage: message}
}

// BalanceInfo is a spendable Lightning balance.
type BalanceInfo struct {
	BalanceMsat int64
}

// Sats returns the balance in whole satoshis, rounding down.
func (b BalanceInfo) Sats() int64 { return b.BalanceMsat / 1000 }

// Invoice is a created invoice awaiting payment.
type Invoice struct {
	ID         string
	Bolt11     string
	AmountSats int64
	Memo       string
	ExpiresAt  time.Time
}

// InvoiceStatus reports whether a created invoice has settled.
type InvoiceStatus struct {
	ID    string
	Paid  bool
	State string
}

// CurrencyBalance is one currency's balance in a multi-currency account.
type CurrencyBalance struct {
	Currency  string
	Available float64
	Total     float64
	Pending   float64
}

// ExchangeResult is the outcome of an in-wallet currency conversion.
type ExchangeResult struct {
	ExchangeID     string
	SourceCurrency string
	TargetCurrency string
	SourceAmount   float64
	TargetAmount   float64
	Rate           float64
	Fee            float64
	State          string
}

// OnChainResult is the outcome of an on-chain send.
type OnChainResult struct {
	PaymentID  string
	TxID       string
	State      string
	AmountSats int64
	FeeSats    int64
}

// Backend is the core capability surface. Every configured wallet implements
// it; the optional interfaces below are discovered with type assertions.
type Backend interface {
	// Name identifies the backend ("nwc", "strike", "opennode", "lnd").
	Name() string

	// IsConfigured reports whether the backend has usable credentials.
	// An unconfigured backend fails every operation; it never panics.
	IsConfigured() bool

	// PayInvoice pays a BOLT11 invoice. All expected failures are reported
	// through the result, never by panicking; the context bounds the whole
	// exchange.
	PayInvoice(ctx context.Context, bolt11 string) PaymentResult

	// GetBalance returns the spendable balance. It fails loudly (error, not
	// a soft zero) when unconfigured or unreachable: callers must be able to
	// tell "no money" from "couldn't ask".
	GetBalance(ctx context.Context) (BalanceInfo, error)
}

// InvoiceIssuer creates and tracks invoices.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (Invoice, error)
	GetInvoiceStatus(ctx context.Context, invoiceID string) (InvoiceStatus, error)
}

// Ticker exposes the backend's own BTC/USD rate.
type Ticker interface {
	GetTicker(ctx context.Context) (float64, error)
}

// MultiCurrency exposes balances across currencies.
type MultiCurrency interface {
	GetAllBalances(ctx context.Context) ([]CurrencyBalance, error)
}

// Exchanger converts between currencies inside the wallet.
type Exchanger interface {
	ExchangeCurrency(ctx context.Context, source, target string, amount float64) (ExchangeResult, error)
}

// OnChainSender sends an on-chain payment.
type OnChainSender interface {
	SendOnChain(ctx context.Context, address string, amountSats int64) (OnChainResult, error)
}
