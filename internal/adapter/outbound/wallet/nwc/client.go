package nwc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

// Client is the NWC wallet backend. It implements wallet.Backend and
// wallet.InvoiceIssuer.
type Client struct {
	conn    *Connection
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-exchange deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient builds a Client from a pairing URI. An empty URI yields an
// unconfigured client whose operations all fail with
// wallet.ErrNotConfigured.
func NewClient(connectionURI string, logger *slog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		logger:  logger,
		timeout: defaultExchangeTimeout,
		now:     time.Now,
	}
	if connectionURI != "" {
		conn, err := ParseConnectionURI(connectionURI)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements wallet.Backend.
func (c *Client) Name() string { return "nwc" }

// IsConfigured implements wallet.Backend.
func (c *Client) IsConfigured() bool { return c.conn != nil }

// PayInvoice pays a BOLT11 invoice through the wallet service. The
// response must carry a 64-hex-character preimage; a missing preimage
// fails the payment, a malformed one succeeds with a warning since the
// wallet already settled it.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult {
	if c.conn == nil {
		return wallet.Failed(wallet.CodeNotConfigured, "nwc connection URI not configured")
	}

	result, err := c.exchange(ctx, "pay_invoice", map[string]any{"invoice": bolt11})
	if err != nil {
		return payFailure(err)
	}

	var payload struct {
		Preimage string `json:"preimage"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return wallet.Failed(wallet.CodeRelayError, fmt.Sprintf("unparseable pay_invoice result: %v", err))
	}
	if payload.Preimage == "" {
		return wallet.Failed(wallet.CodeNoPreimage, "wallet response carried no preimage")
	}

	res := wallet.PaymentResult{Success: true, PreimageHex: payload.Preimage}
	if !isHex256(payload.Preimage) {
		res.Warning = fmt.Sprintf("preimage is not 64 hex characters: %q", payload.Preimage)
		c.logger.Warn("non-conforming preimage in pay_invoice response", "preimage", payload.Preimage)
	}
	return res
}

// GetBalance implements wallet.Backend.
func (c *Client) GetBalance(ctx context.Context) (wallet.BalanceInfo, error) {
	if c.conn == nil {
		return wallet.BalanceInfo{}, wallet.ErrNotConfigured
	}

	result, err := c.exchange(ctx, "get_balance", map[string]any{})
	if err != nil {
		return wallet.BalanceInfo{}, err
	}

	var payload struct {
		Balance int64 `json:"balance"` // msat
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return wallet.BalanceInfo{}, fmt.Errorf("unparseable get_balance result: %w", err)
	}
	return wallet.BalanceInfo{BalanceMsat: payload.Balance}, nil
}

// CreateInvoice implements wallet.InvoiceIssuer.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (wallet.Invoice, error) {
	if c.conn == nil {
		return wallet.Invoice{}, wallet.ErrNotConfigured
	}

	params := map[string]any{
		"amount":      amountSats * 1000, // msat
		"description": memo,
	}
	if expiry > 0 {
		params["expiry"] = int64(expiry.Seconds())
	}
	result, err := c.exchange(ctx, "make_invoice", params)
	if err != nil {
		return wallet.Invoice{}, err
	}

	var payload struct {
		Invoice     string `json:"invoice"`
		PaymentHash string `json:"payment_hash"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return wallet.Invoice{}, fmt.Errorf("unparseable make_invoice result: %w", err)
	}

	inv := wallet.Invoice{
		ID:         payload.PaymentHash,
		Bolt11:     payload.Invoice,
		AmountSats: amountSats,
		Memo:       memo,
	}
	if payload.ExpiresAt > 0 {
		inv.ExpiresAt = time.Unix(payload.ExpiresAt, 0).UTC()
	}
	return inv, nil
}

// GetInvoiceStatus implements wallet.InvoiceIssuer. invoiceID is the
// payment hash returned by CreateInvoice.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (wallet.InvoiceStatus, error) {
	if c.conn == nil {
		return wallet.InvoiceStatus{}, wallet.ErrNotConfigured
	}

	result, err := c.exchange(ctx, "lookup_invoice", map[string]any{"payment_hash": invoiceID})
	if err != nil {
		return wallet.InvoiceStatus{}, err
	}

	var payload struct {
		SettledAt int64  `json:"settled_at"`
		Preimage  string `json:"preimage"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return wallet.InvoiceStatus{}, fmt.Errorf("unparseable lookup_invoice result: %w", err)
	}

	status := wallet.InvoiceStatus{ID: invoiceID, Paid: payload.SettledAt > 0 || payload.Preimage != ""}
	if status.Paid {
		status.State = "settled"
	} else {
		status.State = "pending"
	}
	return status, nil
}

func payFailure(err error) wallet.PaymentResult {
	var werr *WalletError
	switch {
	case errors.As(err, &werr):
		return wallet.Failed(werr.Code, werr.Message)
	case errors.Is(err, ErrNoMatchingResponse):
		return wallet.Failed(wallet.CodeTimeout, err.Error())
	default:
		return wallet.Failed(wallet.CodeRelayError, err.Error())
	}
}

// isHex256 reports whether s encodes exactly 32 bytes of hex.
func isHex256(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
