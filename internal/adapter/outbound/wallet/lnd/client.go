// Package lnd implements the LND REST Lightning backend against a node's
// REST proxy. Authentication uses a hex-encoded macaroon; self-signed node
// certificates are supported via tlsInsecure.
package lnd

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

// Client is the LND backend. It implements wallet.Backend,
// wallet.InvoiceIssuer, and wallet.OnChainSender.
type Client struct {
	restURL     string
	macaroonHex string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient builds an LND client. Empty restURL or macaroonHex yields an
// unconfigured backend.
func NewClient(restURL, macaroonHex string, tlsInsecure bool, logger *slog.Logger) *Client {
	transport := http.DefaultTransport
	if tlsInsecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		restURL:     restURL,
		macaroonHex: macaroonHex,
		http:        &http.Client{Timeout: 60 * time.Second, Transport: transport},
		logger:      logger,
	}
}

// Name implements wallet.Backend.
func (c *Client) Name() string { return "lnd" }

// IsConfigured implements wallet.Backend.
func (c *Client) IsConfigured() bool { return c.restURL != "" && c.macaroonHex != "" }

// PayInvoice pays a BOLT11 invoice synchronously. LND reports the
// preimage base64-encoded; it is re-encoded to hex.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult {
	if !c.IsConfigured() {
		return wallet.Failed(wallet.CodeNotConfigured, "lnd rest url or macaroon not configured")
	}

	var out struct {
		PaymentError    string `json:"payment_error"`
		PaymentPreimage string `json:"payment_preimage"` // base64
		PaymentHash     string `json:"payment_hash"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/channels/transactions",
		map[string]string{"payment_request": bolt11}, &out)
	if err != nil {
		return wallet.Failed(wallet.CodeAPIError, fmt.Sprintf("send payment: %v", err))
	}
	if out.PaymentError != "" {
		return wallet.Failed(wallet.CodePaymentFailed, out.PaymentError)
	}
	if out.PaymentPreimage == "" {
		return wallet.Failed(wallet.CodeNoPreimage, "payment response carried no preimage")
	}

	raw, err := base64.StdEncoding.DecodeString(out.PaymentPreimage)
	if err != nil {
		c.logger.Warn("undecodable preimage in payment response", "preimage", out.PaymentPreimage)
		return wallet.PaymentResult{
			Success:     true,
			PreimageHex: out.PaymentPreimage,
			TrackingID:  out.PaymentHash,
			Warning:     fmt.Sprintf("preimage is not valid base64: %v", err),
		}
	}
	res := wallet.PaymentResult{
		Success:     true,
		PreimageHex: hex.EncodeToString(raw),
		TrackingID:  out.PaymentHash,
	}
	if len(raw) != 32 {
		res.Warning = fmt.Sprintf("preimage is %d bytes, want 32", len(raw))
	}
	return res
}

// GetBalance implements wallet.Backend using the channel balance.
func (c *Client) GetBalance(ctx context.Context) (wallet.BalanceInfo, error) {
	if !c.IsConfigured() {
		return wallet.BalanceInfo{}, wallet.ErrNotConfigured
	}

	var out struct {
		LocalBalance struct {
			Msat string `json:"msat"`
		} `json:"local_balance"`
		Balance string `json:"balance"` // sats, older field
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/balance/channels", nil, &out); err != nil {
		return wallet.BalanceInfo{}, fmt.Errorf("fetch channel balance: %w", err)
	}

	if out.LocalBalance.Msat != "" {
		msat, err := strconv.ParseInt(out.LocalBalance.Msat, 10, 64)
		if err != nil {
			return wallet.BalanceInfo{}, fmt.Errorf("bad msat balance %q", out.LocalBalance.Msat)
		}
		return wallet.BalanceInfo{BalanceMsat: msat}, nil
	}
	sats, err := strconv.ParseInt(out.Balance, 10, 64)
	if err != nil {
		return wallet.BalanceInfo{}, fmt.Errorf("bad balance %q", out.Balance)
	}
	return wallet.BalanceInfo{BalanceMsat: sats * 1000}, nil
}

// CreateInvoice implements wallet.InvoiceIssuer.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (wallet.Invoice, error) {
	if !c.IsConfigured() {
		return wallet.Invoice{}, wallet.ErrNotConfigured
	}

	body := map[string]any{"value": strconv.FormatInt(amountSats, 10), "memo": memo}
	if expiry > 0 {
		body["expiry"] = strconv.FormatInt(int64(expiry.Seconds()), 10)
	}

	var out struct {
		PaymentRequest string `json:"payment_request"`
		RHash          string `json:"r_hash"` // base64
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/invoices", body, &out); err != nil {
		return wallet.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	id := out.RHash
	if raw, err := base64.StdEncoding.DecodeString(out.RHash); err == nil {
		id = hex.EncodeToString(raw)
	}
	return wallet.Invoice{
		ID:         id,
		Bolt11:     out.PaymentRequest,
		AmountSats: amountSats,
		Memo:       memo,
	}, nil
}

// GetInvoiceStatus implements wallet.InvoiceIssuer. invoiceID is the
// hex payment hash.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (wallet.InvoiceStatus, error) {
	if !c.IsConfigured() {
		return wallet.InvoiceStatus{}, wallet.ErrNotConfigured
	}

	var out struct {
		Settled bool   `json:"settled"`
		State   string `json:"state"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/invoice/"+invoiceID, nil, &out); err != nil {
		return wallet.InvoiceStatus{}, fmt.Errorf("fetch invoice: %w", err)
	}
	return wallet.InvoiceStatus{ID: invoiceID, Paid: out.Settled, State: out.State}, nil
}

// SendOnChain implements wallet.OnChainSender.
func (c *Client) SendOnChain(ctx context.Context, address string, amountSats int64) (wallet.OnChainResult, error) {
	if !c.IsConfigured() {
		return wallet.OnChainResult{}, wallet.ErrNotConfigured
	}

	var out struct {
		Txid string `json:"txid"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/transactions", map[string]any{
		"addr":   address,
		"amount": strconv.FormatInt(amountSats, 10),
	}, &out)
	if err != nil {
		return wallet.OnChainResult{}, fmt.Errorf("send on-chain: %w", err)
	}
	return wallet.OnChainResult{
		PaymentID:  out.Txid,
		TxID:       out.Txid,
		State:      "broadcast",
		AmountSats: amountSats,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.restURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Grpc-Metadata-macaroon", c.macaroonHex)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("lnd: %s (%d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("lnd: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
