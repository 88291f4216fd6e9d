// Package opennode implements the OpenNode REST Lightning backend.
// OpenNode pays invoices through withdrawals and never exposes a
// settlement preimage; callers get the withdrawal id instead.
package opennode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

// Client is the OpenNode backend. It implements wallet.Backend and
// wallet.InvoiceIssuer.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds an OpenNode client. An empty apiKey yields an
// unconfigured backend.
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.opennode.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, http: httpClient, logger: logger}
}

// Name implements wallet.Backend.
func (c *Client) Name() string { return "opennode" }

// IsConfigured implements wallet.Backend.
func (c *Client) IsConfigured() bool { return c.apiKey != "" }

// PayInvoice pays a BOLT11 invoice as a Lightning withdrawal.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult {
	if !c.IsConfigured() {
		return wallet.Failed(wallet.CodeNotConfigured, "opennode api key not configured")
	}

	var out struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v2/withdrawals",
		map[string]string{"type": "ln", "address": bolt11}, &out)
	if err != nil {
		return wallet.Failed(wallet.CodePaymentFailed, fmt.Sprintf("create withdrawal: %v", err))
	}
	if out.Data.Status == "failed" {
		return wallet.Failed(wallet.CodePaymentFailed, "withdrawal failed")
	}

	return wallet.PaymentResult{
		Success:    true,
		TrackingID: out.Data.ID,
		Warning:    "opennode does not return a payment preimage",
	}
}

// GetBalance implements wallet.Backend.
func (c *Client) GetBalance(ctx context.Context) (wallet.BalanceInfo, error) {
	if !c.IsConfigured() {
		return wallet.BalanceInfo{}, wallet.ErrNotConfigured
	}

	var out struct {
		Data struct {
			Balance struct {
				BTC int64 `json:"BTC"` // sats
			} `json:"balance"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/account/balance", nil, &out); err != nil {
		return wallet.BalanceInfo{}, fmt.Errorf("fetch balance: %w", err)
	}
	return wallet.BalanceInfo{BalanceMsat: out.Data.Balance.BTC * 1000}, nil
}

// CreateInvoice implements wallet.InvoiceIssuer through a charge.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (wallet.Invoice, error) {
	if !c.IsConfigured() {
		return wallet.Invoice{}, wallet.ErrNotConfigured
	}

	body := map[string]any{
		"amount":      amountSats,
		"currency":    "BTC",
		"description": memo,
	}
	if expiry > 0 {
		body["ttl"] = int64(expiry.Minutes())
	}

	var out struct {
		Data struct {
			ID               string `json:"id"`
			LightningInvoice struct {
				Payreq    string `json:"payreq"`
				ExpiresAt int64  `json:"expires_at"`
			} `json:"lightning_invoice"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/charges", body, &out); err != nil {
		return wallet.Invoice{}, fmt.Errorf("create charge: %w", err)
	}

	inv := wallet.Invoice{
		ID:         out.Data.ID,
		Bolt11:     out.Data.LightningInvoice.Payreq,
		AmountSats: amountSats,
		Memo:       memo,
	}
	if out.Data.LightningInvoice.ExpiresAt > 0 {
		inv.ExpiresAt = time.Unix(out.Data.LightningInvoice.ExpiresAt, 0).UTC()
	}
	return inv, nil
}

// GetInvoiceStatus implements wallet.InvoiceIssuer.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (wallet.InvoiceStatus, error) {
	if !c.IsConfigured() {
		return wallet.InvoiceStatus{}, wallet.ErrNotConfigured
	}

	var out struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/charge/"+invoiceID, nil, &out); err != nil {
		return wallet.InvoiceStatus{}, fmt.Errorf("fetch charge: %w", err)
	}
	return wallet.InvoiceStatus{
		ID:    invoiceID,
		Paid:  out.Data.Status == "paid",
		State: out.Data.Status,
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

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.apiKey)
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
			return fmt.Errorf("opennode: %s (%d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("opennode: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
