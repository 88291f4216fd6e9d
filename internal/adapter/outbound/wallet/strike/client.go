// Package strike implements the Strike REST Lightning backend. Strike
// executes payments through a quote-then-execute flow and exposes
// multi-currency balances, rates, and in-account currency exchange.
package strike

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

// Client is the Strike backend. It implements wallet.Backend,
// wallet.InvoiceIssuer, wallet.Ticker, wallet.MultiCurrency, and
// wallet.Exchanger.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a Strike client. An empty apiKey yields an
// unconfigured backend.
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.strike.me"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, http: httpClient, logger: logger}
}

// Name implements wallet.Backend.
func (c *Client) Name() string { return "strike" }

// IsConfigured implements wallet.Backend.
func (c *Client) IsConfigured() bool { return c.apiKey != "" }

// PayInvoice pays a BOLT11 invoice: create a payment quote, then execute
// it. Strike does not return a settlement preimage, so the payment id is
// reported as the tracking id with a warning.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult {
	if !c.IsConfigured() {
		return wallet.Failed(wallet.CodeNotConfigured, "strike api key not configured")
	}

	var quote struct {
		PaymentQuoteID string `json:"paymentQuoteId"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/payment-quotes/lightning",
		map[string]any{"lnInvoice": bolt11, "sourceCurrency": "BTC"}, &quote)
	if err != nil {
		return wallet.Failed(wallet.CodeAPIError, fmt.Sprintf("create payment quote: %v", err))
	}
	if quote.PaymentQuoteID == "" {
		return wallet.Failed(wallet.CodeAPIError, "payment quote response carried no id")
	}

	var executed struct {
		PaymentID string `json:"paymentId"`
		State     string `json:"state"`
	}
	err = c.doJSON(ctx, http.MethodPatch,
		"/v1/payment-quotes/"+quote.PaymentQuoteID+"/execute", nil, &executed)
	if err != nil {
		return wallet.Failed(wallet.CodePaymentFailed, fmt.Sprintf("execute payment quote: %v", err))
	}
	if executed.State != "COMPLETED" && executed.State != "PENDING" {
		return wallet.Failed(wallet.CodePaymentFailed, fmt.Sprintf("payment state %s", executed.State))
	}

	return wallet.PaymentResult{
		Success:    true,
		TrackingID: executed.PaymentID,
		Warning:    "strike does not return a payment preimage",
	}
}

// GetBalance implements wallet.Backend, reporting the BTC balance.
func (c *Client) GetBalance(ctx context.Context) (wallet.BalanceInfo, error) {
	if !c.IsConfigured() {
		return wallet.BalanceInfo{}, wallet.ErrNotConfigured
	}

	balances, err := c.GetAllBalances(ctx)
	if err != nil {
		return wallet.BalanceInfo{}, err
	}
	for _, b := range balances {
		if b.Currency == "BTC" {
			return wallet.BalanceInfo{BalanceMsat: int64(b.Available * 100_000_000 * 1000)}, nil
		}
	}
	return wallet.BalanceInfo{}, nil
}

// GetAllBalances implements wallet.MultiCurrency.
func (c *Client) GetAllBalances(ctx context.Context) ([]wallet.CurrencyBalance, error) {
	if !c.IsConfigured() {
		return nil, wallet.ErrNotConfigured
	}

	var out []struct {
		Currency  string      `json:"currency"`
		Current   json.Number `json:"current"`
		Available json.Number `json:"available"`
		Pending   json.Number `json:"pending"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/balances", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	balances := make([]wallet.CurrencyBalance, 0, len(out))
	for _, b := range out {
		available, _ := b.Available.Float64()
		total, _ := b.Current.Float64()
		pending, _ := b.Pending.Float64()
		balances = append(balances, wallet.CurrencyBalance{
			Currency:  b.Currency,
			Available: available,
			Total:     total,
			Pending:   pending,
		})
	}
	return balances, nil
}

// GetTicker implements wallet.Ticker, returning the BTC/USD rate.
func (c *Client) GetTicker(ctx context.Context) (float64, error) {
	if !c.IsConfigured() {
		return 0, wallet.ErrNotConfigured
	}

	var rates []struct {
		Amount         json.Number `json:"amount"`
		SourceCurrency string      `json:"sourceCurrency"`
		TargetCurrency string      `json:"targetCurrency"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/rates/ticker", nil, &rates); err != nil {
		return 0, fmt.Errorf("fetch ticker: %w", err)
	}
	for _, r := range rates {
		if r.SourceCurrency == "BTC" && r.TargetCurrency == "USD" {
			price, err := r.Amount.Float64()
			if err != nil || price <= 0 {
				return 0, fmt.Errorf("bad BTC/USD rate %q", r.Amount)
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("no BTC/USD rate in ticker")
}

// CreateInvoice implements wallet.InvoiceIssuer: create a Strike invoice,
// then request its BOLT11 quote.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (wallet.Invoice, error) {
	if !c.IsConfigured() {
		return wallet.Invoice{}, wallet.ErrNotConfigured
	}

	btcAmount := fmt.Sprintf("%.8f", float64(amountSats)/100_000_000)
	var created struct {
		InvoiceID string `json:"invoiceId"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/invoices", map[string]any{
		"amount":      map[string]string{"amount": btcAmount, "currency": "BTC"},
		"description": memo,
	}, &created)
	if err != nil {
		return wallet.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	var quote struct {
		LnInvoice  string    `json:"lnInvoice"`
		Expiration time.Time `json:"expiration"`
	}
	err = c.doJSON(ctx, http.MethodPost, "/v1/invoices/"+created.InvoiceID+"/quote", nil, &quote)
	if err != nil {
		return wallet.Invoice{}, fmt.Errorf("quote invoice: %w", err)
	}

	return wallet.Invoice{
		ID:         created.InvoiceID,
		Bolt11:     quote.LnInvoice,
		AmountSats: amountSats,
		Memo:       memo,
		ExpiresAt:  quote.Expiration,
	}, nil
}

// GetInvoiceStatus implements wallet.InvoiceIssuer.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (wallet.InvoiceStatus, error) {
	if !c.IsConfigured() {
		return wallet.InvoiceStatus{}, wallet.ErrNotConfigured
	}

	var out struct {
		State string `json:"state"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/invoices/"+invoiceID, nil, &out); err != nil {
		return wallet.InvoiceStatus{}, fmt.Errorf("fetch invoice: %w", err)
	}
	return wallet.InvoiceStatus{
		ID:    invoiceID,
		Paid:  out.State == "PAID",
		State: out.State,
	}, nil
}

// ExchangeCurrency implements wallet.Exchanger through Strike's
// quote-then-execute currency exchange.
func (c *Client) ExchangeCurrency(ctx context.Context, source, target string, amount float64) (wallet.ExchangeResult, error) {
	if !c.IsConfigured() {
		return wallet.ExchangeResult{}, wallet.ErrNotConfigured
	}

	var quote struct {
		ID           string `json:"id"`
		ConversionRate struct {
			Amount json.Number `json:"amount"`
		} `json:"conversionRate"`
		Target struct {
			Amount json.Number `json:"amount"`
		} `json:"target"`
		Fee struct {
			Amount json.Number `json:"amount"`
		} `json:"fee"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/currency-exchange-quotes", map[string]any{
		"sell":   source,
		"buy":    target,
		"amount": map[string]any{"amount": fmt.Sprintf("%f", amount), "currency": source},
	}, &quote)
	if err != nil {
		return wallet.ExchangeResult{}, fmt.Errorf("create exchange quote: %w", err)
	}

	var executed struct {
		State string `json:"state"`
	}
	err = c.doJSON(ctx, http.MethodPatch,
		"/v1/currency-exchange-quotes/"+quote.ID+"/execute", nil, &executed)
	if err != nil {
		return wallet.ExchangeResult{}, fmt.Errorf("execute exchange quote: %w", err)
	}

	rate, _ := quote.ConversionRate.Amount.Float64()
	targetAmount, _ := quote.Target.Amount.Float64()
	fee, _ := quote.Fee.Amount.Float64()
	return wallet.ExchangeResult{
		ExchangeID:     quote.ID,
		SourceCurrency: source,
		TargetCurrency: target,
		SourceAmount:   amount,
		TargetAmount:   targetAmount,
		Rate:           rate,
		Fee:            fee,
		State:          executed.State,
	}, nil
}

// apiError is Strike's error envelope.
type apiError struct {
	Data struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Data.Message != "" {
			return fmt.Errorf("strike %s: %s (%d)", apiErr.Data.Code, apiErr.Data.Message, resp.StatusCode)
		}
		return fmt.Errorf("strike: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
