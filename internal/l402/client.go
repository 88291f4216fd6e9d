// Package l402 implements the client side of L402 (formerly LSAT)
// payment-gated HTTP resources: parse the 402 challenge, pay its
// invoice, and retry with the macaroon/preimage credential.
package l402

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/lightning-enable/lightning-enable/internal/domain/invoice"
	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

// maxBodyBytes bounds how much of a gated resource is read into memory.
const maxBodyBytes = 4 << 20

var (
	// ErrNoChallenge is returned when a 402 response carries no parseable
	// L402 challenge.
	ErrNoChallenge = errors.New("no L402 challenge in response")

	// ErrAmountExceedsCap is returned when the challenge invoice asks for
	// more than the caller allowed.
	ErrAmountExceedsCap = errors.New("challenge invoice exceeds the sats cap")

	// ErrPaymentFailed is returned when the wallet could not settle the
	// challenge invoice.
	ErrPaymentFailed = errors.New("challenge payment failed")
)

var (
	schemeRe   = regexp.MustCompile(`(?i)^\s*(L402|LSAT)\s+`)
	macaroonRe = regexp.MustCompile(`(?i)macaroon\s*=\s*"([^"]+)"`)
	invoiceRe  = regexp.MustCompile(`(?i)invoice\s*=\s*"([^"]+)"`)
)

// Challenge is a parsed WWW-Authenticate L402 header.
type Challenge struct {
	Scheme   string
	Macaroon string
	Invoice  string
}

// AmountSats decodes the invoice amount. Amountless invoices fail: a
// challenge that does not commit to a price cannot be capped.
func (c Challenge) AmountSats() (int64, error) {
	return invoice.AmountSats(c.Invoice)
}

// ParseChallenge parses a WWW-Authenticate header value.
func ParseChallenge(header string) (Challenge, error) {
	scheme := schemeRe.FindStringSubmatch(header)
	if scheme == nil {
		return Challenge{}, ErrNoChallenge
	}
	mac := macaroonRe.FindStringSubmatch(header)
	inv := invoiceRe.FindStringSubmatch(header)
	if mac == nil || inv == nil {
		return Challenge{}, fmt.Errorf("%w: missing macaroon or invoice", ErrNoChallenge)
	}
	return Challenge{Scheme: scheme[1], Macaroon: mac[1], Invoice: inv[1]}, nil
}

// Payer settles BOLT11 invoices for challenges.
type Payer interface {
	PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult
}

// Resource is the outcome of accessing a gated URL.
type Resource struct {
	StatusCode  int
	Body        []byte
	ContentType string

	// Paid reports whether a challenge was settled during this access.
	Paid        bool
	AmountSats  int64
	PreimageHex string
	Macaroon    string

	// header is the WWW-Authenticate value from the initial response.
	header string
}

// Client accesses L402-gated resources.
type Client struct {
	http   *http.Client
	payer  Payer
	logger *slog.Logger
}

// NewClient builds an L402 client over the given payer.
func NewClient(httpClient *http.Client, payer Payer, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{http: httpClient, payer: payer, logger: logger}
}

// Access fetches url. On a 402 it parses the challenge, pays the invoice
// when it fits under maxSats, and retries once with the credential.
// Non-402 responses pass through unpaid.
func (c *Client) Access(ctx context.Context, url string, maxSats int64) (*Resource, error) {
	res, err := c.get(ctx, url, "")
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusPaymentRequired {
		return res, nil
	}

	challenge, err := ParseChallenge(res.header)
	if err != nil {
		return nil, err
	}

	amount, err := challenge.AmountSats()
	if err != nil {
		return nil, fmt.Errorf("challenge invoice: %w", err)
	}
	if maxSats > 0 && amount > maxSats {
		return nil, fmt.Errorf("%w: %d sats > %d sats cap", ErrAmountExceedsCap, amount, maxSats)
	}

	token, payment, err := c.payChallenge(ctx, challenge)
	if err != nil {
		return nil, err
	}
	c.logger.Info("paid L402 challenge", "url", url, "amount_sats", amount)

	paid, err := c.get(ctx, url, token)
	if err != nil {
		return nil, fmt.Errorf("retry after payment: %w", err)
	}
	paid.Paid = true
	paid.AmountSats = amount
	paid.PreimageHex = payment.PreimageHex
	paid.Macaroon = challenge.Macaroon
	return paid, nil
}

// PayChallenge pays a raw WWW-Authenticate challenge and returns the
// Authorization header value for subsequent requests.
func (c *Client) PayChallenge(ctx context.Context, header string, maxSats int64) (string, wallet.PaymentResult, error) {
	challenge, err := ParseChallenge(header)
	if err != nil {
		return "", wallet.PaymentResult{}, err
	}
	amount, err := challenge.AmountSats()
	if err != nil {
		return "", wallet.PaymentResult{}, fmt.Errorf("challenge invoice: %w", err)
	}
	if maxSats > 0 && amount > maxSats {
		return "", wallet.PaymentResult{}, fmt.Errorf("%w: %d sats > %d sats cap", ErrAmountExceedsCap, amount, maxSats)
	}
	token, payment, err := c.payChallenge(ctx, challenge)
	return token, payment, err
}

func (c *Client) payChallenge(ctx context.Context, challenge Challenge) (string, wallet.PaymentResult, error) {
	payment := c.payer.PayInvoice(ctx, challenge.Invoice)
	if !payment.Success {
		return "", payment, fmt.Errorf("%w: %s: %s", ErrPaymentFailed, payment.ErrorCode, payment.ErrorMessage)
	}
	if payment.Warning != "" {
		// The credential needs a real preimage; a settled payment with a
		// malformed one will likely be rejected by the gate.
		c.logger.Warn("challenge paid with suspect preimage", "warning", payment.Warning)
	}
	return fmt.Sprintf("L402 %s:%s", challenge.Macaroon, payment.PreimageHex), payment, nil
}

func (c *Client) get(ctx context.Context, url, authorization string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Resource{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		header:      resp.Header.Get("WWW-Authenticate"),
	}, nil
}
