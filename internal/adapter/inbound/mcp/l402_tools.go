package mcp

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lightning-enable/lightning-enable/internal/domain/approval"
	"github.com/lightning-enable/lightning-enable/internal/domain/invoice"
	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
	"github.com/lightning-enable/lightning-enable/internal/service"
)

// maxInlineBody bounds how much of a fetched resource is inlined into the
// tool result.
const maxInlineBody = 64 << 10

func (s *Server) handleAccessL402(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url := stringArg(req, "url")
	if url == "" {
		s.countTool("access_l402_resource", "error")
		return errResult("url is required")
	}
	maxSats := int64(numberArg(req, "max_sats", 0))

	res, err := s.l402.Access(ctx, url, maxSats)
	if err != nil {
		s.countTool("access_l402_resource", "error")
		return errResult(fmt.Sprintf("access failed: %v", err))
	}

	body := string(res.Body)
	truncated := false
	if len(body) > maxInlineBody {
		body = body[:maxInlineBody]
		truncated = true
	}
	if !utf8.ValidString(body) {
		body = fmt.Sprintf("(%d bytes of binary %s content)", len(res.Body), res.ContentType)
	}

	out := map[string]any{
		"statusCode":  res.StatusCode,
		"contentType": res.ContentType,
		"body":        body,
		"truncated":   truncated,
		"paid":        res.Paid,
	}
	if res.Paid {
		out["amountSats"] = res.AmountSats
		out["preimage"] = res.PreimageHex
	}
	s.countTool("access_l402_resource", "ok")
	return jsonResult(out)
}

func (s *Server) handlePayL402Challenge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	challenge := stringArg(req, "challenge")
	if challenge == "" {
		s.countTool("pay_l402_challenge", "error")
		return errResult("challenge is required")
	}
	maxSats := int64(numberArg(req, "max_sats", 0))

	token, payment, err := s.l402.PayChallenge(ctx, challenge, maxSats)
	if err != nil {
		s.countTool("pay_l402_challenge", "error")
		return errResult(fmt.Sprintf("challenge payment failed: %v", err))
	}

	s.countTool("pay_l402_challenge", "ok")
	return jsonResult(map[string]any{
		"authorization": token,
		"preimage":      payment.PreimageHex,
		"warning":       payment.Warning,
	})
}

// GuardedPayer settles L402 challenge invoices through the same budget
// authorization as direct invoice payments. Confirmation tiers fail the
// payment: an HTTP retry loop cannot wait for a human.
type GuardedPayer struct {
	registry *service.WalletRegistry
	budget   *service.BudgetService
	history  *service.HistoryService
}

// NewGuardedPayer builds the payer the L402 client uses.
func NewGuardedPayer(registry *service.WalletRegistry, budget *service.BudgetService, history *service.HistoryService) *GuardedPayer {
	return &GuardedPayer{registry: registry, budget: budget, history: history}
}

// PayInvoice implements l402.Payer.
func (p *GuardedPayer) PayInvoice(ctx context.Context, bolt11 string) wallet.PaymentResult {
	amountSats, err := invoice.AmountSats(bolt11)
	if err != nil {
		return wallet.Failed(wallet.CodePaymentFailed, fmt.Sprintf("could not parse challenge invoice: %v", err))
	}

	backend, err := p.registry.Active()
	if err != nil {
		return wallet.Failed(wallet.CodeNotConfigured, err.Error())
	}

	result, release := p.budget.CheckAndReserve(ctx, amountSats, "access_l402_resource", "L402 challenge")
	if result.Level == approval.LevelDeny {
		p.history.RecordPayment(ctx, "access_l402_resource", bolt11, amountSats, result.AmountUSD,
			backend.Name(), outbound.StatusDenied, "")
		return wallet.Failed(wallet.CodePaymentFailed, "budget denied: "+result.DenialReason)
	}
	if result.Level.RequiresConfirmation() {
		return wallet.Failed(wallet.CodePaymentFailed,
			fmt.Sprintf("$%.2f requires confirmation; pay the challenge invoice with pay_invoice instead", result.AmountUSD))
	}

	payRes := backend.PayInvoice(ctx, bolt11)
	if !payRes.Success {
		if release != nil {
			release()
		}
		p.history.RecordPayment(ctx, "access_l402_resource", bolt11, amountSats, result.AmountUSD,
			backend.Name(), outbound.StatusFailed, "")
		return payRes
	}

	p.budget.RecordPaymentTime()
	p.history.RecordPayment(ctx, "access_l402_resource", bolt11, amountSats, result.AmountUSD,
		backend.Name(), outbound.StatusPaid, payRes.PreimageHex)
	return payRes
}
