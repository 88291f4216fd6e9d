package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lightning-enable/lightning-enable/internal/domain/approval"
	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
)

func (s *Server) handleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("check_wallet_balance", "error")
		return errResult(err.Error())
	}

	info, err := backend.GetBalance(ctx)
	if err != nil {
		s.countTool("check_wallet_balance", "error")
		return errResult(fmt.Sprintf("balance check failed: %v", err))
	}

	sats := info.Sats()
	s.countTool("check_wallet_balance", "ok")
	return jsonResult(map[string]any{
		"backend":    backend.Name(),
		"balanceSat": sats,
		"balanceUsd": s.price.SatsToUsd(ctx, sats),
	})
}

func (s *Server) handleCreateInvoice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amountSats := int64(numberArg(req, "amount_sats", 0))
	if amountSats <= 0 {
		s.countTool("create_invoice", "error")
		return errResult("amount_sats must be positive")
	}
	memo := stringArg(req, "memo")
	expiry := time.Duration(numberArg(req, "expiry_seconds", 0)) * time.Second

	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("create_invoice", "error")
		return errResult(err.Error())
	}
	issuer, ok := backend.(wallet.InvoiceIssuer)
	if !ok {
		s.countTool("create_invoice", "error")
		return errResult(fmt.Sprintf("backend %q cannot create invoices", backend.Name()))
	}

	inv, err := issuer.CreateInvoice(ctx, amountSats, memo, expiry)
	if err != nil {
		s.countTool("create_invoice", "error")
		return errResult(fmt.Sprintf("create invoice failed: %v", err))
	}
	s.countTool("create_invoice", "ok")
	return jsonResult(inv)
}

func (s *Server) handleInvoiceStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invoiceID := stringArg(req, "invoice_id")
	if invoiceID == "" {
		s.countTool("check_invoice_status", "error")
		return errResult("invoice_id is required")
	}

	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("check_invoice_status", "error")
		return errResult(err.Error())
	}
	issuer, ok := backend.(wallet.InvoiceIssuer)
	if !ok {
		s.countTool("check_invoice_status", "error")
		return errResult(fmt.Sprintf("backend %q cannot track invoices", backend.Name()))
	}

	status, err := issuer.GetInvoiceStatus(ctx, invoiceID)
	if err != nil {
		s.countTool("check_invoice_status", "error")
		return errResult(fmt.Sprintf("invoice status failed: %v", err))
	}
	s.countTool("check_invoice_status", "ok")
	return jsonResult(status)
}

func (s *Server) handleBtcPrice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	price := s.price.BtcUsdPrice(ctx)
	s.countTool("get_btc_price", "ok")
	return jsonResult(map[string]any{
		"btcUsd":       price,
		"satsPerUsd":   s.price.UsdToSats(ctx, 1),
		"usdPer1kSats": s.price.SatsToUsd(ctx, 1000),
	})
}

func (s *Server) handleAllBalances(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("get_all_balances", "error")
		return errResult(err.Error())
	}
	multi, ok := backend.(wallet.MultiCurrency)
	if !ok {
		s.countTool("get_all_balances", "error")
		return errResult(fmt.Sprintf("backend %q holds a single currency; use check_wallet_balance", backend.Name()))
	}

	balances, err := multi.GetAllBalances(ctx)
	if err != nil {
		s.countTool("get_all_balances", "error")
		return errResult(fmt.Sprintf("balance listing failed: %v", err))
	}
	s.countTool("get_all_balances", "ok")
	return jsonResult(map[string]any{
		"backend":  backend.Name(),
		"balances": balances,
	})
}

func (s *Server) handleExchange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := stringArg(req, "source")
	target := stringArg(req, "target")
	amount := numberArg(req, "amount", 0)
	if source == "" || target == "" || amount <= 0 {
		s.countTool("exchange_currency", "error")
		return errResult("source, target, and a positive amount are required")
	}

	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("exchange_currency", "error")
		return errResult(err.Error())
	}
	exchanger, ok := backend.(wallet.Exchanger)
	if !ok {
		s.countTool("exchange_currency", "error")
		return errResult(fmt.Sprintf("backend %q does not support currency exchange", backend.Name()))
	}

	res, err := exchanger.ExchangeCurrency(ctx, source, target, amount)
	if err != nil {
		s.countTool("exchange_currency", "error")
		return errResult(fmt.Sprintf("exchange failed: %v", err))
	}
	s.countTool("exchange_currency", "ok")
	return jsonResult(res)
}

func (s *Server) handleSendOnChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := stringArg(req, "address")
	amountSats := int64(numberArg(req, "amount_sats", 0))
	if address == "" || amountSats <= 0 {
		s.countTool("send_onchain", "error")
		return errResult("address and a positive amount_sats are required")
	}

	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("send_onchain", "error")
		return errResult(err.Error())
	}
	sender, ok := backend.(wallet.OnChainSender)
	if !ok {
		s.countTool("send_onchain", "error")
		return errResult(fmt.Sprintf("backend %q does not support on-chain sends", backend.Name()))
	}

	result, release := s.budget.CheckAndReserve(ctx, amountSats, "send_onchain", "on-chain to "+address)
	s.countApproval(string(result.Level))
	if result.Level == approval.LevelDeny {
		s.countTool("send_onchain", "ok")
		return jsonResult(map[string]any{
			"status": "denied",
			"reason": result.DenialReason,
		})
	}
	if result.Level.RequiresConfirmation() {
		// The confirmation round trip only carries invoices; keep on-chain
		// sends inside the auto-approvable range.
		s.countTool("send_onchain", "ok")
		return jsonResult(map[string]any{
			"status": "denied",
			"reason": fmt.Sprintf("$%.2f requires confirmation, which on-chain sends do not support; stay at or below the log_and_approve tier", result.AmountUSD),
		})
	}

	res, err := sender.SendOnChain(ctx, address, amountSats)
	if err != nil {
		if release != nil {
			release()
		}
		s.countTool("send_onchain", "error")
		if errors.Is(err, wallet.ErrUnsupported) {
			return errResult(fmt.Sprintf("backend %q does not support on-chain sends", backend.Name()))
		}
		return errResult(fmt.Sprintf("on-chain send failed: %v", err))
	}

	s.budget.RecordPaymentTime()
	s.countPayment(backend.Name(), "paid", amountSats)
	s.countTool("send_onchain", "ok")
	return jsonResult(res)
}
