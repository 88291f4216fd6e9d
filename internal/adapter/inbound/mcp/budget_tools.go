package mcp

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleBudgetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.budget.Status()
	s.countTool("get_budget_status", "ok")

	out := map[string]any{
		"spentUsd":             status.SpentUSD,
		"requestCount":         status.RequestCount,
		"sessionStarted":       status.SessionStarted,
		"isFirstPayment":       status.IsFirstPayment,
		"cooldownActive":       status.CooldownActive,
		"pendingConfirmations": status.PendingConfirmations,
		"btcUsdPrice":          status.BtcUsdPrice,
		"tiers": map[string]any{
			"autoApproveUsd":   s.cfg.AutoApproveUSD,
			"logAndApproveUsd": s.cfg.LogAndApproveUSD,
			"formConfirmUsd":   s.cfg.FormConfirmUSD,
			"urlConfirmUsd":    s.cfg.URLConfirmUSD,
		},
		"cooldownSeconds": s.cfg.CooldownSeconds,
	}
	if status.RemainingUSD != nil {
		out["remainingUsd"] = *status.RemainingUSD
	}
	if status.MaxPerSessionUSD != nil {
		out["maxPerSessionUsd"] = *status.MaxPerSessionUSD
	}
	if status.MaxPerPaymentUSD != nil {
		out["maxPerPaymentUsd"] = *status.MaxPerPaymentUSD
	}
	if !status.LastPaymentAt.IsZero() {
		out["lastPaymentAt"] = status.LastPaymentAt
	}
	if names := s.registry.Configured(); len(names) > 0 {
		out["configuredWallets"] = names
	}
	return jsonResult(out)
}

func (s *Server) handleResetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.ResetPassphraseHash == "" {
		s.countTool("reset_session", "error")
		return errResult("session reset is disabled: no resetPassphraseHash configured")
	}

	passphrase := stringArg(req, "passphrase")
	match, err := argon2id.ComparePasswordAndHash(passphrase, s.cfg.ResetPassphraseHash)
	if err != nil {
		s.countTool("reset_session", "error")
		return errResult(fmt.Sprintf("passphrase verification failed: %v", err))
	}
	if !match {
		s.logger.Warn("session reset rejected: wrong passphrase")
		s.countTool("reset_session", "error")
		return errResult("wrong passphrase")
	}

	s.budget.ResetSession()
	if s.metrics != nil {
		s.metrics.SessionSpentUSD.Set(0)
	}
	s.countTool("reset_session", "ok")
	return jsonResult(map[string]any{
		"status":       "reset",
		"remainingUsd": s.budget.Status().RemainingUSD,
	})
}

func (s *Server) handlePaymentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(numberArg(req, "limit", 50))

	records, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.countTool("get_payment_history", "error")
		return errResult(fmt.Sprintf("history lookup failed: %v", err))
	}
	s.countTool("get_payment_history", "ok")
	if records == nil {
		return jsonResult(map[string]any{
			"records": []any{},
			"note":    "payment history is disabled or empty",
		})
	}
	return jsonResult(map[string]any{"records": records})
}
