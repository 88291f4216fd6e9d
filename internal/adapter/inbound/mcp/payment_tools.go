package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lightning-enable/lightning-enable/internal/domain/approval"
	"github.com/lightning-enable/lightning-enable/internal/domain/invoice"
	"github.com/lightning-enable/lightning-enable/internal/domain/wallet"
	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
)

// paymentOutcome is the tool result for a payment attempt.
type paymentOutcome struct {
	Status       string  `json:"status"`
	AmountSats   int64   `json:"amountSats"`
	AmountUSD    float64 `json:"amountUsd"`
	Backend      string  `json:"backend,omitempty"`
	Preimage     string  `json:"preimage,omitempty"`
	TrackingID   string  `json:"trackingId,omitempty"`
	Warning      string   `json:"warning,omitempty"`
	RemainingUSD *float64 `json:"remainingSessionUsd,omitempty"`
	HistoryID    string   `json:"historyId,omitempty"`
}

func (s *Server) handlePayInvoice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bolt11 := stringArg(req, "invoice")
	description := stringArg(req, "description")
	if bolt11 == "" {
		s.countTool("pay_invoice", "error")
		return errResult("invoice is required")
	}

	amountSats, err := invoice.AmountSats(bolt11)
	if err != nil {
		s.countTool("pay_invoice", "error")
		if errors.Is(err, invoice.ErrNoAmount) {
			return errResult("amountless invoices are not supported: the budget cannot cap what it cannot read")
		}
		return errResult(fmt.Sprintf("could not parse invoice amount: %v", err))
	}

	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("pay_invoice", "error")
		return errResult(err.Error())
	}

	ctx, span := s.tracer.Start(ctx, "pay_invoice",
		trace.WithAttributes(attribute.Int64("payment.amount_sats", amountSats)))
	defer span.End()

	result, release := s.budget.CheckAndReserve(ctx, amountSats, "pay_invoice", description)
	s.countApproval(string(result.Level))
	span.SetAttributes(attribute.String("approval.level", string(result.Level)))

	switch {
	case result.Level == approval.LevelDeny:
		id := s.history.RecordPayment(ctx, "pay_invoice", bolt11, amountSats, result.AmountUSD,
			backend.Name(), outbound.StatusDenied, "")
		s.countPayment(backend.Name(), "denied", 0)
		s.countTool("pay_invoice", "ok")
		return jsonResult(map[string]any{
			"status":              "denied",
			"reason":              result.DenialReason,
			"amountSats":          amountSats,
			"amountUsd":           result.AmountUSD,
			"remainingSessionUsd": result.RemainingSessionUSD,
			"historyId":           id,
		})

	case result.Level.RequiresConfirmation():
		s.rememberInvoice(result.ConfirmationNonce, bolt11,
			time.Now().Add(approval.ConfirmationTTL))
		s.countTool("pay_invoice", "ok")
		return jsonResult(map[string]any{
			"status":     "confirmation_required",
			"level":      result.Level,
			"message":    result.ConfirmationMessage,
			"nonce":      result.ConfirmationNonce,
			"amountSats": amountSats,
			"amountUsd":  result.AmountUSD,
		})
	}

	outcome := s.executePayment(ctx, backend, "pay_invoice", bolt11, amountSats, result.AmountUSD, release)
	s.countTool("pay_invoice", "ok")
	return jsonResult(outcome)
}

func (s *Server) handleConfirmPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nonce := stringArg(req, "nonce")
	if nonce == "" {
		s.countTool("confirm_payment", "error")
		return errResult("nonce is required")
	}

	pending, err := s.budget.RedeemConfirmation(nonce)
	if err != nil {
		s.countTool("confirm_payment", "error")
		return errResult(err.Error())
	}

	bolt11, ok := s.takeInvoice(nonce)
	if !ok {
		s.countTool("confirm_payment", "error")
		return errResult("the original payment request is no longer available; request the payment again")
	}

	backend, err := s.registry.Active()
	if err != nil {
		s.countTool("confirm_payment", "error")
		return errResult(err.Error())
	}

	ctx, span := s.tracer.Start(ctx, "confirm_payment",
		trace.WithAttributes(attribute.Int64("payment.amount_sats", pending.AmountSats)))
	defer span.End()

	// Confirmed payments were never reserved; spend is recorded after the
	// backend settles.
	payRes := backend.PayInvoice(ctx, bolt11)
	if !payRes.Success {
		id := s.history.RecordPayment(ctx, pending.ToolName, bolt11, pending.AmountSats,
			pending.AmountUSD, backend.Name(), outbound.StatusFailed, "")
		s.countPayment(backend.Name(), "failed", 0)
		s.countTool("confirm_payment", "ok")
		return jsonResult(paymentOutcome{
			Status:     "failed",
			AmountSats: pending.AmountSats,
			AmountUSD:  pending.AmountUSD,
			Backend:    backend.Name(),
			Warning:    fmt.Sprintf("%s: %s", payRes.ErrorCode, payRes.ErrorMessage),
			HistoryID:  id,
		})
	}

	if err := s.budget.RecordSpend(pending.AmountUSD); err != nil {
		s.logger.Error("failed to record confirmed spend", "error", err)
	}
	id := s.history.RecordPayment(ctx, pending.ToolName, bolt11, pending.AmountSats,
		pending.AmountUSD, backend.Name(), outbound.StatusPaid, payRes.PreimageHex)
	s.countPayment(backend.Name(), "paid", pending.AmountSats)
	s.countTool("confirm_payment", "ok")
	return jsonResult(paymentOutcome{
		Status:       "paid",
		AmountSats:   pending.AmountSats,
		AmountUSD:    pending.AmountUSD,
		Backend:      backend.Name(),
		Preimage:     payRes.PreimageHex,
		TrackingID:   payRes.TrackingID,
		Warning:      payRes.Warning,
		RemainingUSD: s.budget.Status().RemainingUSD,
		HistoryID:    id,
	})
}

// executePayment settles an approved, already-reserved payment and rolls the
// reservation back on failure.
func (s *Server) executePayment(ctx context.Context, backend wallet.Backend, tool, bolt11 string, amountSats int64, amountUSD float64, release func()) paymentOutcome {
	payRes := backend.PayInvoice(ctx, bolt11)
	if !payRes.Success {
		if release != nil {
			release()
		}
		id := s.history.RecordPayment(ctx, tool, bolt11, amountSats, amountUSD,
			backend.Name(), outbound.StatusFailed, "")
		s.countPayment(backend.Name(), "failed", 0)
		return paymentOutcome{
			Status:       "failed",
			AmountSats:   amountSats,
			AmountUSD:    amountUSD,
			Backend:      backend.Name(),
			Warning:      fmt.Sprintf("%s: %s", payRes.ErrorCode, payRes.ErrorMessage),
			RemainingUSD: s.budget.Status().RemainingUSD,
			HistoryID:    id,
		}
	}

	s.budget.RecordPaymentTime()
	id := s.history.RecordPayment(ctx, tool, bolt11, amountSats, amountUSD,
		backend.Name(), outbound.StatusPaid, payRes.PreimageHex)
	s.countPayment(backend.Name(), "paid", amountSats)
	return paymentOutcome{
		Status:       "paid",
		AmountSats:   amountSats,
		AmountUSD:    amountUSD,
		Backend:      backend.Name(),
		Preimage:     payRes.PreimageHex,
		TrackingID:   payRes.TrackingID,
		Warning:      payRes.Warning,
		RemainingUSD: s.budget.Status().RemainingUSD,
		HistoryID:    id,
	}
}
