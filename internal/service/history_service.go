package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
)

// invoicePrefixLen bounds how much of a BOLT11 string is persisted. Enough
// to identify the invoice, without storing the full payment request.
const invoicePrefixLen = 24

// HistoryService records payment attempts. A nil store disables recording;
// store failures are logged and swallowed so history problems never block
// payments.
type HistoryService struct {
	store  outbound.HistoryStore
	logger *slog.Logger
	now    func() time.Time
}

// NewHistoryService wraps a store. store may be nil when history is
// disabled.
func NewHistoryService(store outbound.HistoryStore, logger *slog.Logger) *HistoryService {
	return &HistoryService{store: store, logger: logger, now: time.Now}
}

// RecordPayment persists one payment attempt and returns its id.
func (s *HistoryService) RecordPayment(ctx context.Context, tool, bolt11 string, amountSats int64, amountUSD float64, backend, status, preimage string) string {
	id := uuid.NewString()
	if s.store == nil {
		return id
	}

	prefix := bolt11
	if len(prefix) > invoicePrefixLen {
		prefix = prefix[:invoicePrefixLen]
	}

	rec := outbound.PaymentRecord{
		ID:            id,
		Tool:          tool,
		InvoicePrefix: prefix,
		AmountSats:    amountSats,
		AmountUSD:     amountUSD,
		Backend:       backend,
		Status:        status,
		Preimage:      preimage,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Record(ctx, rec); err != nil {
		s.logger.Error("failed to record payment history", "id", id, "error", err)
	}
	return id
}

// Recent returns the most recent payment records, newest first.
func (s *HistoryService) Recent(ctx context.Context, limit int) ([]outbound.PaymentRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(ctx, limit)
}
