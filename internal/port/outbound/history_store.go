package outbound

import (
	"context"
	"time"
)

// PaymentRecord is one persisted payment attempt.
type PaymentRecord struct {
	ID            string
	Tool          string
	InvoicePrefix string
	AmountSats    int64
	AmountUSD     float64
	Backend       string
	Status        string
	Preimage      string
	CreatedAt     time.Time
}

// Payment record statuses.
const (
	StatusPaid   = "paid"
	StatusFailed = "failed"
	StatusDenied = "denied"
)

// HistoryStore is the outbound port for payment history persistence.
type HistoryStore interface {
	// Record persists one payment attempt.
	Record(ctx context.Context, rec PaymentRecord) error

	// Recent returns the most recent records, newest first, capped at limit.
	Recent(ctx context.Context, limit int) ([]PaymentRecord, error)

	// Close releases the underlying storage.
	Close() error
}
