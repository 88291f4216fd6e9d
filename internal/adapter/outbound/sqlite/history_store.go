// Package sqlite implements payment history persistence on a local SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lightning-enable/lightning-enable/internal/port/outbound"
)

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id             TEXT PRIMARY KEY,
	tool           TEXT NOT NULL,
	invoice_prefix TEXT NOT NULL DEFAULT '',
	amount_sats    INTEGER NOT NULL,
	amount_usd     REAL NOT NULL,
	backend        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	preimage       TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments(created_at DESC);
`

// HistoryStore persists payment records in SQLite. It implements
// outbound.HistoryStore.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent recording.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Record persists one payment attempt.
func (s *HistoryStore) Record(ctx context.Context, rec outbound.PaymentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, tool, invoice_prefix, amount_sats, amount_usd, backend, status, preimage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tool, rec.InvoicePrefix, rec.AmountSats, rec.AmountUSD,
		rec.Backend, rec.Status, rec.Preimage, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// Recent returns the most recent records, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]outbound.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, invoice_prefix, amount_sats, amount_usd, backend, status, preimage, created_at
		 FROM payments ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var recs []outbound.PaymentRecord
	for rows.Next() {
		var rec outbound.PaymentRecord
		var createdMilli int64
		if err := rows.Scan(&rec.ID, &rec.Tool, &rec.InvoicePrefix, &rec.AmountSats,
			&rec.AmountUSD, &rec.Backend, &rec.Status, &rec.Preimage, &createdMilli); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdMilli).UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close releases the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
