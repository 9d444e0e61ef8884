// Package storage provides the SQLite persistence layer for Satsgate.
//
// It records every issued invoice, every verified payment, and every wallet
// transaction. The in-memory stores stay authoritative for the hot path;
// this layer is the durable audit trail behind /payments/history and
// replay inspection.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/satsgate-ai/satsgate/internal/invoice"
	"github.com/satsgate-ai/satsgate/internal/model"
)

// Store wraps a SQLite database handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS invoices (
	payment_id TEXT PRIMARY KEY,
	payment_request TEXT NOT NULL,
	amount_sats INTEGER NOT NULL,
	memo TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	settled INTEGER NOT NULL DEFAULT 0,
	settled_at DATETIME
);

CREATE TABLE IF NOT EXISTS payments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint TEXT NOT NULL,
	amount_sats INTEGER NOT NULL,
	payment_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_time ON payments(created_at);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	amount_sats INTEGER NOT NULL,
	kind TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	endpoint TEXT NOT NULL DEFAULT '',
	payment_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_agent_time ON transactions(agent_id, created_at);
`

// Open creates a Store at the given path (":memory:" for tests) and runs
// auto-migration.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// modernc's sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent request paths.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordInvoice persists a newly issued invoice.
func (s *Store) RecordInvoice(ctx context.Context, inv invoice.Invoice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO invoices (payment_id, payment_request, amount_sats, memo, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		inv.PaymentID, inv.PaymentRequest, inv.AmountSats, inv.Memo, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: record invoice: %w", err)
	}
	return nil
}

// RecordSettlement marks a persisted invoice settled.
func (s *Store) RecordSettlement(ctx context.Context, paymentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET settled = 1, settled_at = ? WHERE payment_id = ?`,
		time.Now().UTC(), paymentID,
	)
	if err != nil {
		return fmt.Errorf("storage: record settlement: %w", err)
	}
	return nil
}

// RecordTransaction appends a wallet transaction to the durable log.
func (s *Store) RecordTransaction(ctx context.Context, agentID string, tx model.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (agent_id, amount_sats, kind, description, endpoint, payment_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agentID, tx.AmountSats, string(tx.Kind), tx.Description, tx.Endpoint, tx.PaymentID, tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: record transaction: %w", err)
	}
	return nil
}

// AppendPayment adds one entry to the gateway's shared audit history.
func (s *Store) AppendPayment(ctx context.Context, rec model.PaymentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (endpoint, amount_sats, payment_id, agent_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Endpoint, rec.AmountSats, rec.PaymentID, rec.AgentID, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: append payment: %w", err)
	}
	return nil
}

// ListPayments returns up to limit payment records, newest first.
func (s *Store) ListPayments(ctx context.Context, limit int) ([]model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, amount_sats, payment_id, agent_id, created_at
		 FROM payments ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list payments: %w", err)
	}
	defer rows.Close()

	var out []model.PaymentRecord
	for rows.Next() {
		var rec model.PaymentRecord
		if err := rows.Scan(&rec.Endpoint, &rec.AmountSats, &rec.PaymentID, &rec.AgentID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan payment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListTransactions returns up to limit transactions for an agent, newest first.
func (s *Store) ListTransactions(ctx context.Context, agentID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT amount_sats, kind, description, endpoint, payment_id, created_at
		 FROM transactions WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var kind string
		if err := rows.Scan(&tx.AmountSats, &kind, &tx.Description, &tx.Endpoint, &tx.PaymentID, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		tx.Kind = model.TxKind(kind)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// PaymentTotals returns the count and total amount of verified payments.
func (s *Store) PaymentTotals(ctx context.Context) (count int64, totalSats int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_sats), 0) FROM payments`,
	).Scan(&count, &totalSats)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: payment totals: %w", err)
	}
	return count, totalSats, nil
}
