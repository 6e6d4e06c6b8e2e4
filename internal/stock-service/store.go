// Package stockservice consumes stock-update events and maintains the stock
// service's local projection of product quantities.
package stockservice

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
)

// The stock payload carries no business key, so deduplication hangs off the
// AMQP MessageId recorded in processed_messages within the same transaction
// as the deduction. A redelivered message hits the primary key and becomes a
// no-op.
const schema = `
CREATE TABLE IF NOT EXISTS stock (
    product_id  TEXT PRIMARY KEY,
    quantity    INTEGER NOT NULL DEFAULT 0,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
    message_id   TEXT PRIMARY KEY,
    processed_at TEXT NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ApplyDeduction deducts the sold quantities in one transaction, keyed by
// messageID. Returns (false, nil) when the message was already processed.
func (s *Store) ApplyDeduction(ctx context.Context, messageID string, entries []messaging.StockUpdateEntry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin deduction %q: %w", messageID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO processed_messages (message_id, processed_at) VALUES (?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		messageID, now)
	if err != nil {
		return false, fmt.Errorf("sqlite: record message %q: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, nil
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stock (product_id, quantity, updated_at) VALUES (?, 0, ?)
			 ON CONFLICT(product_id) DO NOTHING`,
			e.ProductID, now); err != nil {
			return false, fmt.Errorf("sqlite: ensure stock row %q: %w", e.ProductID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stock SET quantity = quantity - ?, updated_at = ? WHERE product_id = ?`,
			e.Quantity, now, e.ProductID); err != nil {
			return false, fmt.Errorf("sqlite: deduct stock for %q: %w", e.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit deduction %q: %w", messageID, err)
	}
	return true, nil
}

// Quantity returns the current projected quantity for a product (0 when the
// product has never been seen).
func (s *Store) Quantity(ctx context.Context, productID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity FROM stock WHERE product_id = ?`, productID).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: read stock for %q: %w", productID, err)
	}
	return qty, nil
}
