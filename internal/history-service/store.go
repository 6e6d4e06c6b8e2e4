// Package historyservice consumes order-initiated events and maintains the
// order-history service's denormalized order projection: one order row, its
// item rows and its status-transition history rows.
package historyservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                 TEXT PRIMARY KEY,
    order_date         TEXT NOT NULL,
    status             TEXT NOT NULL,
    subtotal           REAL NOT NULL,
    taxes              REAL NOT NULL,
    total              REAL NOT NULL,
    currency           TEXT NOT NULL,
    client_id          TEXT NOT NULL,
    payment_id         TEXT NOT NULL DEFAULT '',
    transaction_status TEXT NOT NULL DEFAULT '',
    transaction_date   TEXT NOT NULL DEFAULT '',
    transaction_id     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS order_items (
    id          TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(id),
    product_id  TEXT NOT NULL,
    quantity    INTEGER NOT NULL,
    unit_price  REAL NOT NULL,
    total_price REAL NOT NULL,
    currency    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_history (
    id          TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(id),
    description TEXT NOT NULL,
    date        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_order_history_order_id ON order_history(order_id);
`

// ErrProjectionNotFound is returned by lookups for unknown order ids.
var ErrProjectionNotFound = errors.New("history: order projection not found")

// Projection is the read model of one replicated order.
type Projection struct {
	ID                string
	OrderDate         string
	Status            string
	Subtotal          float64
	Taxes             float64
	Total             float64
	Currency          string
	ClientID          string
	PaymentID         string
	TransactionStatus string
	TransactionDate   string
	TransactionID     string
	Items             []messaging.OrderInitiatedItem
	History           []HistoryEntry
}

// HistoryEntry is one recorded status transition.
type HistoryEntry struct {
	Description string
	Date        string
}

type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

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

// UpsertOrder writes the projection keyed by the order id. Re-delivery of
// the same order replaces the row set instead of inserting a duplicate, so
// at-least-once delivery stays harmless.
func (s *Store) UpsertOrder(ctx context.Context, o messaging.OrderInitiatedPayload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert of order %q: %w", o.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
			(id, order_date, status, subtotal, taxes, total, currency,
			 client_id, payment_id, transaction_status, transaction_date, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_date         = excluded.order_date,
			status             = excluded.status,
			subtotal           = excluded.subtotal,
			taxes              = excluded.taxes,
			total              = excluded.total,
			currency           = excluded.currency,
			client_id          = excluded.client_id,
			payment_id         = excluded.payment_id,
			transaction_status = excluded.transaction_status,
			transaction_date   = excluded.transaction_date,
			transaction_id     = excluded.transaction_id`,
		o.ID, o.OrderDate, o.Status, o.Subtotal, o.Taxes, o.Total, o.Currency,
		o.ClientID, o.PaymentID, o.TransactionStatus, o.TransactionDate, o.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert order %q: %w", o.ID, err)
	}

	// Items and history are replaced wholesale; this flow only ever records
	// the INICIADO transition.
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, o.ID); err != nil {
		return fmt.Errorf("sqlite: clear items of order %q: %w", o.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_history WHERE order_id = ?`, o.ID); err != nil {
		return fmt.Errorf("sqlite: clear history of order %q: %w", o.ID, err)
	}

	for _, it := range o.Items {
		itemID := it.ID
		if itemID == "" {
			itemID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, total_price, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			itemID, o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.TotalPrice, it.Currency)
		if err != nil {
			return fmt.Errorf("sqlite: insert item of order %q: %w", o.ID, err)
		}
	}

	transitionDate := o.OrderDate
	if transitionDate == "" {
		transitionDate = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_history (id, order_id, description, date)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), o.ID, "Order initiated", transitionDate)
	if err != nil {
		return fmt.Errorf("sqlite: insert history of order %q: %w", o.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert of order %q: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads the full projection for one order id.
func (s *Store) GetOrder(ctx context.Context, id string) (*Projection, error) {
	var p Projection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_date, status, subtotal, taxes, total, currency,
		       client_id, payment_id, transaction_status, transaction_date, transaction_id
		FROM   orders WHERE id = ?`, id).Scan(
		&p.ID, &p.OrderDate, &p.Status, &p.Subtotal, &p.Taxes, &p.Total, &p.Currency,
		&p.ClientID, &p.PaymentID, &p.TransactionStatus, &p.TransactionDate, &p.TransactionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load order projection %q: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price, total_price, currency
		FROM   order_items WHERE order_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load items of order %q: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var it messaging.OrderInitiatedItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.Currency); err != nil {
			return nil, fmt.Errorf("sqlite: scan item of order %q: %w", id, err)
		}
		p.Items = append(p.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate items of order %q: %w", id, err)
	}

	hist, err := s.db.QueryContext(ctx, `
		SELECT description, date FROM order_history WHERE order_id = ? ORDER BY date, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load history of order %q: %w", id, err)
	}
	defer hist.Close()
	for hist.Next() {
		var h HistoryEntry
		if err := hist.Scan(&h.Description, &h.Date); err != nil {
			return nil, fmt.Errorf("sqlite: scan history of order %q: %w", id, err)
		}
		p.History = append(p.History, h)
	}
	if err := hist.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate history of order %q: %w", id, err)
	}
	return &p, nil
}
