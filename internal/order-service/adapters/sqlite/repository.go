// Package sqlite persists orders in a local SQLite database.
//
// WAL mode is enabled on Open so the checkout write path never blocks the
// read endpoint. The pure-Go modernc driver keeps the binary CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/app"
	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/domain"
)

// SQLite has no datetime type; timestamps are stored as RFC3339 TEXT.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    client_id       TEXT NOT NULL,
    quantity        INTEGER NOT NULL,
    subtotal        REAL NOT NULL,
    tax             REAL NOT NULL,
    total           REAL NOT NULL,
    currency        TEXT NOT NULL,
    status          TEXT NOT NULL,

    client_name     TEXT NOT NULL DEFAULT '',
    client_address  TEXT NOT NULL DEFAULT '',
    client_phone    TEXT NOT NULL DEFAULT '',
    client_email    TEXT NOT NULL DEFAULT '',

    payment_id      TEXT NOT NULL DEFAULT '',
    payment_amount  REAL NOT NULL DEFAULT 0,
    payment_card    TEXT NOT NULL DEFAULT '',
    payment_tx_id   TEXT NOT NULL DEFAULT '',
    payment_status  TEXT NOT NULL DEFAULT '',
    payment_date    TEXT NOT NULL DEFAULT '',

    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_details (
    id          TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(id),
    product_id  TEXT NOT NULL,
    quantity    INTEGER NOT NULL,
    unit_price  REAL NOT NULL,
    total_price REAL NOT NULL,
    currency    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_details_order_id ON order_details(order_id);
`

// Repository is the SQLite implementation of app.OrderRepository.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Save writes the order, its lines, its client snapshot and its payment
// outcome in a single transaction.
func (r *Repository) Save(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save of order %q: %w", order.ID, err)
	}
	defer tx.Rollback()

	const insertOrder = `
		INSERT INTO orders
			(id, client_id, quantity, subtotal, tax, total, currency, status,
			 client_name, client_address, client_phone, client_email,
			 payment_id, payment_amount, payment_card, payment_tx_id, payment_status, payment_date,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, insertOrder,
		order.ID, order.ClientID, order.Quantity,
		order.Subtotal, order.Tax, order.Total, order.Currency, string(order.Status),
		order.ClientInfo.Name, order.ClientInfo.Address, order.ClientInfo.Phone, order.ClientInfo.Email,
		order.Payment.ID, order.Payment.Amount, order.Payment.CardNumber,
		order.Payment.TransactionID, order.Payment.Status, order.Payment.TransactionDate,
		order.CreatedAt.UTC().Format(time.RFC3339Nano),
		order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", order.ID, err)
	}

	const insertDetail = `
		INSERT INTO order_details (id, order_id, product_id, quantity, unit_price, total_price, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, d := range order.Details {
		_, err = tx.ExecContext(ctx, insertDetail,
			d.ID, order.ID, d.ProductID, d.Quantity, d.UnitPrice, d.TotalPrice, d.Currency)
		if err != nil {
			return fmt.Errorf("sqlite: insert detail %q of order %q: %w", d.ID, order.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit order %q: %w", order.ID, err)
	}
	return nil
}

// GetByID reconstructs a full order. Returns app.ErrOrderNotFound for
// unknown ids.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	const q = `
		SELECT id, client_id, quantity, subtotal, tax, total, currency, status,
		       client_name, client_address, client_phone, client_email,
		       payment_id, payment_amount, payment_card, payment_tx_id, payment_status, payment_date,
		       created_at, updated_at
		FROM   orders
		WHERE  id = ?`

	var (
		order              domain.Order
		status             string
		createdAt, updated string
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&order.ID, &order.ClientID, &order.Quantity,
		&order.Subtotal, &order.Tax, &order.Total, &order.Currency, &status,
		&order.ClientInfo.Name, &order.ClientInfo.Address, &order.ClientInfo.Phone, &order.ClientInfo.Email,
		&order.Payment.ID, &order.Payment.Amount, &order.Payment.CardNumber,
		&order.Payment.TransactionID, &order.Payment.Status, &order.Payment.TransactionDate,
		&createdAt, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, app.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load order %q: %w", id, err)
	}

	order.Status = domain.OrderStatus(status)
	order.Payment.OrderID = order.ID
	if order.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return nil, err
	}
	if order.UpdatedAt, err = parseRFC3339(updated); err != nil {
		return nil, err
	}

	const details = `
		SELECT id, product_id, quantity, unit_price, total_price, currency
		FROM   order_details
		WHERE  order_id = ?
		ORDER  BY rowid`

	rows, err := r.db.QueryContext(ctx, details, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load details of order %q: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.OrderDetail
		if err := rows.Scan(&d.ID, &d.ProductID, &d.Quantity, &d.UnitPrice, &d.TotalPrice, &d.Currency); err != nil {
			return nil, fmt.Errorf("sqlite: scan detail of order %q: %w", id, err)
		}
		order.Details = append(order.Details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate details of order %q: %w", id, err)
	}
	return &order, nil
}

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
