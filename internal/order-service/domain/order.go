package domain

import "time"

type OrderStatus string

// An order is created PENDIENTE, finalised exactly once right after the
// gateway call, and never transitions again in this flow.
const (
	StatusPending   OrderStatus = "PENDIENTE"
	StatusCompleted OrderStatus = "COMPLETADO"
	StatusFailed    OrderStatus = "FALLIDO"
)

type Order struct {
	ID       string
	ClientID string

	Quantity int
	Subtotal float64
	Tax      float64
	Total    float64
	Currency string

	Status OrderStatus

	Payment    Payment
	Details    []OrderDetail
	ClientInfo ClientInfo

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderDetail struct {
	ID         string
	ProductID  string
	Quantity   int
	UnitPrice  float64
	TotalPrice float64
	Currency   string
}

// Payment is the gateway outcome embedded in the order. Owned by the order
// at creation time; never updated afterwards.
type Payment struct {
	ID              string
	OrderID         string
	Amount          float64
	CardNumber      string
	TransactionID   string
	Status          string
	TransactionDate string
}

// ClientInfo is the contact snapshot taken at checkout time.
type ClientInfo struct {
	Name    string
	Address string
	Phone   string
	Email   string
}
