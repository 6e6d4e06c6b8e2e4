// Package messaging defines the wire contracts of the order saga.
//
// These payloads are versionless JSON shared with downstream services.
// Field names are load-bearing: renaming one silently breaks the contract,
// which is exactly why they live here as concrete types instead of being
// assembled from maps at the publish site.
package messaging

// Broker topology. All exchanges and queues are declared durable and every
// published message uses persistent delivery.
const (
	StockUpdateExchange   = "update_stock_exchange"
	StockUpdateRoutingKey = "update_stock_routing_key"
	StockUpdateQueue      = "update_stock_queue"

	OrderInitiatedExchange   = "order_initiated_exchange"
	OrderInitiatedRoutingKey = "order_initiated_routing_key"
	OrderInitiatedQueue      = "order_initiated_queue"
)

// StatusInitiated is the status carried by every order-initiated event.
const StatusInitiated = "INICIADO"

// StockUpdateMessage asks the stock service to deduct the quantities sold.
type StockUpdateMessage struct {
	Products []StockUpdateEntry `json:"products"`
}

type StockUpdateEntry struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderInitiatedMessage replicates a freshly completed order to the
// order-history service.
type OrderInitiatedMessage struct {
	Order OrderInitiatedPayload `json:"order"`
}

// OrderInitiatedPayload is a flattened projection of the order: totals,
// client reference and payment linkage in one level, plus the item list.
type OrderInitiatedPayload struct {
	ID                string               `json:"id"`
	OrderDate         string               `json:"orderDate"`
	Status            string               `json:"status"`
	Subtotal          float64              `json:"subtotal"`
	Taxes             float64              `json:"taxes"`
	Total             float64              `json:"total"`
	Currency          string               `json:"currency"`
	ClientID          string               `json:"clientId"`
	PaymentID         string               `json:"paymentId"`
	TransactionStatus string               `json:"transactionStatus"`
	TransactionDate   string               `json:"transactionDate"`
	TransactionID     string               `json:"transactionId"`
	Items             []OrderInitiatedItem `json:"items"`
}

type OrderInitiatedItem struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"productId"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
	TotalPrice float64 `json:"totalPrice"`
	Currency   string  `json:"currency"`
}
