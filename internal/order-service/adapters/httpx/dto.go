package httpx

// Responses are the camelCase order projection the checkout contract
// promises. The request shape lives in the app package, which decodes the
// body directly.

type OrderResponse struct {
	ID           string                `json:"id"`
	ClientID     string                `json:"clientId"`
	Quantity     int                   `json:"quantity"`
	Subtotal     float64               `json:"subtotal"`
	Tax          float64               `json:"tax"`
	Total        float64               `json:"total"`
	Currency     string                `json:"currency"`
	Status       string                `json:"status"`
	Payment      PaymentResponse       `json:"payment"`
	ClientInfo   ClientInfoResponse    `json:"clientInfo"`
	OrderDetails []OrderDetailResponse `json:"orderDetails"`
	CreatedAt    string                `json:"createdAt"`
	UpdatedAt    string                `json:"updatedAt"`
}

type PaymentResponse struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"orderId"`
	Amount          float64 `json:"amount"`
	CardNumber      string  `json:"cardNumber"`
	TransactionID   string  `json:"transactionId"`
	Status          string  `json:"status"`
	TransactionDate string  `json:"transactionDate"`
}

type ClientInfoResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

type OrderDetailResponse struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"productId"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
	TotalPrice float64 `json:"totalPrice"`
	Currency   string  `json:"currency"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
