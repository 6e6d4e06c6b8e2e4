package app

// PlaceOrderRequest is the checkout payload. Numeric fields are pointers so
// that a missing field can be told apart from a legitimate zero during
// validation.
type PlaceOrderRequest struct {
	ClientID     string               `json:"clientId"`
	Quantity     *int                 `json:"quantity"`
	Subtotal     *float64             `json:"subtotal"`
	Tax          *float64             `json:"tax"`
	Total        *float64             `json:"total"`
	Currency     string               `json:"currency"`
	Payment      *PaymentRequest      `json:"payment"`
	ClientInfo   *ClientInfoRequest   `json:"clientInfo"`
	OrderDetails []OrderDetailRequest `json:"orderDetails"`
}

type PaymentRequest struct {
	Amount     *float64 `json:"amount"`
	CardNumber string   `json:"cardNumber"`
	CVV        string   `json:"cvv"`
	ExpiryDate string   `json:"expiryDate"`
	Currency   string   `json:"currency"`
}

type ClientInfoRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

type OrderDetailRequest struct {
	ProductID  string   `json:"productId"`
	Quantity   *int     `json:"quantity"`
	UnitPrice  *float64 `json:"unitPrice"`
	TotalPrice *float64 `json:"totalPrice"`
	Currency   string   `json:"currency"`
}
