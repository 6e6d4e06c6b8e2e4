package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func iptr(v int) *int        { return &v }

func validRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		ClientID: "client-1",
		Quantity: iptr(2),
		Subtotal: f64(100),
		Tax:      f64(19),
		Total:    f64(119),
		Currency: "USD",
		Payment: &PaymentRequest{
			Amount:     f64(119),
			CardNumber: "4111111111111111",
			CVV:        "123",
			ExpiryDate: "12/27",
			Currency:   "USD",
		},
		ClientInfo: &ClientInfoRequest{
			Name:    "Ana Gómez",
			Address: "Calle 100 #1-20",
			Phone:   "+57 300 000 0000",
			Email:   "ana@example.com",
		},
		OrderDetails: []OrderDetailRequest{
			{ProductID: "p1", Quantity: iptr(1), UnitPrice: f64(50), TotalPrice: f64(50), Currency: "USD"},
			{ProductID: "p2", Quantity: iptr(1), UnitPrice: f64(50), TotalPrice: f64(50), Currency: "USD"},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validRequest().Validate())
}

func TestValidate_ToleratesRounding(t *testing.T) {
	req := validRequest()
	req.OrderDetails[0].Quantity = iptr(3)
	req.OrderDetails[0].UnitPrice = f64(33.33)
	req.OrderDetails[0].TotalPrice = f64(100.00) // 99.99 + 0.01 tolerance
	require.NoError(t, req.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *PlaceOrderRequest)
		wantField string
	}{
		{"missing clientId", func(r *PlaceOrderRequest) { r.ClientID = "" }, "clientId"},
		{"missing quantity", func(r *PlaceOrderRequest) { r.Quantity = nil }, "quantity"},
		{"negative subtotal", func(r *PlaceOrderRequest) { r.Subtotal = f64(-1) }, "subtotal"},
		{"missing total", func(r *PlaceOrderRequest) { r.Total = nil }, "total"},
		{"bad currency", func(r *PlaceOrderRequest) { r.Currency = "USDD" }, "currency"},
		{"missing payment", func(r *PlaceOrderRequest) { r.Payment = nil }, "payment"},
		{"card too short", func(r *PlaceOrderRequest) { r.Payment.CardNumber = "411111111111" }, "payment.cardNumber"},
		{"card too long", func(r *PlaceOrderRequest) { r.Payment.CardNumber = "41111111111111111111" }, "payment.cardNumber"},
		{"card not digits", func(r *PlaceOrderRequest) { r.Payment.CardNumber = "4111-1111-1111-111" }, "payment.cardNumber"},
		{"cvv too short", func(r *PlaceOrderRequest) { r.Payment.CVV = "12" }, "payment.cvv"},
		{"bad expiry month", func(r *PlaceOrderRequest) { r.Payment.ExpiryDate = "13/27" }, "payment.expiryDate"},
		{"bad expiry shape", func(r *PlaceOrderRequest) { r.Payment.ExpiryDate = "2027-12" }, "payment.expiryDate"},
		{"bad payment currency", func(r *PlaceOrderRequest) { r.Payment.Currency = "US" }, "payment.currency"},
		{"missing clientInfo", func(r *PlaceOrderRequest) { r.ClientInfo = nil }, "clientInfo"},
		{"missing name", func(r *PlaceOrderRequest) { r.ClientInfo.Name = "" }, "clientInfo.name"},
		{"bad email", func(r *PlaceOrderRequest) { r.ClientInfo.Email = "not-an-email" }, "clientInfo.email"},
		{"empty details", func(r *PlaceOrderRequest) { r.OrderDetails = nil }, "orderDetails"},
		{"missing productId", func(r *PlaceOrderRequest) { r.OrderDetails[0].ProductID = "" }, "orderDetails[0].productId"},
		{"negative unit price", func(r *PlaceOrderRequest) { r.OrderDetails[1].UnitPrice = f64(-5) }, "orderDetails[1].unitPrice"},
		{"total price mismatch", func(r *PlaceOrderRequest) { r.OrderDetails[0].TotalPrice = f64(51) }, "orderDetails[0].totalPrice"},
		{"bad line currency", func(r *PlaceOrderRequest) { r.OrderDetails[0].Currency = "dollars" }, "orderDetails[0].currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}
