package app

import (
	"fmt"
	"math"
	"regexp"
)

var (
	currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)
	cardPattern     = regexp.MustCompile(`^\d{13,19}$`)
	cvvPattern      = regexp.MustCompile(`^\d{3,4}$`)
	expiryPattern   = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// priceTolerance is the rounding slack allowed between a line's totalPrice
// and quantity*unitPrice.
const priceTolerance = 0.01

// ValidationError reports the first payload rule a checkout request breaks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: field %q %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks shape and format rules only. It performs no I/O and must
// pass before any side effect of the checkout happens.
func (r PlaceOrderRequest) Validate() error {
	if r.ClientID == "" {
		return invalid("clientId", "is required")
	}
	if r.Quantity == nil || *r.Quantity < 0 {
		return invalid("quantity", "must be a non-negative number")
	}
	if r.Subtotal == nil || *r.Subtotal < 0 {
		return invalid("subtotal", "must be a non-negative number")
	}
	if r.Tax == nil || *r.Tax < 0 {
		return invalid("tax", "must be a non-negative number")
	}
	if r.Total == nil || *r.Total < 0 {
		return invalid("total", "must be a non-negative number")
	}
	if !currencyPattern.MatchString(r.Currency) {
		return invalid("currency", "must be a 3-letter code")
	}

	if r.Payment == nil {
		return invalid("payment", "is required")
	}
	if err := r.Payment.validate(); err != nil {
		return err
	}

	if r.ClientInfo == nil {
		return invalid("clientInfo", "is required")
	}
	if err := r.ClientInfo.validate(); err != nil {
		return err
	}

	if len(r.OrderDetails) == 0 {
		return invalid("orderDetails", "must be a non-empty array")
	}
	for i, d := range r.OrderDetails {
		if err := d.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (p PaymentRequest) validate() error {
	if p.Amount == nil || *p.Amount < 0 {
		return invalid("payment.amount", "must be a non-negative number")
	}
	if !cardPattern.MatchString(p.CardNumber) {
		return invalid("payment.cardNumber", "must be 13 to 19 digits")
	}
	if !cvvPattern.MatchString(p.CVV) {
		return invalid("payment.cvv", "must be 3 or 4 digits")
	}
	if !expiryPattern.MatchString(p.ExpiryDate) {
		return invalid("payment.expiryDate", "must be MM/YY")
	}
	if !currencyPattern.MatchString(p.Currency) {
		return invalid("payment.currency", "must be a 3-letter code")
	}
	return nil
}

func (c ClientInfoRequest) validate() error {
	if c.Name == "" {
		return invalid("clientInfo.name", "is required")
	}
	if c.Address == "" {
		return invalid("clientInfo.address", "is required")
	}
	if c.Phone == "" {
		return invalid("clientInfo.phone", "is required")
	}
	if !emailPattern.MatchString(c.Email) {
		return invalid("clientInfo.email", "must be a valid email address")
	}
	return nil
}

func (d OrderDetailRequest) validate(i int) error {
	field := func(name string) string { return fmt.Sprintf("orderDetails[%d].%s", i, name) }

	if d.ProductID == "" {
		return invalid(field("productId"), "is required")
	}
	if d.Quantity == nil || *d.Quantity < 0 {
		return invalid(field("quantity"), "must be a non-negative number")
	}
	if d.UnitPrice == nil || *d.UnitPrice < 0 {
		return invalid(field("unitPrice"), "must be a non-negative number")
	}
	if d.TotalPrice == nil || *d.TotalPrice < 0 {
		return invalid(field("totalPrice"), "must be a non-negative number")
	}
	if !currencyPattern.MatchString(d.Currency) {
		return invalid(field("currency"), "must be a 3-letter code")
	}
	if math.Abs(*d.TotalPrice-float64(*d.Quantity)**d.UnitPrice) > priceTolerance {
		return invalid(field("totalPrice"), "must equal quantity*unitPrice")
	}
	return nil
}
