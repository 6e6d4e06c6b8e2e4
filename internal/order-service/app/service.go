// Package app hosts the order orchestrator: the synchronous half of the
// fulfillment saga. It validates the checkout payload, charges the gateway,
// persists the outcome and, only for completed orders, announces the result
// to the rest of the platform through the broker.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-choreography/internal/payment"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/cache"
)

// ErrOrderNotFound is returned by lookups for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository persists the order, its detail lines, its client snapshot
// and its payment outcome as one logical unit.
type OrderRepository interface {
	Save(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// PaymentProcessor is the synchronous charge call. A decline is a result,
// not an error; errors mean no charge outcome could be obtained.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req payment.Request) (*payment.Result, error)
}

// EventPublisher pushes one message to the broker. The bool mirrors the
// publisher contract: failures are reported, never raised.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey, messageID string, payload any) bool
}

const orderCacheTTL = 5 * time.Minute

type OrderService struct {
	repo      OrderRepository
	gateway   PaymentProcessor
	publisher EventPublisher
	cache     cache.Cache // optional; nil disables the read cache

	now   func() time.Time
	newID func() string
}

func NewOrderService(repo OrderRepository, gateway PaymentProcessor, publisher EventPublisher, c cache.Cache) *OrderService {
	return &OrderService{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		cache:     c,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// PlaceOrder runs one checkout:
//
//  1. validate (pure, no side effects on failure)
//  2. build a PENDIENTE order with a fresh identity
//  3. charge the gateway synchronously
//  4. finalise the status: COMPLETADO iff the charge was approved
//  5. persist order + lines + client snapshot + payment in one write
//  6. on COMPLETADO only, publish the stock-update and order-initiated events
//
// Publish failures do not fail the checkout; the order stands and the loss
// is logged and counted. A gateway fault surfaces as an error wrapping
// payment.ErrGatewayUnavailable before anything is persisted.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order := s.buildOrder(req)

	res, err := s.gateway.ProcessPayment(ctx, payment.Request{
		Amount:         *req.Payment.Amount,
		CardNumber:     req.Payment.CardNumber,
		CVV:            req.Payment.CVV,
		ExpiryDate:     req.Payment.ExpiryDate,
		Currency:       req.Payment.Currency,
		IdempotencyKey: order.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("process payment for order %s: %w", order.ID, err)
	}

	order.Payment = domain.Payment{
		ID:              res.ID,
		OrderID:         order.ID,
		Amount:          *req.Payment.Amount,
		CardNumber:      res.CardNumber,
		TransactionID:   res.TransactionReference,
		Status:          res.Status,
		TransactionDate: res.Timestamp,
	}
	if res.Approved() {
		order.Status = domain.StatusCompleted
	} else {
		order.Status = domain.StatusFailed
	}
	order.UpdatedAt = s.now().UTC()

	if err := s.repo.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save order %s: %w", order.ID, err)
	}

	slog.InfoContext(ctx, "order finalised",
		"order_id", order.ID, "status", order.Status, "payment_status", res.Status)

	if order.Status == domain.StatusCompleted {
		s.announce(ctx, order)
	}
	return order, nil
}

// GetOrder serves the read side, backed by the repository with a
// read-through cache in front.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, s.cache.GenerateKey("order", id))
		if err == nil && raw != "" {
			var order domain.Order
			if json.Unmarshal([]byte(raw), &order) == nil {
				return &order, nil
			}
		}
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if b, err := json.Marshal(order); err == nil {
			_ = s.cache.Set(ctx, s.cache.GenerateKey("order", id), b, orderCacheTTL)
		}
	}
	return order, nil
}

func (s *OrderService) buildOrder(req PlaceOrderRequest) *domain.Order {
	now := s.now().UTC()

	details := make([]domain.OrderDetail, len(req.OrderDetails))
	for i, d := range req.OrderDetails {
		details[i] = domain.OrderDetail{
			ID:         s.newID(),
			ProductID:  d.ProductID,
			Quantity:   *d.Quantity,
			UnitPrice:  *d.UnitPrice,
			TotalPrice: *d.TotalPrice,
			Currency:   d.Currency,
		}
	}

	return &domain.Order{
		ID:       s.newID(),
		ClientID: req.ClientID,
		Quantity: *req.Quantity,
		Subtotal: *req.Subtotal,
		Tax:      *req.Tax,
		Total:    *req.Total,
		Currency: req.Currency,
		Status:   domain.StatusPending,
		Details:  details,
		ClientInfo: domain.ClientInfo{
			Name:    req.ClientInfo.Name,
			Address: req.ClientInfo.Address,
			Phone:   req.ClientInfo.Phone,
			Email:   req.ClientInfo.Email,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// announce publishes the two events of a completed checkout. They are
// independent publishes, not a batch: either can fail alone, and neither
// failure is allowed to bubble up into the HTTP response.
func (s *OrderService) announce(ctx context.Context, order *domain.Order) {
	if !s.publisher.Publish(ctx,
		messaging.StockUpdateExchange, messaging.StockUpdateRoutingKey,
		order.ID, stockUpdateFor(order)) {
		slog.WarnContext(ctx, "stock update not announced", "order_id", order.ID)
	}

	if !s.publisher.Publish(ctx,
		messaging.OrderInitiatedExchange, messaging.OrderInitiatedRoutingKey,
		order.ID, orderInitiatedFor(order)) {
		slog.WarnContext(ctx, "order initiation not announced", "order_id", order.ID)
	}
}

func stockUpdateFor(order *domain.Order) messaging.StockUpdateMessage {
	entries := make([]messaging.StockUpdateEntry, len(order.Details))
	for i, d := range order.Details {
		entries[i] = messaging.StockUpdateEntry{
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
		}
	}
	return messaging.StockUpdateMessage{Products: entries}
}

func orderInitiatedFor(order *domain.Order) messaging.OrderInitiatedMessage {
	items := make([]messaging.OrderInitiatedItem, len(order.Details))
	for i, d := range order.Details {
		items[i] = messaging.OrderInitiatedItem{
			ID:         d.ID,
			ProductID:  d.ProductID,
			Quantity:   d.Quantity,
			UnitPrice:  d.UnitPrice,
			TotalPrice: d.TotalPrice,
			Currency:   d.Currency,
		}
	}
	return messaging.OrderInitiatedMessage{
		Order: messaging.OrderInitiatedPayload{
			ID:                order.ID,
			OrderDate:         order.CreatedAt.Format(time.RFC3339),
			Status:            messaging.StatusInitiated,
			Subtotal:          order.Subtotal,
			Taxes:             order.Tax,
			Total:             order.Total,
			Currency:          order.Currency,
			ClientID:          order.ClientID,
			PaymentID:         order.Payment.ID,
			TransactionStatus: order.Payment.Status,
			TransactionDate:   order.Payment.TransactionDate,
			TransactionID:     order.Payment.TransactionID,
			Items:             items,
		},
	}
}
