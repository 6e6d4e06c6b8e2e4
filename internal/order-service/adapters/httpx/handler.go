package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/app"
	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-choreography/internal/payment"
)

// OrderService is what the HTTP layer needs from the orchestrator.
type OrderService interface {
	PlaceOrder(ctx context.Context, req app.PlaceOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

type Handler struct {
	orders OrderService
}

func NewHandler(orders OrderService) *Handler {
	return &Handler{orders: orders}
}

// PlaceOrder runs the checkout. 201 approved, 402 declined, 400 invalid
// payload, 502 when the gateway produced no charge outcome.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req app.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		var vErr *app.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, "invalid_order", vErr.Error())
		case errors.Is(err, payment.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment_gateway_unavailable", err.Error())
		default:
			slog.ErrorContext(r.Context(), "checkout failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}

	status := http.StatusCreated
	if order.Status == domain.StatusFailed {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, mapOrderToResponse(order))
}

// GetOrder returns a single persisted order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found", "")
			return
		}
		slog.ErrorContext(r.Context(), "order lookup failed", "order_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func mapOrderToResponse(order *domain.Order) OrderResponse {
	details := make([]OrderDetailResponse, len(order.Details))
	for i, d := range order.Details {
		details[i] = OrderDetailResponse{
			ID:         d.ID,
			ProductID:  d.ProductID,
			Quantity:   d.Quantity,
			UnitPrice:  d.UnitPrice,
			TotalPrice: d.TotalPrice,
			Currency:   d.Currency,
		}
	}
	return OrderResponse{
		ID:       order.ID,
		ClientID: order.ClientID,
		Quantity: order.Quantity,
		Subtotal: order.Subtotal,
		Tax:      order.Tax,
		Total:    order.Total,
		Currency: order.Currency,
		Status:   string(order.Status),
		Payment: PaymentResponse{
			ID:              order.Payment.ID,
			OrderID:         order.Payment.OrderID,
			Amount:          order.Payment.Amount,
			CardNumber:      order.Payment.CardNumber,
			TransactionID:   order.Payment.TransactionID,
			Status:          order.Payment.Status,
			TransactionDate: order.Payment.TransactionDate,
		},
		ClientInfo: ClientInfoResponse{
			Name:    order.ClientInfo.Name,
			Address: order.ClientInfo.Address,
			Phone:   order.ClientInfo.Phone,
			Email:   order.ClientInfo.Email,
		},
		OrderDetails: details,
		CreatedAt:    order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    order.UpdatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
