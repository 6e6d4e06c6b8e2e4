package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/metrics"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/orders", handler.PlaceOrder)
	r.Get("/orders/{id}", handler.GetOrder)
	r.Get("/health", handler.Health)
	r.Get("/metrics", metrics.Handler())
	return r
}
