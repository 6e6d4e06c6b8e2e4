package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/broker"
	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/adapters/httpx"
	ordersqlite "github.com/jcmexdev/ecommerce-choreography/internal/order-service/adapters/sqlite"
	"github.com/jcmexdev/ecommerce-choreography/internal/order-service/app"
	"github.com/jcmexdev/ecommerce-choreography/internal/payment"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/cache"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/config"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/metrics"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/telemetry"
)

func main() {
	telemetry.InitLogger("order-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "order-service")
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	cfg := config.LoadOrderService()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	repo, err := ordersqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open order database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	pool := broker.NewPool(broker.AMQPDial(cfg.Broker.URL), cfg.Broker.PoolSize)
	defer pool.Close()
	publisher := broker.NewPublisher(pool, metrics.Default)

	gateway := payment.NewClient(payment.Config{
		BaseURL:      cfg.GatewayURL,
		ClientID:     cfg.GatewayClientID,
		ClientSecret: cfg.GatewayClientSecret,
		Timeout:      cfg.GatewayTimeout,
	})

	orderCache := cache.NewRedisCache(cfg.RedisAddr, "order")
	orders := app.NewOrderService(repo, gateway, publisher, orderCache)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpx.NewRouter(httpx.NewHandler(orders)),
	}

	go func() {
		slog.Info("order service running", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
}
