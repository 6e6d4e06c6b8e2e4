package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/broker"
	"github.com/jcmexdev/ecommerce-choreography/internal/messaging"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/config"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/metrics"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/telemetry"
	stockservice "github.com/jcmexdev/ecommerce-choreography/internal/stock-service"
)

func main() {
	telemetry.InitLogger("stock-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "stock-service")
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

	cfg := config.LoadStockService()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	store, err := stockservice.OpenStore(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open stock database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	consumer := broker.NewConsumer(
		broker.AMQPDial(cfg.Broker.URL),
		broker.ConsumerConfig{
			Queue:              messaging.StockUpdateQueue,
			Exchange:           messaging.StockUpdateExchange,
			RoutingKey:         messaging.StockUpdateRoutingKey,
			MaxRetries:         cfg.Broker.MaxRetries,
			MaxConnectAttempts: cfg.Broker.MaxConnectAttempts,
			ReconnectBackoff:   cfg.Broker.ReconnectBackoff,
		},
		stockservice.NewProjector(store).Handle,
		metrics.Default,
	)

	metricsServer := metrics.StartServer(cfg.MetricsAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("consumer terminated", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
}
