/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bundle vending server: configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env honored in dev)
  2. Open the SQLite store
  3. Build gateway clients, metrics, and the orchestrator
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

ENVIRONMENT:
  PORT, DB_PATH, DATA_API_URL, DATA_API_KEY, PAYSTACK_URL,
  PAYSTACK_SECRET_KEY, PAYMENT_CALLBACK_URL, ALLOWED_ORIGINS.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  in-flight purchases to finish, close the database, exit. In-flight
  fulfillment calls are never interrupted mid-provision.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kasa/datavend/api"
	"github.com/kasa/datavend/config"
	"github.com/kasa/datavend/core"
	"github.com/kasa/datavend/datamart"
	"github.com/kasa/datavend/metrics"
	"github.com/kasa/datavend/paystack"
	"github.com/kasa/datavend/store/sqlite"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, log)

	fulfillment := datamart.New(cfg.DataAPIURL, cfg.DataAPIKey, 30*time.Second)
	payments := paystack.New(cfg.PaystackURL, cfg.PaystackSecretKey, cfg.PaymentCallbackURL, 30*time.Second)
	catalog := core.DefaultCatalog()

	orchestrator := core.NewOrchestrator(store, store, store, fulfillment, payments, catalog, m, log)

	handler := api.NewHandler(orchestrator, store, store, catalog, fulfillment, m, log)
	router := api.NewRouter(handler, cfg.AllowedOrigins, registry)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // purchases block on provider calls
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
}
