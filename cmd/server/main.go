package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/damon-houk/currency-layer-proxy/internal/application/service"
	"github.com/damon-houk/currency-layer-proxy/internal/config"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/api"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/cache"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/handler"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/metrics"

	domain "github.com/damon-houk/currency-layer-proxy/internal/domain/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	log := logger.NewJSONLogger(os.Stdout, level)
	logger.SetDefaultLogger(log)
	if err != nil {
		log.Warn("Falling back to INFO log level", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Starting currency layer proxy", map[string]interface{}{
		"port":          cfg.Server.Port,
		"cache_backend": cfg.Cache.Backend,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := domain.SystemClock{}
	m := metrics.NewMetrics()

	// Setup the quote cache
	store, closeStore, err := cache.Open(ctx, cfg.Cache, clock, log)
	if err != nil {
		log.Fatal("Failed to open quote cache", map[string]interface{}{
			"backend": cfg.Cache.Backend,
			"error":   err.Error(),
		})
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Error closing quote cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Initialize upstream client, service and handlers
	client := api.NewCurrencyLayerClient(cfg.Upstream, nil, log.WithField("component", "currency_layer_api"))
	conversionService := service.NewConversionService(store, client, clock, log, m)

	router := handler.NewRouter(
		handler.NewConversionHandler(conversionService, log),
		handler.NewHealthHandler(cfg.Cache.Backend, log),
		m, log,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"addr": server.Addr,
		})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server stopped unexpectedly", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	case <-ctx.Done():
	}

	log.Info("Shutting down", map[string]interface{}{
		"timeout": cfg.Server.ShutdownTimeout.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
