package handler

import (
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/metrics"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

// NewRouter wires the handlers behind the middleware chain. A nil m serves
// /metrics as 404 and records nothing.
func NewRouter(conversion *ConversionHandler, health *HealthHandler, m *metrics.Metrics, log logger.Logger) *mux.Router {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	router := mux.NewRouter()
	router.Use(
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(log),
		middleware.MetricsMiddleware(m),
		middleware.RecoveryMiddleware(log),
	)

	conversion.RegisterRoutes(router)
	health.RegisterRoutes(router)
	router.Handle("/metrics", m.Handler()).Methods("GET")

	return router
}
