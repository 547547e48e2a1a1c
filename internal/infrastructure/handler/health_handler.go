package handler

import (
	"encoding/json"
	"net/http"

	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

// HealthHandler serves GET /health
type HealthHandler struct {
	cacheBackend string
	logger       logger.Logger
}

// NewHealthHandler creates a health handler reporting the configured cache backend
func NewHealthHandler(cacheBackend string, log logger.Logger) *HealthHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &HealthHandler{
		cacheBackend: cacheBackend,
		logger:       log,
	}
}

// GetHealth reports that the process is serving
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Cache: h.cacheBackend}); err != nil {
		h.logger.Warn("Failed to write health response", map[string]interface{}{
			"request_id": middleware.GetRequestID(r.Context()),
			"error":      err.Error(),
		})
	}
}

// RegisterRoutes registers the health route
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
}
