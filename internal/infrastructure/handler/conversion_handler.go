// Package handler internal/infrastructure/handler/conversion_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/damon-houk/currency-layer-proxy/internal/application/service"
	"github.com/damon-houk/currency-layer-proxy/internal/domain/entity"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/middleware"
	"github.com/gorilla/mux"
)

// Response headers set on every conversion response
const (
	CacheStatusHeader   = "X-Cache"
	CacheContextsHeader = "X-Cache-Contexts"
	QueryArgsContext    = "url.query_args"
)

// QuoteLookup is the part of the conversion service the handler needs
type QuoteLookup interface {
	GetQuotes(ctx context.Context, req entity.ConversionRequest) (*service.ConversionResult, error)
}

// ConversionHandler serves GET /api/currency
type ConversionHandler struct {
	service QuoteLookup
	logger  logger.Logger
}

// NewConversionHandler creates a new conversion handler
func NewConversionHandler(service QuoteLookup, log logger.Logger) *ConversionHandler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &ConversionHandler{
		service: service,
		logger:  log,
	}
}

// GetConversion answers with the quote map or an error envelope. The HTTP
// status is always 200; failures are described inside the body.
func (h *ConversionHandler) GetConversion(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	query := r.URL.Query()
	req := entity.NewConversionRequest(query.Get("source"), query.Get("currencies"))

	h.logger.Debug("Handling conversion request", map[string]interface{}{
		"request_id": requestID,
		"source":     req.Source,
		"currencies": req.RawCurrencies,
		"cache_key":  req.CacheKey(),
	})

	// Anything caching in front of the proxy must key on the query string
	w.Header().Set(CacheContextsHeader, QueryArgsContext)
	w.Header().Add("Vary", "Accept-Encoding")

	result, err := h.service.GetQuotes(r.Context(), req)
	if err != nil {
		envelope := entity.EnvelopeFor(err)

		h.logger.Warn("Conversion failed", map[string]interface{}{
			"request_id": requestID,
			"source":     req.Source,
			"currencies": req.RawCurrencies,
			"code":       envelope.Error.Code,
			"message":    envelope.Error.Message,
			"error":      err.Error(),
		})

		w.Header().Set(CacheStatusHeader, "MISS")
		sendEnvelope(w, h.logger, envelope, requestID)
		return
	}

	cacheStatus := "MISS"
	if result.CacheHit {
		cacheStatus = "HIT"
	}
	w.Header().Set(CacheStatusHeader, cacheStatus)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(result.Payload); err != nil {
		h.logger.Warn("Failed to write response", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}
}

// RegisterRoutes registers the conversion handler routes
func (h *ConversionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/currency", h.GetConversion).Methods("GET")

	h.logger.Info("Conversion routes registered", map[string]interface{}{
		"routes": []string{
			"GET /api/currency",
		},
	})
}

// sendEnvelope writes a failure envelope with HTTP 200
func sendEnvelope(w http.ResponseWriter, log logger.Logger, envelope entity.ErrorEnvelope, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		log.Warn("Failed to write error envelope", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
	}
}
