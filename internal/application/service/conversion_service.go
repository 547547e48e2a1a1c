// Package service internal/application/service/conversion_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/damon-houk/currency-layer-proxy/internal/domain/entity"
	"github.com/damon-houk/currency-layer-proxy/internal/domain/repository"
	domain "github.com/damon-houk/currency-layer-proxy/internal/domain/service"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/metrics"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/middleware"
	"golang.org/x/sync/singleflight"
)

// ConversionResult is a successful lookup: the JSON quote payload and whether it came from the cache
type ConversionResult struct {
	Payload  []byte
	CacheHit bool
}

// ConversionService answers conversion lookups from the cache, falling back to the provider
type ConversionService struct {
	cache    repository.QuoteCache
	provider domain.QuoteProvider
	clock    domain.Clock
	logger   logger.Logger
	metrics  *metrics.Metrics
	inflight singleflight.Group
}

// NewConversionService creates a new conversion service. A nil clock uses the
// wall clock, a nil logger the default logger and nil metrics record nothing.
func NewConversionService(cache repository.QuoteCache, provider domain.QuoteProvider, clock domain.Clock, log logger.Logger, m *metrics.Metrics) *ConversionService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &ConversionService{
		cache:    cache,
		provider: provider,
		clock:    clock,
		logger:   log,
		metrics:  m,
	}
}

// GetQuotes returns the quote payload for req. Cached payloads are returned
// byte for byte. Errors are never cached.
func (s *ConversionService) GetQuotes(ctx context.Context, req entity.ConversionRequest) (*ConversionResult, error) {
	requestID := middleware.GetRequestID(ctx)
	key := req.CacheKey()

	if payload, ok := s.lookup(ctx, key, requestID); ok {
		return &ConversionResult{Payload: payload, CacheHit: true}, nil
	}

	// Concurrent misses for one key share a single upstream call. The call is
	// detached from the first caller's cancellation so it cannot fail the others;
	// the HTTP client timeout still bounds it.
	v, err, shared := s.inflight.Do(key, func() (interface{}, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), req, key, requestID)
	})
	if shared {
		s.metrics.ObserveCoalesced()
		s.logger.Debug("Shared in-flight upstream call", map[string]interface{}{
			"request_id": requestID,
			"cache_key":  key,
		})
	}
	if err != nil {
		return nil, err
	}

	return &ConversionResult{Payload: v.([]byte)}, nil
}

// lookup reads the cache. A read error is logged and treated as a miss.
func (s *ConversionService) lookup(ctx context.Context, key, requestID string) ([]byte, bool) {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.ObserveCacheLookup(metrics.CacheError)
		s.logger.Warn("Quote cache read failed, treating as miss", map[string]interface{}{
			"request_id": requestID,
			"cache_key":  key,
			"error":      err.Error(),
		})
		return nil, false
	}

	if !ok {
		s.metrics.ObserveCacheLookup(metrics.CacheMiss)
		s.logger.Debug("Cache MISS", map[string]interface{}{
			"request_id": requestID,
			"cache_key":  key,
		})
		return nil, false
	}

	s.metrics.ObserveCacheLookup(metrics.CacheHit)
	s.logger.Debug("Cache HIT", map[string]interface{}{
		"request_id": requestID,
		"cache_key":  key,
	})
	return payload, true
}

func (s *ConversionService) fetchAndStore(ctx context.Context, req entity.ConversionRequest, key, requestID string) ([]byte, error) {
	start := time.Now()
	quotes, err := s.provider.FetchQuotes(ctx, req.Source, req.RawCurrencies)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		outcome := upstreamOutcome(err)
		s.metrics.ObserveUpstream(outcome, elapsed)
		s.logFetchFailure(outcome, req, requestID, err)
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}
	s.metrics.ObserveUpstream(metrics.UpstreamSuccess, elapsed)

	payload, err := json.Marshal(quotes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quotes: %w", err)
	}

	expiresAt := s.clock.Now().Add(entity.QuoteTTL)
	err = s.cache.Set(ctx, key, payload, expiresAt)
	s.metrics.ObserveCacheWrite(err)
	if err != nil {
		// The caller still gets the fresh quotes
		s.logger.Error("Failed to store quotes in cache", map[string]interface{}{
			"request_id": requestID,
			"cache_key":  key,
			"error":      err.Error(),
		})
	} else {
		s.logger.Info("Quotes fetched and cached", map[string]interface{}{
			"request_id": requestID,
			"cache_key":  key,
			"quotes":     len(quotes),
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})
	}

	return payload, nil
}

func (s *ConversionService) logFetchFailure(outcome string, req entity.ConversionRequest, requestID string, err error) {
	fields := map[string]interface{}{
		"request_id": requestID,
		"source":     req.Source,
		"currencies": req.RawCurrencies,
		"outcome":    outcome,
		"error":      err.Error(),
	}

	switch outcome {
	case metrics.UpstreamUnconfigured:
		s.logger.Error("Upstream API is not configured", fields)
	case metrics.UpstreamEmptyBody:
		s.logger.Warn("Upstream returned an empty body", fields)
	case metrics.UpstreamIncorrectData:
		s.logger.Warn("Upstream returned no usable quotes", fields)
	default:
		s.logger.Warn("Upstream request failed", fields)
	}
}

func upstreamOutcome(err error) string {
	var upstreamErr *entity.UpstreamError

	switch {
	case errors.Is(err, entity.ErrMissingConfiguration):
		return metrics.UpstreamUnconfigured
	case errors.Is(err, entity.ErrEmptyResponse):
		return metrics.UpstreamEmptyBody
	case errors.Is(err, entity.ErrIncorrectData):
		return metrics.UpstreamIncorrectData
	case errors.As(err, &upstreamErr) && upstreamErr.Err != nil:
		return metrics.UpstreamTransportError
	default:
		return metrics.UpstreamHTTPError
	}
}
