// internal/application/service/conversion_service_test.go
package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/damon-houk/currency-layer-proxy/internal/config"
	"github.com/damon-houk/currency-layer-proxy/internal/domain/entity"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/api"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/cache"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/metrics"
	"github.com/damon-houk/currency-layer-proxy/internal/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)

func quietLogger() logger.Logger {
	return logger.NewJSONLogger(&bytes.Buffer{}, logger.DebugLevel)
}

func TestGetQuotes(t *testing.T) {
	ctx := context.Background()
	req := entity.NewConversionRequest("USD", "GBP,EUR")
	key := "currency_layer_api:source_USD_currencies_EUR_GBP"

	t.Run("Cache hit returns stored bytes without upstream call", func(t *testing.T) {
		cacheStore := new(mocks.MockQuoteCache)
		provider := new(mocks.MockQuoteProvider)
		service := NewConversionService(cacheStore, provider, mocks.NewFakeClock(testNow), quietLogger(), nil)

		stored := []byte(`{"USDEUR":0.91,"USDGBP":0.79}`)
		cacheStore.On("Get", ctx, key).Return(stored, true, nil).Once()

		result, err := service.GetQuotes(ctx, req)

		require.NoError(t, err)
		assert.True(t, result.CacheHit)
		assert.Equal(t, stored, result.Payload)
		cacheStore.AssertExpectations(t)
		provider.AssertNotCalled(t, "FetchQuotes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cache miss fetches and stores for 24 hours", func(t *testing.T) {
		cacheStore := new(mocks.MockQuoteCache)
		provider := new(mocks.MockQuoteProvider)
		service := NewConversionService(cacheStore, provider, mocks.NewFakeClock(testNow), quietLogger(), nil)

		cacheStore.On("Get", ctx, key).Return(nil, false, nil).Once()
		provider.On("FetchQuotes", mock.Anything, "USD", "GBP,EUR").
			Return(entity.Quotes{"USDEUR": 0.91}, nil).Once()
		cacheStore.On("Set", mock.Anything, key, []byte(`{"USDEUR":0.91}`), testNow.Add(86400*time.Second)).
			Return(nil).Once()

		result, err := service.GetQuotes(ctx, req)

		require.NoError(t, err)
		assert.False(t, result.CacheHit)
		assert.JSONEq(t, `{"USDEUR":0.91}`, string(result.Payload))
		cacheStore.AssertExpectations(t)
		provider.AssertExpectations(t)
	})

	errorCases := []struct {
		name string
		err  error
	}{
		{"Upstream HTTP error", &entity.UpstreamError{StatusCode: 503, Reason: "Service Unavailable"}},
		{"Missing configuration", entity.ErrMissingConfiguration},
		{"Empty response", entity.ErrEmptyResponse},
		{"Incorrect data", entity.ErrIncorrectData},
	}

	for _, tc := range errorCases {
		t.Run(tc.name+" is not cached", func(t *testing.T) {
			cacheStore := new(mocks.MockQuoteCache)
			provider := new(mocks.MockQuoteProvider)
			service := NewConversionService(cacheStore, provider, mocks.NewFakeClock(testNow), quietLogger(), nil)

			cacheStore.On("Get", ctx, key).Return(nil, false, nil).Once()
			provider.On("FetchQuotes", mock.Anything, "USD", "GBP,EUR").Return(nil, tc.err).Once()

			result, err := service.GetQuotes(ctx, req)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tc.err)
			assert.Contains(t, err.Error(), "failed to fetch quotes")
			cacheStore.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			provider.AssertExpectations(t)
		})
	}

	t.Run("Cache read error is treated as a miss", func(t *testing.T) {
		cacheStore := new(mocks.MockQuoteCache)
		provider := new(mocks.MockQuoteProvider)
		service := NewConversionService(cacheStore, provider, mocks.NewFakeClock(testNow), quietLogger(), nil)

		cacheStore.On("Get", ctx, key).Return(nil, false, errors.New("badger closed")).Once()
		provider.On("FetchQuotes", mock.Anything, "USD", "GBP,EUR").
			Return(entity.Quotes{"USDEUR": 0.91}, nil).Once()
		cacheStore.On("Set", mock.Anything, key, mock.Anything, mock.Anything).Return(nil).Once()

		result, err := service.GetQuotes(ctx, req)

		require.NoError(t, err)
		assert.JSONEq(t, `{"USDEUR":0.91}`, string(result.Payload))
		cacheStore.AssertExpectations(t)
	})

	t.Run("Cache write error still returns quotes", func(t *testing.T) {
		cacheStore := new(mocks.MockQuoteCache)
		provider := new(mocks.MockQuoteProvider)
		m := metrics.NewMetrics()
		service := NewConversionService(cacheStore, provider, mocks.NewFakeClock(testNow), quietLogger(), m)

		cacheStore.On("Get", ctx, key).Return(nil, false, nil).Once()
		provider.On("FetchQuotes", mock.Anything, "USD", "GBP,EUR").
			Return(entity.Quotes{"USDEUR": 0.91}, nil).Once()
		cacheStore.On("Set", mock.Anything, key, mock.Anything, mock.Anything).
			Return(errors.New("disk full")).Once()

		result, err := service.GetQuotes(ctx, req)

		require.NoError(t, err)
		assert.JSONEq(t, `{"USDEUR":0.91}`, string(result.Payload))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheWritesTotal.WithLabelValues("error")))
	})
}

func TestGetQuotesExpiry(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewFakeClock(testNow)
	store := cache.NewMemoryStore(clock)
	provider := new(mocks.MockQuoteProvider)
	m := metrics.NewMetrics()
	service := NewConversionService(store, provider, clock, quietLogger(), m)

	req := entity.NewConversionRequest("USD", "EUR")

	provider.On("FetchQuotes", mock.Anything, "USD", "EUR").
		Return(entity.Quotes{"USDEUR": 0.91}, nil).Once()

	first, err := service.GetQuotes(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	// Repeated calls within 24 hours are byte-identical and never reach upstream
	for _, offset := range []time.Duration{time.Minute, 12 * time.Hour, 24*time.Hour - time.Second} {
		clock.Advance(offset - (clock.Now().Sub(testNow)))
		again, err := service.GetQuotes(ctx, req)
		require.NoError(t, err)
		assert.True(t, again.CacheHit)
		assert.Equal(t, first.Payload, again.Payload)
	}
	provider.AssertNumberOfCalls(t, "FetchQuotes", 1)

	// After the window exactly one new upstream call overwrites the entry
	clock.Advance(time.Second)
	provider.On("FetchQuotes", mock.Anything, "USD", "EUR").
		Return(entity.Quotes{"USDEUR": 0.93}, nil).Once()

	refreshed, err := service.GetQuotes(ctx, req)
	require.NoError(t, err)
	assert.False(t, refreshed.CacheHit)
	assert.JSONEq(t, `{"USDEUR":0.93}`, string(refreshed.Payload))
	provider.AssertNumberOfCalls(t, "FetchQuotes", 2)

	stored, ok, err := store.Get(ctx, req.CacheKey())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, refreshed.Payload, stored)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues(metrics.CacheHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues(metrics.CacheMiss)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamCallsTotal.WithLabelValues(metrics.UpstreamSuccess)))
}

func TestGetQuotesPermutationsShareCache(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewFakeClock(testNow)
	provider := new(mocks.MockQuoteProvider)
	service := NewConversionService(cache.NewMemoryStore(clock), provider, clock, quietLogger(), nil)

	provider.On("FetchQuotes", mock.Anything, "USD", "EUR,GBP").
		Return(entity.Quotes{"USDEUR": 0.91, "USDGBP": 0.79}, nil).Once()

	first, err := service.GetQuotes(ctx, entity.NewConversionRequest("USD", "EUR,GBP"))
	require.NoError(t, err)

	second, err := service.GetQuotes(ctx, entity.NewConversionRequest("USD", "GBP,EUR"))
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Payload, second.Payload)
	provider.AssertExpectations(t)
}

// blockingProvider counts calls and holds each one until released
type blockingProvider struct {
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) FetchQuotes(ctx context.Context, source, currencies string) (entity.Quotes, error) {
	if atomic.AddInt32(&p.calls, 1) == 1 {
		close(p.started)
	}
	<-p.release
	return entity.Quotes{"USDEUR": 0.91}, nil
}

func TestGetQuotesCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	clock := mocks.NewFakeClock(testNow)
	provider := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	m := metrics.NewMetrics()
	service := NewConversionService(cache.NewMemoryStore(clock), provider, clock, quietLogger(), m)

	const callers = 10
	req := entity.NewConversionRequest("USD", "EUR")

	var wg sync.WaitGroup
	results := make([][]byte, callers)

	// Leader starts the upstream call
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := service.GetQuotes(ctx, req)
		if assert.NoError(t, err) {
			results[0] = res.Payload
		}
	}()
	<-provider.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := service.GetQuotes(ctx, req)
			if assert.NoError(t, err) {
				results[i] = res.Payload
			}
		}(i)
	}

	// Give the followers time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.calls))
	for _, payload := range results {
		assert.JSONEq(t, `{"USDEUR":0.91}`, string(payload))
	}
}

func TestUpstreamOutcome(t *testing.T) {
	assert.Equal(t, metrics.UpstreamUnconfigured, upstreamOutcome(entity.ErrMissingConfiguration))
	assert.Equal(t, metrics.UpstreamEmptyBody, upstreamOutcome(entity.ErrEmptyResponse))
	assert.Equal(t, metrics.UpstreamIncorrectData, upstreamOutcome(entity.ErrIncorrectData))
	assert.Equal(t, metrics.UpstreamHTTPError, upstreamOutcome(&entity.UpstreamError{StatusCode: 500, Reason: "Internal Server Error"}))
	assert.Equal(t, metrics.UpstreamTransportError, upstreamOutcome(&entity.UpstreamError{StatusCode: 502, Reason: "Bad Gateway", Err: errors.New("refused")}))
}

func TestGetQuotesFailureLogMessages(t *testing.T) {
	ctx := context.Background()
	req := entity.NewConversionRequest("USD", "EUR")

	tests := []struct {
		name    string
		err     error
		level   string
		message string
		outcome string
	}{
		{"Missing configuration", entity.ErrMissingConfiguration, "Error", "Upstream API is not configured", metrics.UpstreamUnconfigured},
		{"Empty response", entity.ErrEmptyResponse, "Warn", "Upstream returned an empty body", metrics.UpstreamEmptyBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cacheStore := new(mocks.MockQuoteCache)
			provider := new(mocks.MockQuoteProvider)
			log := new(mocks.MockLogger)
			service := NewConversionService(cacheStore, provider, mocks.NewFakeClock(testNow), log, nil)

			cacheStore.On("Get", ctx, req.CacheKey()).Return(nil, false, nil).Once()
			provider.On("FetchQuotes", mock.Anything, "USD", "EUR").Return(nil, tt.err).Once()
			log.On("Debug", "Cache MISS", mock.Anything).Once()
			log.On(tt.level, tt.message, mock.MatchedBy(func(fields map[string]interface{}) bool {
				return fields["outcome"] == tt.outcome
			})).Once()

			_, err := service.GetQuotes(ctx, req)

			// Both failures share the caller-facing envelope
			assert.Equal(t, entity.GenericErrorMessage, entity.EnvelopeFor(err).Error.Message)
			log.AssertExpectations(t)
			cacheStore.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetQuotesKeepsAPITokenOutOfLogs(t *testing.T) {
	unreachable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstreamURL := unreachable.URL + "/live"
	unreachable.Close()

	var buf bytes.Buffer
	log := logger.NewJSONLogger(&buf, logger.DebugLevel)
	client := api.NewCurrencyLayerClient(config.UpstreamConfig{
		BaseURL:        upstreamURL,
		APIToken:       "SUPERSECRET",
		ConnectTimeout: time.Second,
		Timeout:        time.Second,
	}, nil, log)
	service := NewConversionService(cache.NewMemoryStore(nil), client, nil, log, nil)

	_, err := service.GetQuotes(context.Background(), entity.NewConversionRequest("USD", "EUR"))

	require.Error(t, err)
	assert.Equal(t, entity.NewErrorEnvelope("Bad Gateway", http.StatusBadGateway), entity.EnvelopeFor(err))
	assert.Contains(t, buf.String(), "Upstream request failed")
	assert.NotContains(t, buf.String(), "SUPERSECRET")
}
