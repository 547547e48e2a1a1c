// Package cache implements the quote cache store on several backends
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/damon-houk/currency-layer-proxy/internal/config"
	"github.com/damon-houk/currency-layer-proxy/internal/domain/repository"
	"github.com/damon-houk/currency-layer-proxy/internal/domain/service"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
)

const (
	janitorInterval  = 10 * time.Minute
	badgerGCInterval = 30 * time.Minute
)

// Open builds the store selected by cfg.Backend. The returned close function
// stops background work and releases the store.
func Open(ctx context.Context, cfg config.CacheConfig, clock service.Clock, log logger.Logger) (repository.QuoteCache, func() error, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	bgCtx, cancel := context.WithCancel(context.Background())

	switch cfg.Backend {
	case config.CacheBackendBadger:
		store, err := OpenBadgerStore(cfg.BadgerPath)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		gcDone := store.RunGC(bgCtx, badgerGCInterval)

		log.Info("Quote cache opened", map[string]interface{}{
			"backend": cfg.Backend,
			"path":    cfg.BadgerPath,
		})
		return store, closeWith(cancel, gcDone, store.Close), nil

	case config.CacheBackendMemory:
		store := NewMemoryStore(clock)
		store.StartJanitor(bgCtx, janitorInterval)

		log.Info("Quote cache opened", map[string]interface{}{
			"backend": cfg.Backend,
		})
		return store, closeWith(cancel, nil, nil), nil

	case config.CacheBackendRistretto:
		store, err := NewRistrettoStore(cfg.RistrettoMaxCost, clock)
		if err != nil {
			cancel()
			return nil, nil, err
		}

		log.Info("Quote cache opened", map[string]interface{}{
			"backend":  cfg.Backend,
			"max_cost": cfg.RistrettoMaxCost,
		})
		return store, closeWith(cancel, nil, store.Close), nil

	case config.CacheBackendRedis:
		store, err := OpenRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			cancel()
			return nil, nil, err
		}

		log.Info("Quote cache opened", map[string]interface{}{
			"backend": cfg.Backend,
		})
		return store, closeWith(cancel, nil, store.Close), nil
	}

	cancel()
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// closeWith stops background work, waits for it to finish when done is set,
// then releases the store
func closeWith(cancel context.CancelFunc, done <-chan struct{}, closeFn func() error) func() error {
	return func() error {
		cancel()
		if done != nil {
			<-done
		}
		if closeFn == nil {
			return nil
		}
		return closeFn()
	}
}
