// Package repository internal/domain/repository/quote_cache.go
package repository

import (
	"context"
	"time"
)

// QuoteCache defines the key-value store that holds serialized quote payloads.
// Expiry is enforced by the store, not by its callers.
type QuoteCache interface {
	// Get returns the stored value and true, or false when the key is absent or expired
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value until expiresAt, overwriting any previous value
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
}
