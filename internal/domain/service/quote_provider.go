// Package service internal/domain/service/quote_provider.go
package service

import (
	"context"

	"github.com/damon-houk/currency-layer-proxy/internal/domain/entity"
)

// QuoteProvider defines the interface for the upstream exchange-rate API
type QuoteProvider interface {
	// FetchQuotes retrieves the rates from source to the comma-separated currencies
	FetchQuotes(ctx context.Context, source, currencies string) (entity.Quotes, error)
}
