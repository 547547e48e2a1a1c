package entity

import (
	"sort"
	"strings"
	"time"
)

const (
	// CacheKeyPrefix namespaces every quote entry in the cache store
	CacheKeyPrefix = "currency_layer_api"

	// QuoteTTL is how long a successful upstream lookup stays cached
	QuoteTTL = 86400 * time.Second
)

// ConversionRequest is a lookup of rates from one base currency to a set of targets
type ConversionRequest struct {
	Source string
	// Currencies keeps the targets in caller order, duplicates included
	Currencies []string
	// RawCurrencies is the comma-separated value exactly as received
	RawCurrencies string
}

// NewConversionRequest builds a request from the raw query parameter values
func NewConversionRequest(source, currencies string) ConversionRequest {
	return ConversionRequest{
		Source:        source,
		Currencies:    strings.Split(currencies, ","),
		RawCurrencies: currencies,
	}
}

// SortedCurrencies returns the targets sorted lexicographically and joined with "_".
// Duplicates are not removed.
func (r ConversionRequest) SortedCurrencies() string {
	sorted := make([]string, len(r.Currencies))
	copy(sorted, r.Currencies)
	sort.Strings(sorted)
	return strings.Join(sorted, "_")
}

// CacheKey returns the deterministic cache key for the request. Two requests
// with the same source and the same multiset of targets share a key.
func (r ConversionRequest) CacheKey() string {
	return CacheKeyPrefix + ":source_" + r.Source + "_currencies_" + r.SortedCurrencies()
}

// Quotes maps a currency pair code (e.g. USDEUR) to its rate
type Quotes map[string]float64
