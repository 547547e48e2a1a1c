package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/damon-houk/currency-layer-proxy/internal/config"
	"github.com/damon-houk/currency-layer-proxy/internal/domain/entity"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/logger"
	"github.com/damon-houk/currency-layer-proxy/internal/infrastructure/middleware"
)

// maxBodyBytes caps how much of an upstream body is read
const maxBodyBytes = 10 << 20

// CurrencyLayerClient fetches live quotes from a currencylayer-compatible API.
// It makes exactly one attempt per lookup.
type CurrencyLayerClient struct {
	baseURL    string
	apiToken   string
	configured bool
	httpClient *http.Client
	logger     logger.Logger
}

// NewCurrencyLayerClient creates a client for cfg. Missing settings are not an
// error: the client then answers every lookup with ErrMissingConfiguration
// without touching the network. A nil httpClient gets one built from cfg timeouts.
func NewCurrencyLayerClient(cfg config.UpstreamConfig, httpClient *http.Client, log logger.Logger) *CurrencyLayerClient {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.ConnectTimeout, cfg.Timeout)
	}

	if !cfg.Configured() {
		log.Warn("Upstream API is not configured, lookups will fail until API_URL and API_TOKEN are set", map[string]interface{}{
			"api_url_set":   cfg.BaseURL != "",
			"api_token_set": cfg.APIToken != "",
		})
	}

	return &CurrencyLayerClient{
		baseURL:    cfg.BaseURL,
		apiToken:   cfg.APIToken,
		configured: cfg.Configured(),
		httpClient: httpClient,
		logger:     log,
	}
}

// NewHTTPClient builds the outbound client. connectTimeout bounds dialing and
// the TLS handshake, timeout bounds the wait for response headers once
// connected. The whole exchange is capped at their sum. TLS certificates are
// always verified.
func NewHTTPClient(connectTimeout, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: connectTimeout + timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Configured reports whether both the URL and the token are set
func (c *CurrencyLayerClient) Configured() bool {
	return c.configured
}

// liveResponse is the subset of the provider payload the proxy reads
type liveResponse struct {
	Quotes entity.Quotes `json:"quotes"`
	Error  *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

// FetchQuotes retrieves the quotes for source against the comma-separated currencies
func (c *CurrencyLayerClient) FetchQuotes(ctx context.Context, source, currencies string) (entity.Quotes, error) {
	if !c.configured {
		return nil, entity.ErrMissingConfiguration
	}

	requestID := middleware.GetRequestID(ctx)
	reqURL := c.buildURL(source, currencies)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// The provider expects this header even though a GET carries no body
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Calling upstream API", map[string]interface{}{
		"request_id": requestID,
		"source":     source,
		"currencies": currencies,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing upstream response body", map[string]interface{}{
				"request_id": requestID,
				"error":      closeErr.Error(),
			})
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &entity.UpstreamError{
			StatusCode: resp.StatusCode,
			Reason:     reasonPhrase(resp),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(fmt.Errorf("failed to read response body: %w", err))
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, entity.ErrEmptyResponse
	}

	var payload liveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", entity.ErrIncorrectData, err)
	}

	if len(payload.Quotes) == 0 {
		fields := map[string]interface{}{
			"request_id": requestID,
			"source":     source,
			"currencies": currencies,
		}
		if payload.Error != nil {
			fields["provider_code"] = payload.Error.Code
			fields["provider_type"] = payload.Error.Type
			fields["provider_info"] = payload.Error.Info
		}
		c.logger.Warn("Upstream response has no quotes", fields)
		return nil, entity.ErrIncorrectData
	}

	return payload.Quotes, nil
}

// buildURL appends source, currencies and apikey, in that order, to the base URL
func (c *CurrencyLayerClient) buildURL(source, currencies string) string {
	sep := "?"
	if strings.Contains(c.baseURL, "?") {
		sep = "&"
	}

	return c.baseURL + sep +
		"source=" + url.QueryEscape(source) +
		"&currencies=" + url.QueryEscape(currencies) +
		"&apikey=" + url.QueryEscape(c.apiToken)
}

// reasonPhrase extracts "Service Unavailable" from a "503 Service Unavailable" status line
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// transportError maps a failure with no upstream response to a gateway status.
// The request URL is dropped from the cause because it carries the API token.
func transportError(err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf("%s upstream: %w", urlErr.Op, urlErr.Err)
	}

	status := http.StatusBadGateway
	if timeout {
		status = http.StatusGatewayTimeout
	}

	return &entity.UpstreamError{
		StatusCode: status,
		Reason:     http.StatusText(status),
		Err:        err,
	}
}
