// Package rest implements the exchange REST collaborator: a rate-limited JSON
// client plus typed wrappers for the endpoints the connector consumes.
package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/auth"
	"github.com/coachpo/litebridge/internal/observability"
)

// Endpoint paths, relative to the REST base URL.
const (
	PathMarkets  = "/v1/markets"
	PathTickers  = "/v1/tickers"
	PathBook     = "/v1/book"
	PathTime     = "/v1/time"
	PathOrder    = "/v1/order"
	PathOrders   = "/v1/orders"
	PathBalances = "/v1/balances"
)

const requestTimeout = 10 * time.Second

// Doer abstracts the HTTP transport for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues REST requests against the exchange API. Each connector
// instance owns its own client; nothing here is shared process-wide.
type Client struct {
	baseURL string
	http    Doer
	signer  *auth.Signer
	limiter *rate.Limiter
	log     observability.Logger
}

// Options configures a REST client.
type Options struct {
	BaseURL string
	HTTP    Doer
	Signer  *auth.Signer
	// RequestsPerSecond throttles outbound calls. Zero applies the default of
	// ten requests per second with a small burst.
	RequestsPerSecond float64
	Logger            observability.Logger
}

// NewClient constructs a REST client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		signer:  opts.Signer,
		limiter: rate.NewLimiter(rate.Limit(rps), 5),
		log:     logger,
	}
}

type apiError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

// Request performs a single REST call and returns the raw JSON response.
// GET parameters travel in the query string; other methods send a JSON body.
// Network failures and unparseable responses map to CodeNetwork, non-2xx
// responses to CodeExchange.
func (c *Client) Request(ctx context.Context, method, path string, params map[string]string, authenticated bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.New("rest/request", errs.CodeUnavailable, errs.WithCause(err))
	}

	var (
		query string
		body  []byte
	)
	if len(params) > 0 {
		if method == http.MethodGet {
			query = encodeQuery(params)
		} else {
			encoded, err := json.Marshal(params)
			if err != nil {
				return nil, errs.New("rest/request", errs.CodeInvalid, errs.WithCause(err))
			}
			body = encoded
		}
	}
	return c.do(ctx, method, path, query, body, authenticated)
}

// RequestBody performs a REST call with an arbitrary JSON body. Used for
// payloads that are not flat string maps, such as bulk cancellation.
func (c *Client) RequestBody(ctx context.Context, method, path string, payload any, authenticated bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.New("rest/request", errs.CodeUnavailable, errs.WithCause(err))
	}
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.New("rest/request", errs.CodeInvalid, errs.WithCause(err))
		}
		body = encoded
	}
	return c.do(ctx, method, path, "", body, authenticated)
}

func (c *Client) do(ctx context.Context, method, path, query string, body []byte, authenticated bool) (json.RawMessage, error) {
	target := c.baseURL + path
	if query != "" {
		target += "?" + query
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errs.New("rest/request", errs.CodeInvalid, errs.WithCause(err))
	}

	if authenticated {
		if !c.signer.Configured() {
			return nil, errs.New("rest/request", errs.CodeAuth,
				errs.WithMessage("credentials required for "+path))
		}
		req.Header = c.signer.Headers(method, path, query, body)
	} else {
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New("rest/request", errs.CodeNetwork,
			errs.WithMessage(method+" "+path), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New("rest/request", errs.CodeNetwork,
			errs.WithMessage("read response for "+path), errs.WithCause(err))
	}

	if resp.StatusCode >= 400 {
		apiErr := apiError{}
		_ = json.Unmarshal(raw, &apiErr)
		c.log.Debug("exchange rejected request",
			observability.F("path", path),
			observability.F("status", resp.StatusCode),
			observability.F("raw_code", apiErr.Code.String()),
		)
		return nil, errs.New("rest/request", errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawCode(apiErr.Code.String()),
			errs.WithRawMessage(apiErr.Message),
			errs.WithMessage(method+" "+path))
	}

	if !json.Valid(raw) {
		return nil, errs.New("rest/request", errs.CodeNetwork,
			errs.WithMessage("unparseable response from "+path))
	}
	return json.RawMessage(raw), nil
}

func encodeQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	return values.Encode()
}
