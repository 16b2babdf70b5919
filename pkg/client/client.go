// Package client provides the upstream HTTP client that fetches collection
// pages, with error classification, optional retries and a circuit breaker.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/pagedsource/pkg/logging"
	"github.com/Sternrassler/pagedsource/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var factory = promauto.With(metrics.Registry)

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_upstream_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	upstreamRequestDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "pager_upstream_request_duration_seconds",
		Help:    "Upstream page fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	upstreamErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Client fetches pages of an upstream collection.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	breaker    *gobreaker.CircuitBreaker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the collection endpoint, e.g. "https://rickandmortyapi.com/api/character".
	// Query parameters already present are preserved.
	BaseURL string

	// Format selects how responses are decoded.
	Format Format

	// User-Agent header sent with every request
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// Retry policy; the default performs a single attempt
	Retry RetryConfig

	// Breaker configures the upstream circuit breaker
	Breaker BreakerConfig
}

// BreakerConfig configures the circuit breaker guarding the upstream.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration

	// Interval clears the failure counts while closed (0 never clears).
	Interval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Format:    FormatEnvelope,
		UserAgent: "pagedsource/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
			Interval:            60 * time.Second,
		},
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !baseURL.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	switch cfg.Format {
	case FormatEnvelope, FormatFlat:
	case "":
		cfg.Format = FormatEnvelope
	default:
		return nil, fmt.Errorf("unknown upstream format %q", cfg.Format)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		cfg.Breaker.OpenTimeout = 30 * time.Second
	}

	logger := logging.NewLogger(logging.ComponentUpstream)

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		breaker: newBreaker(baseURL.Host, cfg.Breaker, logger),
		config:  cfg,
		logger:  logger,
	}, nil
}

func newBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A 4xx is the caller's mistake, not an unhealthy upstream.
			return err == nil || ClassOf(err) == ErrorClassClient
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Format returns the configured response format.
func (c *Client) Format() Format {
	return c.config.Format
}

// BaseURL returns the configured collection endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// FetchPage fetches and decodes one upstream page. Failures are returned as
// *UpstreamError, possibly wrapped in ErrRetryExhausted or ErrContextCancelled.
func (c *Client) FetchPage(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		return nil, &UpstreamError{ErrorClass: ErrorClassClient, Message: fmt.Sprintf("invalid page %d", page)}
	}
	if c.config.Format == FormatFlat && page != 1 {
		return nil, &UpstreamError{ErrorClass: ErrorClassClient, Message: fmt.Sprintf("flat collection has no page %d", page)}
	}

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	var body []byte
	err := retryWithBackoff(ctx, c.config.Retry, func() (ErrorClass, error) {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, page)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				upstreamErrorsTotal.WithLabelValues(string(ErrorClassCircuitOpen)).Inc()
				upstreamRequestsTotal.WithLabelValues("circuit_open").Inc()
				return ErrorClassCircuitOpen, &UpstreamError{
					ErrorClass: ErrorClassCircuitOpen,
					Message:    "circuit breaker open",
					Err:        err,
				}
			}
			return ClassOf(err), err
		}
		body = result.([]byte)
		return "", nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Int("upstream_page", page).
			Str("error_class", string(ClassOf(err))).
			Msg("Upstream fetch failed")
		return nil, err
	}

	decoded, err := decodePage(c.config.Format, page, body)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		c.logger.Error().Err(err).Int("upstream_page", page).Msg("Upstream response malformed")
		return nil, err
	}

	c.logger.Debug().
		Int("upstream_page", page).
		Int("items", len(decoded.Items)).
		Int("count", decoded.Info.Count).
		Dur("duration", time.Since(startTime)).
		Msg("Fetched upstream page")

	return decoded, nil
}

// do performs a single HTTP round trip and returns the response body.
func (c *Client) do(ctx context.Context, page int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(page), nil)
	if err != nil {
		return nil, &UpstreamError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &UpstreamError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		errClass := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Int("upstream_page", page).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	return body, nil
}

// pageURL builds the request URL for an upstream page.
func (c *Client) pageURL(page int) string {
	if c.config.Format == FormatFlat {
		return c.baseURL.String()
	}
	u := *c.baseURL
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// classifyStatus categorizes a non-200 status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 500:
		return ErrorClassServer
	default:
		// 3xx that survived redirect following is as unusable as a 4xx
		return ErrorClassClient
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
