// Package httpclient provides the HTTP client used to download media streams.
// It retries transient failures with exponential backoff, honours Retry-After,
// trips a circuit breaker when an upstream keeps failing, and can decode
// compressed bodies and cap their size.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

// Default configuration values.
const (
	DefaultRetryAttempts      = 3
	DefaultRetryDelay         = time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultUserAgent          = "vidmux/1.0"
)

// Content encodings understood by the decoder.
const (
	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
	EncodingIdentity = "identity"
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
	HeaderRetryAfter      = "Retry-After"
)

// StatusError reports a final response whose status was not 2xx.
type StatusError struct {
	StatusCode int
	URL        string
	// RetryAfter is the delay the upstream asked for, zero when it gave none.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout bounds a whole request including the body. Leave it zero for
	// stream downloads and bound them with the request context instead.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold consecutive failures open the circuit for CircuitTimeout.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int
	// OnCircuitChange, if set, observes circuit breaker transitions.
	OnCircuitChange func(from, to CircuitState)

	UserAgent string
	Logger    *slog.Logger

	// EnableDecompression decodes gzip, deflate and brotli bodies. When false
	// bodies are returned exactly as sent and the default transport does not
	// negotiate gzip on its own.
	EnableDecompression bool

	// MaxResponseSize limits the decoded body size. 0 disables the limit.
	MaxResponseSize int64

	// BaseClient is the underlying http.Client. If nil, one is created with
	// transport compression disabled.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgent,
		EnableDecompression: true,
	}
}

// Client is a resilient HTTP client. It is safe for concurrent use.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client from cfg, filling unusable backoff settings with defaults.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}

	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout, Transport: newTransport()}
	}

	breaker := NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax)
	if cfg.OnCircuitChange != nil {
		breaker.OnStateChange(cfg.OnCircuitChange)
	}

	return &Client{
		config:  cfg,
		client:  base,
		breaker: breaker,
		logger:  cfg.Logger,
	}
}

// newTransport clones the default transport with its implicit gzip handling
// turned off. Decoding is done by decode, or not at all.
func newTransport() *http.Transport {
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		t = t.Clone()
		t.DisableCompression = true
		return t
	}
	return &http.Transport{Proxy: http.ProxyFromEnvironment, DisableCompression: true}
}

// outcome is the result of a single attempt.
type outcome struct {
	resp  *http.Response
	err   error
	retry bool
	// wait overrides the backoff delay before the next attempt.
	wait time.Duration
}

// Do executes req with circuit breaker protection and retries. Requests with
// a body are sent once. Non-retryable statuses are returned as-is; use Fetch
// when only 2xx is acceptable.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.prepare(req)

	retries := c.config.RetryAttempts
	if req.Body != nil && req.Body != http.NoBody {
		retries = 0
	}

	delay := c.config.RetryDelay
	var lastErr error

	for attempt := 0; ; attempt++ {
		out := c.attempt(req, attempt)
		if !out.retry {
			return out.resp, out.err
		}
		lastErr = out.err
		if attempt >= retries {
			break
		}

		wait := delay
		if out.wait > 0 {
			wait = min(out.wait, c.config.RetryMaxDelay)
		}
		c.logger.DebugContext(ctx, "retrying request",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", wait),
			slog.String("url", req.URL.Redacted()),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)
	}

	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

func (c *Client) prepare(req *http.Request) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, acceptEncoding)
	}
}

func (c *Client) attempt(req *http.Request, n int) outcome {
	ctx := req.Context()
	url := req.URL.Redacted()

	if !c.breaker.Allow() {
		c.logger.WarnContext(ctx, "circuit breaker open, skipping request",
			slog.String("url", url),
			slog.String("state", c.breaker.State().String()),
		)
		return outcome{err: ErrCircuitOpen, retry: true}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		// The caller gave up; that says nothing about the upstream.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return outcome{err: err}
		}
		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "request failed",
			slog.String("url", url),
			slog.Duration("duration", elapsed),
			slog.Int("attempt", n),
			slog.String("error", err.Error()),
		)
		return outcome{err: err, retry: true}
	}

	if isRetryableStatus(resp.StatusCode) {
		c.breaker.RecordFailure()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()

		statusErr := &StatusError{
			StatusCode: resp.StatusCode,
			URL:        url,
			RetryAfter: parseRetryAfter(resp.Header.Get(HeaderRetryAfter), time.Now()),
		}
		c.logger.WarnContext(ctx, "retryable status code",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
			slog.Duration("retry_after", statusErr.RetryAfter),
			slog.Int("attempt", n),
		)
		return outcome{err: statusErr, retry: true, wait: statusErr.RetryAfter}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	c.logger.DebugContext(ctx, "request completed",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
		slog.Int64("content_length", resp.ContentLength),
	)

	if c.config.EnableDecompression {
		resp.Body = c.decode(resp)
	}
	// Limit after decoding so a small compressed body cannot expand past it.
	if c.config.MaxResponseSize > 0 {
		resp.Body = newLimitedReader(resp.Body, c.config.MaxResponseSize)
	}
	return outcome{resp: resp}
}

// Get performs a GET request to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Fetch GETs url with the extra headers and returns the body of a 2xx
// response. Any other final status is reported as *StatusError.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
	}
	return resp.Body, nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit closes the circuit breaker.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}
