package provider

import (
	"bytes"
	"context"
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

	"github.com/aman-churiwal/ioc-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ioc-gateway/internal/metrics"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/aman-churiwal/ioc-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20

// Payload is a decoded JSON object returned by a provider
type Payload = map[string]any

type Options struct {
	Definition Definition
	APIKey     string
	HTTPClient *http.Client
	Limiter    *ratelimit.LeakyBucket
	Breaker    *circuitbreaker.CircuitBreaker
	Policies   Policies
	Timeout    time.Duration // per attempt
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *zap.Logger
}

// Client calls one provider through its local limiter and circuit breaker
type Client struct {
	def        Definition
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.LeakyBucket
	breaker    *circuitbreaker.CircuitBreaker
	policies   Policies
	timeout    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLeakyBucket(ratelimit.Config{PerMinute: 4, PerDay: 500})
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.New(circuitbreaker.Config{})
	}
	if opts.Policies.RateLimited.MaxAttempts <= 0 || opts.Policies.Transient.MaxAttempts <= 0 {
		defaults := DefaultPolicies()
		if opts.Policies.RateLimited.MaxAttempts <= 0 {
			opts.Policies.RateLimited = defaults.RateLimited
		}
		if opts.Policies.Transient.MaxAttempts <= 0 {
			opts.Policies.Transient = defaults.Transient
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Client{
		def:        opts.Definition,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		limiter:    opts.Limiter,
		breaker:    opts.Breaker,
		policies:   opts.Policies,
		timeout:    opts.Timeout,
		sleep:      opts.Sleep,
		logger:     observability.OrNop(opts.Logger).With(zap.String("provider", opts.Definition.Name)),
	}
}

func (c *Client) Name() string {
	return c.def.Name
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) Catalog() Catalog {
	return c.def.Catalog
}

func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func (c *Client) Limiter() *ratelimit.LeakyBucket {
	return c.limiter
}

// Call performs one logical provider operation. Body may be nil, url.Values
// (form encoded), []byte (sent as JSON) or any JSON-marshalable value.
func (c *Client) Call(ctx context.Context, endpoint string, pathParams, query map[string]string, body any) (Payload, error) {
	payload, err := c.call(ctx, endpoint, pathParams, query, body)
	metrics.ProviderCalls.WithLabelValues(c.def.Name, endpoint, outcome(err)).Inc()
	return payload, err
}

func (c *Client) call(ctx context.Context, endpoint string, pathParams, query map[string]string, body any) (Payload, error) {
	ep, path, err := c.def.Catalog.Resolve(endpoint, pathParams)
	if err != nil {
		return nil, c.newError(ErrUnsupportedEndpoint, endpoint, 0, "", err)
	}

	if err := c.breaker.Allow(); err != nil {
		return nil, c.newError(ErrProviderUnavailable, endpoint, 0, "circuit open", err)
	}

	reqBody, contentType, err := encodeBody(body)
	if err != nil {
		return nil, c.newError(ErrProviderError, endpoint, 0, "encode request body", err)
	}

	var rateLimited, transient int
	for {
		reservation, err := c.limiter.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ratelimit.ErrDailyLimit) {
				e := c.newError(ErrRateLimited, endpoint, 0, "local daily budget exhausted", err)
				e.RetryAfter = time.Until(c.limiter.Snapshot().ResetAt)
				return nil, e
			}
			return nil, err
		}

		// the breaker may have opened while this caller waited for a slot
		if err := c.breaker.Allow(); err != nil {
			c.limiter.Release(reservation)
			return nil, c.newError(ErrProviderUnavailable, endpoint, 0, "circuit open", err)
		}

		res := c.attempt(ctx, ep, path, query, reqBody, contentType)

		switch {
		case res.err != nil && ctx.Err() != nil:
			return nil, ctx.Err()

		case res.err != nil:
			transient++
			kind := ErrProviderError
			if res.timeout {
				kind = ErrProviderTimeout
			}
			if c.policies.Transient.Exhausted(transient) {
				c.breaker.Failure()
				return nil, c.newError(kind, endpoint, 0, "", res.err)
			}
			if err := c.backoff(ctx, endpoint, c.policies.Transient, transient, res.err.Error()); err != nil {
				return nil, err
			}

		case res.status >= 200 && res.status < 300:
			payload, err := decodePayload(res.body)
			if err != nil {
				c.breaker.Failure()
				return nil, c.newError(ErrProviderError, endpoint, res.status, "invalid JSON response", err)
			}
			c.breaker.Success()
			return payload, nil

		case res.status == http.StatusTooManyRequests:
			rateLimited++
			if c.policies.RateLimited.Exhausted(rateLimited) {
				e := c.newError(ErrRateLimited, endpoint, res.status, "retries exhausted", nil)
				e.RetryAfter = res.retryAfter
				return nil, e
			}
			if err := c.backoff(ctx, endpoint, c.policies.RateLimited, rateLimited, "429"); err != nil {
				return nil, err
			}

		case res.status == http.StatusUnauthorized || res.status == http.StatusForbidden:
			return nil, c.newError(ErrAuthentication, endpoint, res.status, snippet(res.body), nil)

		case res.status >= 500:
			transient++
			if c.policies.Transient.Exhausted(transient) {
				c.breaker.Failure()
				return nil, c.newError(ErrProviderError, endpoint, res.status, snippet(res.body), nil)
			}
			if err := c.backoff(ctx, endpoint, c.policies.Transient, transient, strconv.Itoa(res.status)); err != nil {
				return nil, err
			}

		default:
			c.breaker.Failure()
			return nil, c.newError(ErrProviderError, endpoint, res.status, snippet(res.body), nil)
		}
	}
}

type attemptResult struct {
	status     int
	body       []byte
	retryAfter time.Duration
	err        error
	timeout    bool
}

func (c *Client) attempt(ctx context.Context, ep Endpoint, path string, query map[string]string, body []byte, contentType string) attemptResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := strings.TrimRight(c.def.BaseURL, "/") + path
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, target, reader)
	if err != nil {
		return attemptResult{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" && c.def.AuthHeader != "" {
		req.Header.Set(c.def.AuthHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderAttemptDuration.WithLabelValues(c.def.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return attemptResult{err: err, timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attemptResult{err: fmt.Errorf("failed to read response: %w", err), timeout: isTimeout(err)}
	}

	c.logger.Debug("provider attempt",
		zap.String("method", ep.Method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	return attemptResult{
		status:     resp.StatusCode,
		body:       data,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func (c *Client) backoff(ctx context.Context, endpoint string, policy RetryPolicy, attempt int, reason string) error {
	delay := policy.Backoff(attempt)
	c.logger.Warn("retrying provider call",
		zap.String("endpoint", endpoint),
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	return c.sleep(ctx, delay)
}

func (c *Client) newError(kind error, endpoint string, status int, msg string, cause error) *Error {
	return &Error{
		Kind:       kind,
		Provider:   c.def.Name,
		Endpoint:   endpoint,
		StatusCode: status,
		Message:    msg,
		Err:        cause,
	}
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case []byte:
		return b, "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func decodePayload(body []byte) (Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Payload{}, nil
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = Payload{}
	}
	return payload, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := Code(err); code != "" {
		return code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
