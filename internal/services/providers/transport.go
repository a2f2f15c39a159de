// Package providers adapts upstream restaurant sources to the ProviderAdapter contract.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/dinewise/internal/models"
)

const (
	// DefaultRequestTimeout bounds a single HTTP exchange
	DefaultRequestTimeout = 10 * time.Second

	// DefaultRetryAttempts is the number of HTTP attempts for 429/5xx responses
	DefaultRetryAttempts = 2

	defaultRetryDelay = 250 * time.Millisecond
	maxRetryDelay     = 2 * time.Second
	maxErrorBody      = 512
)

// Option configures an HTTP-backed adapter.
type Option func(*transport)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) Option {
	return func(t *transport) {
		if baseURL != "" {
			t.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(t *transport) {
		t.httpClient = httpClient
	}
}

// WithRateLimit enforces a minimum interval between requests. Zero disables limiting.
func WithRateLimit(interval time.Duration) Option {
	return func(t *transport) {
		if interval <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithRetry sets the number of HTTP attempts and the base backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(t *transport) {
		if attempts > 0 {
			t.attempts = attempts
		}
		if delay > 0 {
			t.retryDelay = delay
		}
	}
}

// statusError is a non-2xx upstream response
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// transport is the rate-limited, retrying JSON client shared by the HTTP adapters
type transport struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
	attempts   uint
	retryDelay time.Duration
}

func newTransport(name, baseURL string, requestTimeout time.Duration, logger arbor.ILogger, opts []Option) *transport {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	t := &transport{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logger,
		attempts:   DefaultRetryAttempts,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// doJSON executes the request built by newReq and decodes a 200 response into out.
// 429, 5xx and network failures are retried; any other status or a decode failure is final.
// logURL must not carry credentials.
func (t *transport) doJSON(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), logURL string, out interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return t.wrap(ctx, fmt.Errorf("rate limit wait: %w", err))
	}

	start := time.Now()
	t.logger.Debug().
		Str("provider", t.name).
		Str("url", logURL).
		Msg("Calling provider API")

	err := retry.Do(
		func() error {
			req, err := newReq(ctx)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			resp, err := t.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to call %s: %w", t.name, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
				statusErr := &statusError{StatusCode: resp.StatusCode, Body: string(body)}
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					return statusErr
				}
				return retry.Unrecoverable(statusErr)
			}

			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to decode API response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(t.attempts),
		retry.Delay(t.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Warn().
				Str("provider", t.name).
				Int("attempt", int(n)+1).
				Err(err).
				Msg("Retrying provider request")
		}),
	)
	if err != nil {
		return t.wrap(ctx, err)
	}

	t.logger.Debug().
		Str("provider", t.name).
		Dur("elapsed", time.Since(start)).
		Msg("Provider API call completed")

	return nil
}

// wrap converts a transport failure into a classified ProviderError
func (t *transport) wrap(ctx context.Context, err error) error {
	return &models.ProviderError{Provider: t.name, Kind: classify(ctx, err), Err: err}
}

func classify(ctx context.Context, err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ErrKindProviderTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrKindProviderTimeout
	}
	return models.ErrKindProviderError
}

// providerError builds an error for failures reported inside a 200 payload
func providerError(name, format string, args ...interface{}) error {
	return &models.ProviderError{Provider: name, Kind: models.ErrKindProviderError, Err: fmt.Errorf(format, args...)}
}

func radiusMeters(radiusKm float64, max int) int {
	m := int(radiusKm * 1000)
	if m < 1 {
		m = 1
	}
	if max > 0 && m > max {
		m = max
	}
	return m
}

func clampLimit(limit, max int) int {
	if limit <= 0 || (max > 0 && limit > max) {
		return max
	}
	return limit
}
