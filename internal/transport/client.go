// Package transport is the JSON-over-HTTPS client shared by every outbound
// integration. Each Client carries its own rate limiter, retry policy and
// circuit breaker.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff is used when Config.Backoff is zero.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      2,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// DefaultMinInterval is the minimum spacing between requests of one client.
const DefaultMinInterval = 250 * time.Millisecond

// Config bundles HTTP client and resilience settings.
type Config struct {
	Name        string
	HTTP        *http.Client
	Backoff     BackoffConfig
	MinInterval time.Duration
	Header      http.Header
}

// Client executes requests with throttling, retries and a circuit breaker.
type Client struct {
	name    string
	http    *http.Client
	backoff BackoffConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	header  http.Header
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Only transient and network failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err) && !isNetworkError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("transport: circuit breaker state change",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		name:    cfg.Name,
		http:    cfg.HTTP,
		backoff: cfg.Backoff,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		breaker: cb,
		header:  cfg.Header,
	}
}

// Name returns the client's name.
func (c *Client) Name() string { return c.name }

// Do executes the request built by buildRequest with retries, exponential
// backoff and the circuit breaker. The caller closes the response body.
func (c *Client) Do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.http == nil {
		return nil, ErrNoHTTPClient
	}
	if c.backoff.MaxRetries < 0 || c.backoff.InitialInterval <= 0 {
		return nil, ErrInvalidConfig
	}

	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrapf(err, "transport: %s: wait for rate limiter", c.name)
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "transport: %s: build request", c.name)
		}
		for k, vs := range c.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			resp, execErr := c.http.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return nil, newStatusError(resp.StatusCode)
			}
			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, eris.New("transport: unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, eris.Wrapf(ErrCircuitOpen, "transport: %s: %v", c.name, err)
		}
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "transport: %s", c.name)
		}
		if !IsTransient(err) && !isNetworkError(err) {
			return nil, eris.Wrapf(err, "transport: %s", c.name)
		}
		if attempt >= c.backoff.MaxRetries {
			return nil, eris.Wrapf(err, "transport: %s: giving up after %d attempts", c.name, attempt+1)
		}

		delay := c.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.backoff.MaxInterval && c.backoff.MaxInterval > 0 {
			delay = c.backoff.MaxInterval
		}
		zap.L().Debug("transport: retrying request",
			zap.String("client", c.name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrapf(ctx.Err(), "transport: %s", c.name)
		case <-timer.C:
		}

		attempt++
	}
}

// GetJSON issues a GET with params and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}
	resp, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp.Body, out)
}

// PostJSON sends body as JSON and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "transport: encode request body")
	}
	resp, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp.Body, out)
}

func decode(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return eris.Wrap(err, "transport: decode response")
	}
	return nil
}

func isNetworkError(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}
