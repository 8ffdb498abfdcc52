// Package retry performs a single logical HTTP GET or POST, retrying on
// transport failures with exponential backoff.
//
// Only transport-level failures (the Doer returned an error, so no response
// was received) are retried. A response with any status code, 4xx and 5xx
// included, ends the call immediately and is handed back to the caller.
//
// The delay before retry k (k = 1, 2, ...) is baseDelay * 2^(k-1). There is
// no jitter and no cap, and no delay follows the final failed attempt, so N
// failed attempts sleep sum(2^i, i = 0..N-2) base units in total.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rmbg-bot/api/internal/scrub"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = time.Second
)

var (
	// ErrUnsupportedMethod is a configuration error: the call never reaches
	// the network and is not retried.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrMaxRetries is wrapped into the error returned once every attempt
	// failed at the transport level.
	ErrMaxRetries = errors.New("maximum retries reached")
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper waits between attempts. Implementations must return early with
// ctx.Err() when the context is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Client struct {
	doer       Doer
	sleeper    Sleeper
	maxRetries int
	baseDelay  time.Duration
	secrets    []string
	log        zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient sends attempts through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.doer = hc }
}

func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithMaxRetries sets the number of attempts. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithSecrets lists strings that must never show up in logged or returned
// errors, such as a bot token embedded in a download URL.
func WithSecrets(secrets ...string) Option {
	return func(c *Client) { c.secrets = append(c.secrets, secrets...) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(opts ...Option) *Client {
	c := &Client{
		doer:       &http.Client{Timeout: 60 * time.Second},
		sleeper:    realSleeper{},
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		log:        log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "retry").Logger()
	return c
}

func (c *Client) MaxRetries() int { return c.maxRetries }

// Get issues a GET with optional headers.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Header: header})
}

// Post issues req as a POST regardless of req.Method.
func (c *Client) Post(ctx context.Context, req Request) (*http.Response, error) {
	req.Method = http.MethodPost
	return c.Do(ctx, req)
}

// Do performs req, retrying transport failures. The caller owns the returned
// response body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	method, err := normalizeMethod(req.Method)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleeper.Sleep(ctx, c.Backoff(attempt)); err != nil {
				return nil, err
			}
		}

		httpReq, err := req.build(ctx, method)
		if err != nil {
			return nil, scrub.Error(err, c.secrets...)
		}

		resp, err := c.doer.Do(httpReq)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = scrub.Error(err, c.secrets...)
		ev := c.log.Warn().Err(lastErr).Str("method", method).Int("attempt", attempt+1).Int("max", c.maxRetries)
		if attempt+1 < c.maxRetries {
			ev.Msgf("request failed, retrying (%d/%d)", attempt+1, c.maxRetries)
		} else {
			ev.Msg("request failed, giving up")
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, c.maxRetries, lastErr)
}

// Backoff returns the wait before the given attempt (0-indexed). Attempt 0
// never waits. Growth is unbounded; the value saturates only where a
// time.Duration would overflow.
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift >= 62 || c.baseDelay > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return c.baseDelay << shift
}

func normalizeMethod(m string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case http.MethodGet:
		return http.MethodGet, nil
	case http.MethodPost:
		return http.MethodPost, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, m)
	}
}
