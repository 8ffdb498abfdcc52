package removebg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"rmbg-bot/api/internal/retry"
)

const (
	DefaultEndpoint = "https://api.remove.bg/v1.0/removebg"
	DefaultSize     = "auto"

	DefaultMaxResultSize = 50 << 20
)

// ErrResultTooLarge is returned when the processed image exceeds the size limit.
var ErrResultTooLarge = errors.New("remove.bg result too large")

// StatusError is returned when remove.bg answered with anything but 200.
type StatusError struct {
	Code  int
	Title string // first error title from the JSON body, if any
}

func (e *StatusError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("remove.bg %d: %s", e.Code, e.Title)
	}
	return fmt.Sprintf("remove.bg %d", e.Code)
}

type Client struct {
	apiKey   string
	endpoint string
	size     string
	maxSize  int64
	http     *retry.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
}

type Option func(*Client)

func WithEndpoint(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.endpoint = u
		}
	}
}

func WithSize(s string) Option {
	return func(c *Client) {
		if s != "" {
			c.size = s
		}
	}
}

// WithMaxResultSize caps the accepted result size in bytes.
func WithMaxResultSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithRetryClient sets the HTTP client used for uploads.
func WithRetryClient(rc *retry.Client) Option {
	return func(c *Client) { c.http = rc }
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) { c.breaker = newBreaker(st) }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		size:     DefaultSize,
		maxSize:  DefaultMaxResultSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = retry.New(retry.WithSecrets(apiKey))
	}
	if c.breaker == nil {
		c.breaker = newBreaker(DefaultBreakerSettings())
	}
	return c
}

// DefaultBreakerSettings opens the breaker after three consecutive calls that
// exhausted their retries, and probes again after a minute.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "remove.bg",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

func newBreaker(st gobreaker.Settings) *gobreaker.CircuitBreaker[[]byte] {
	st.IsSuccessful = breakerSuccess
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}
	return gobreaker.NewCircuitBreaker[[]byte](st)
}

// breakerSuccess counts only transport outcomes as failures: a status error
// or an oversized result means the remote answered, and a cancelled or expired context is the
// caller's doing.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) ||
		errors.Is(err, ErrResultTooLarge) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Remove uploads the image at path and returns the processed image bytes.
// Errors are *StatusError for a non-200 answer, wrap retry.ErrMaxRetries when
// the service was unreachable, or gobreaker.ErrOpenState while the breaker is
// open.
func (c *Client) Remove(ctx context.Context, path string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		return c.remove(ctx, path)
	})
}

func (c *Client) remove(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.http.Post(ctx, retry.Request{
		URL:    c.endpoint,
		Header: http.Header{"X-Api-Key": []string{c.apiKey}},
		Form:   map[string]string{"size": c.size},
		Files:  []retry.File{{Field: "image_file", Path: path}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	if int64(len(b)) > c.maxSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResultTooLarge, c.maxSize)
	}
	return b, nil
}

func statusError(resp *http.Response) *StatusError {
	se := &StatusError{Code: resp.StatusCode}
	if !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return se
	}
	var body struct {
		Errors []struct {
			Title string `json:"title"`
			Code  string `json:"code"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && len(body.Errors) > 0 {
		se.Title = body.Errors[0].Title
	}
	return se
}
