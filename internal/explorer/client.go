package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Fractal mainnet address summary endpoint.
const DefaultBaseURL = "https://explorer.unisat.io/fractal-mainnet/api/address/summary"

const maxResponseBytes = 1 << 20

// ClientOption configures Client behaviour.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetries sets how many times a transient failure is retried and the delay between attempts.
func WithRetries(retries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if retries < 0 {
			retries = 0
		}
		if delay <= 0 {
			delay = time.Millisecond
		}
		c.retries = uint64(retries)
		c.retryDelay = delay
	}
}

// WithRequestRate paces outbound calls. A non-positive rate disables pacing.
func WithRequestRate(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client fetches address balances from the explorer API.
type Client struct {
	baseURL    *url.URL
	http       *http.Client
	limiter    *rate.Limiter
	retries    uint64
	retryDelay time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// NewClient constructs a Client for the given summary endpoint.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse explorer URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("explorer URL must be absolute http(s), got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		http:       &http.Client{Timeout: 10 * time.Second},
		retries:    2,
		retryDelay: 500 * time.Millisecond,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type summaryResponse struct {
	Data *struct {
		Balance *json.Number `json:"balance"`
	} `json:"data"`
}

// FetchBalance returns the current balance of address.
// Transport failures, 429 and 5xx responses are retried; everything else fails fast.
func (c *Client) FetchBalance(ctx context.Context, address string) (Balance, error) {
	var satoshis int64
	attempt := 0

	backoff := retry.WithMaxRetries(c.retries, retry.NewConstant(c.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		value, err := c.fetchOnce(ctx, address)
		if err != nil {
			if isTransient(err) && ctx.Err() == nil {
				c.logger.Debug("explorer request failed, retrying",
					zap.String("address", address),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return retry.RetryableError(err)
			}
			return err
		}
		satoshis = value
		return nil
	})
	if err != nil {
		return Balance{}, fmt.Errorf("fetch balance for %s: %w", address, err)
	}

	return Balance{
		Address:   address,
		Satoshis:  satoshis,
		FetchedAt: c.clock(),
	}, nil
}

func (c *Client) fetchOnce(ctx context.Context, address string) (int64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	u := *c.baseURL
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &transportError{err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return 0, &StatusError{Code: resp.StatusCode}
	}

	var body summaryResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return 0, fmt.Errorf("decode explorer response: %w", err)
	}
	c.logger.Debug("explorer response decoded", zap.String("address", address))

	if body.Data == nil {
		return 0, ErrMissingData
	}
	if body.Data.Balance == nil {
		return 0, ErrMissingBalance
	}
	return parseSatoshis(*body.Data.Balance)
}

func parseSatoshis(n json.Number) (int64, error) {
	if v, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", n.String(), err)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
	if math.IsNaN(f) || math.Abs(f) >= math.MaxInt64 {
		return 0, fmt.Errorf("parse balance %q: %w", n.String(), ErrBalanceOutOfRange)
	}
	return int64(math.Round(f)), nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return false
}
