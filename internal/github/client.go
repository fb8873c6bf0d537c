// Package github is a small REST client for the repository search and commit
// listing endpoints, with pacing and bounded retry.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/contributor-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/contributor-crawler/internal/metrics"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// Endpoint labels used in metrics and logs.
const (
	endpointSearch  = "search"
	endpointCount   = "count"
	endpointCommits = "commits"
)

// Doer performs a single GET and returns the response whatever its status.
type Doer interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (collyfetcher.Response, error)
}

// Pacer enforces the fixed delay between requests.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes the client.
type Config struct {
	BaseURL        string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetryAfter caps server-requested waits.
	MaxRetryAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = time.Minute
	}
	return c
}

// Client talks to the GitHub REST API.
type Client struct {
	doer   Doer
	pacer  Pacer
	cfg    Config
	logger *zap.Logger
}

// New constructs a Client. A nil pacer disables pacing.
func New(doer Doer, pacer Pacer, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		doer:   doer,
		pacer:  pacer,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("github"),
	}
}

// get issues a paced GET, retrying transient failures with exponential
// backoff. Non-retryable statuses are returned immediately as *StatusError.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) (collyfetcher.Response, error) {
	var (
		out        collyfetcher.Response
		retryAfter time.Duration
	)
	op := func() error {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx, rawURL); err != nil {
				return backoff.Permanent(err)
			}
		}
		start := time.Now()
		resp, err := c.doer.Get(ctx, rawURL, nil)
		if err != nil {
			metrics.ObserveAPIRequest(endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		metrics.ObserveAPIRequest(endpoint, resp.StatusCode, time.Since(start))
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			out = resp
			return nil
		}
		se := newStatusError(rawURL, resp.StatusCode, resp.Headers, resp.Body)
		if !se.Retryable() {
			return backoff.Permanent(se)
		}
		retryAfter = min(se.RetryAfter, c.cfg.MaxRetryAfter)
		return se
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.MaxInterval = c.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&serverHint{BackOff: exp, hint: &retryAfter}, uint64(c.cfg.MaxRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		metrics.ObserveAPIRetry(endpoint)
		c.logger.Warn("retrying api request",
			zap.String("endpoint", endpoint),
			zap.String("url", rawURL),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return collyfetcher.Response{}, err
		}
		return collyfetcher.Response{}, fmt.Errorf("%s request: %w", endpoint, err)
	}
	return out, nil
}

// serverHint stretches the next backoff to honour a Retry-After style hint.
type serverHint struct {
	backoff.BackOff
	hint *time.Duration
}

func (s *serverHint) NextBackOff() time.Duration {
	next := s.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if *s.hint > next {
		next = *s.hint
	}
	*s.hint = 0
	return next
}
