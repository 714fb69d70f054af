/*
Package transport provides the single HTTPS client the whole engine fetches
through: ecosystem adapters use it for index queries, the fetch pipeline
uses it for artifact bodies. It retries transient failures with jittered
exponential backoff (github.com/cenkalti/backoff/v5, already present in the
example pack's dependency graph) and resumes partial downloads with Range
requests, falling back to a fresh download when the server doesn't support
them, per spec.md §4.2/§5.
*/
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"bundle.dev/core/logging"
)

var log = logging.For("transport")

const (
	// IndexTimeout bounds one index-query round trip (spec.md §4.2).
	IndexTimeout = 30 * time.Second
	// BodyInitiationTimeout bounds the time to receive the first byte of an
	// artifact body; the body itself streams without an overall deadline so
	// large artifacts aren't cut off mid-transfer.
	BodyInitiationTimeout = 60 * time.Second

	maxRetries      = 3
	baseRetryDelay  = 250 * time.Millisecond
	retryMultiplier = 2.0
	retryJitter     = 0.2 // +/-20%
)

// Transport wraps an *http.Client with the engine's retry and resume policy.
type Transport struct {
	client *http.Client
	// UserAgent identifies the engine to upstream registries.
	UserAgent string
}

// New creates a Transport with a connection pool sized for the concurrency
// levels spec.md §6 allows (up to 10 fetch workers x 8 ecosystems).
func New() *Transport {
	return &Transport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				MaxIdleConns:        128,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		UserAgent: "bundle-engine/1.0",
	}
}

func (t *Transport) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryDelay
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = retryJitter
	return b
}

// GetJSON performs a GET with IndexTimeout, retrying transient failures, and
// returns the response body in full. Intended for ecosystem index queries
// (package metadata, repodata, manifests) which are bounded in size.
func (t *Transport) GetJSON(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, IndexTimeout)
	defer cancel()
	return t.retryBody(ctx, url, 0)
}

// retryBody performs a GET, retrying idempotent transient failures
// (network errors, 429, 5xx) with jittered exponential backoff, up to
// maxRetries attempts.
func (t *Transport) retryBody(ctx context.Context, url string, rangeStart int64) ([]byte, error) {
	op := func() ([]byte, error) {
		resp, err := t.open(ctx, url, rangeStart)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if isRetryable(resp.StatusCode) {
			return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(fmt.Errorf("transport: GET %s: status %d", url, resp.StatusCode))
		}
		return io.ReadAll(resp.Body)
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(t.backOff()), backoff.WithMaxTries(uint(maxRetries+1)))
}

var errRetryable = errors.New("transport: retryable response")

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// Open starts a streaming GET for an artifact body. If rangeStart > 0, it
// requests a byte range resuming from that offset; OpenResult.Resumed
// reports whether the server honored it (206) versus restarting from
// scratch (200), so callers know whether to truncate their partial file.
func (t *Transport) Open(ctx context.Context, url string, rangeStart int64) (*OpenResult, error) {
	startCtx, cancel := context.WithTimeout(ctx, BodyInitiationTimeout)
	resp, err := t.openRetrying(startCtx, url, rangeStart)
	cancel()
	if err != nil {
		return nil, err
	}
	resumed := rangeStart > 0 && resp.StatusCode == http.StatusPartialContent
	if rangeStart > 0 && resp.StatusCode == http.StatusOK {
		log.Debugf("%s: server ignored Range, restarting from 0", url)
	}
	return &OpenResult{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		Resumed:       resumed,
		StatusCode:    resp.StatusCode,
	}, nil
}

// OpenResult is a streaming body plus enough metadata for the fetch
// pipeline to drive progress and resume decisions.
type OpenResult struct {
	Body          io.ReadCloser
	ContentLength int64
	Resumed       bool
	StatusCode    int
}

func (t *Transport) openRetrying(ctx context.Context, url string, rangeStart int64) (*http.Response, error) {
	op := func() (*http.Response, error) {
		resp, err := t.open(ctx, url, rangeStart)
		if err != nil {
			return nil, err
		}
		if isRetryable(resp.StatusCode) {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
		}
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
			resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("transport: GET %s: status %d", url, resp.StatusCode))
		}
		return resp, nil
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(t.backOff()), backoff.WithMaxTries(uint(maxRetries+1)))
}

func (t *Transport) open(ctx context.Context, url string, rangeStart int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", t.UserAgent)
	if rangeStart > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
	}
	return t.client.Do(req)
}

// Client exposes the underlying *http.Client for callers (e.g. the Docker
// adapter's bearer-token exchange) that need custom headers or methods this
// package doesn't wrap.
func (t *Transport) Client() *http.Client { return t.client }
