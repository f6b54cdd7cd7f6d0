package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/rate"
)

// ErrNotSent is wrapped by failures that happened before the request left
// the process.
var ErrNotSent = errors.New("request not sent")

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for 4xx responses when no error handler is set.
type StatusError struct {
	Tag    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Tag, e.Status)
}

// Executor handles rate-limited, retrying HTTP execution.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	venueTag     string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses to produce a
// venue-specific error. If nil, a *StatusError is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	venueTag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		venueTag:     venueTag,
		errorHandler: errorHandler,
	}
}

// idempotent reports whether a failed attempt may be repeated. Order
// placement is a POST and must never be sent twice.
func idempotent(req *http.Request) bool {
	switch req.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Do executes req with rate limiting and retries and returns the read body.
// rateLimitKey scopes the limiter, typically the upstream host.
// Transport errors and 5xx are retried for idempotent methods only; 4xx is
// never retried. 3xx is returned as-is, redirect handling is the client's.
func (e *Executor) Do(ctx context.Context, req *http.Request, rateLimitKey string) (*Response, error) {
	return e.do(ctx, e.http, req, rateLimitKey)
}

// DoWith is Do using client instead of the executor's own http.Client.
func (e *Executor) DoWith(ctx context.Context, client *http.Client, req *http.Request, rateLimitKey string) (*Response, error) {
	return e.do(ctx, client, req, rateLimitKey)
}

func (e *Executor) do(ctx context.Context, client *http.Client, req *http.Request, rateLimitKey string) (*Response, error) {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w: %w", ErrNotSent, err)
		}
	}

	retries := e.retryMax
	if !idempotent(req) {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptReq, err := cloneForAttempt(ctx, req, attempt)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := client.Do(attemptReq)
		if err != nil {
			lastErr = err
			e.logger.Warn(e.venueTag+".http_failed",
				zap.String("method", req.Method),
				zap.String("url", req.URL.Redacted()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)
		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.venueTag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.Redacted()),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.venueTag, resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			e.logger.Warn(e.venueTag+".client_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.Redacted()))
			if e.errorHandler != nil {
				return nil, e.errorHandler(resp.StatusCode, body)
			}
			return nil, &StatusError{Tag: e.venueTag, Status: resp.StatusCode, Body: body}
		}

		e.logger.Debug(e.venueTag+".http_success",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	return nil, fmt.Errorf("%s request failed after %d attempts: %w", e.venueTag, retries+1, lastErr)
}

// cloneForAttempt gives every attempt a fresh body. The first attempt uses req
// as built by the caller.
func cloneForAttempt(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req.WithContext(ctx), nil
	}
	clone := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}
