package wikifolio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/httpclient"
	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
	"github.com/Checker-Finance/wikifolio-adapter/internal/rate"
	"github.com/Checker-Finance/wikifolio-adapter/internal/signalr"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/secrets"
)

const (
	DefaultBaseURL      = "https://www.wikifolio.com/"
	DefaultPageSize     = 50
	DefaultSessionTTL   = 12 * time.Hour
	DefaultQuoteTimeout = 30 * time.Second

	authDeniedMessage = "Authorization has been denied for this request."
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL  string
	Language string // de | en
	Country  string // de | at | ch | int

	// Credentials is consulted on every login, so rotated secrets are picked
	// up without a restart.
	Credentials CredentialSource

	PageSize     int
	SessionTTL   time.Duration
	QuoteTimeout time.Duration
	RetryMax     int
	Rate         rate.Config

	HTTPClient   *http.Client
	Dialer       signalr.Dialer
	SessionStore SessionStore
	Logger       *zap.Logger
	Now          func() time.Time
}

// CredentialSource supplies login credentials.
type CredentialSource interface {
	Credentials(ctx context.Context) (secrets.Credentials, error)
}

// CredentialRejecter is implemented by credential sources that cache. It is
// told when the platform refused a pair so the next login fetches afresh.
type CredentialRejecter interface {
	Rejected(creds secrets.Credentials)
}

// StaticCredentials is a fixed email and password.
type StaticCredentials secrets.Credentials

func (s StaticCredentials) Credentials(context.Context) (secrets.Credentials, error) {
	return secrets.Credentials(s), nil
}

// Client is the entry point to the platform. It owns the session, the
// dispatcher and the entity registries; entities obtained from it share its
// session.
type Client struct {
	logger     *zap.Logger
	base       *url.URL
	language   string
	country    string
	pageSize   int
	quoteTTL   time.Duration
	exec       *httpclient.Executor
	noRedirect *http.Client
	dialer     signalr.Dialer
	now        func() time.Time

	session    *Session
	wikifolios *Registry[*Wikifolio]
	users      *Registry[*User]
	orders     *Registry[*Order]
}

// New constructs a Client. No network traffic happens until the first call.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("wikifolio: invalid base url %q", opts.BaseURL)
	}
	if opts.Language == "" {
		opts.Language = "de"
	}
	if opts.Country == "" {
		opts.Country = "de"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = DefaultQuoteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = signalr.NewWebsocketDialer(15 * time.Second)
	}
	if opts.Credentials == nil {
		opts.Credentials = StaticCredentials{}
	}
	if opts.Rate.RequestsPerSecond <= 0 {
		opts.Rate = rate.Config{RequestsPerSecond: 5, Burst: 10, Cooldown: 2 * time.Second}
	}

	noRedirect := *opts.HTTPClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	logger := opts.Logger
	exec := httpclient.New(logger, rate.NewManager(opts.Rate), opts.HTTPClient, opts.RetryMax, "wikifolio",
		func(status int, body []byte) error {
			logger.Warn("wikifolio.client_error",
				zap.Int("status", status),
				zap.Int("body_len", len(body)))
			return &HTTPStatusError{Status: status, Body: body}
		})

	c := &Client{
		logger:     logger,
		base:       base,
		language:   opts.Language,
		country:    opts.Country,
		pageSize:   opts.PageSize,
		quoteTTL:   opts.QuoteTimeout,
		exec:       exec,
		noRedirect: &noRedirect,
		dialer:     opts.Dialer,
		now:        opts.Now,
		wikifolios: NewRegistry[*Wikifolio](),
		users:      NewRegistry[*User](),
		orders:     NewRegistry[*Order](),
	}
	c.session = newSession(c, opts.Credentials, opts.SessionStore, opts.SessionTTL)
	return c, nil
}

// Session returns the client's session.
func (c *Client) Session() *Session { return c.session }

// BaseURL returns the platform root the client talks to.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Locale is the "language/country" path segment used by localized pages.
func (c *Client) Locale() string {
	return c.language + "/" + c.country
}

// PageSize is the default page size for paged listings.
func (c *Client) PageSize() int { return c.pageSize }

// Absolute resolves a site-relative link against the base URL.
func (c *Client) Absolute(link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return c.base.ResolveReference(ref).String()
}

// Request describes one call to the platform.
type Request struct {
	Method string
	// Target is either absolute or relative to the base URL.
	Target string
	Query  *parse.Params
	Form   url.Values
	JSON   any
	Header http.Header
	// SkipAuth sends the request without establishing a session first.
	SkipAuth bool
	// NoRedirect returns 3xx responses instead of following them.
	NoRedirect bool
	// Raw skips the JSON handling applied to API targets.
	Raw bool
}

// Response is a completed call. Body is the raw payload; for API targets it
// has been validated as JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Decode unmarshals the body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &InvalidResponseError{Target: r.URL.Path, Reason: "decode", Err: err}
	}
	return nil
}

// Do dispatches req. Unless SkipAuth is set it first makes sure a session
// exists and attaches its cookie. For API targets a non-JSON body is an
// InvalidResponseError and the authorization-denied message is an
// AuthorizationDeniedError; the session is invalidated in that case so the
// next call logs in again.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if !req.SkipAuth {
		if err := c.session.EnsureAuthenticated(ctx); err != nil {
			return nil, err
		}
	}

	u, err := c.resolve(req.Target, req.Query)
	if err != nil {
		return nil, err
	}

	var (
		body        []byte
		contentType string
	)
	switch {
	case req.Form != nil:
		body = []byte(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded; charset=UTF-8"
	case req.JSON != nil:
		body, err = json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("wikifolio: marshal request body: %w", err)
		}
		contentType = "application/json"
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("wikifolio: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	if httpReq.Header.Get("Cookie") == "" {
		if cookie := c.session.Cookie(); cookie != "" {
			httpReq.Header.Set("Cookie", cookie)
		}
	}

	endpoint := endpointKind(u.Path)
	start := time.Now()
	var resp *httpclient.Response
	if req.NoRedirect {
		resp, err = c.exec.DoWith(ctx, c.noRedirect, httpReq, u.Host)
	} else {
		resp, err = c.exec.Do(ctx, httpReq, u.Host)
	}
	metrics.ObserveDuration(metrics.RequestDuration, start, endpoint, req.Method)
	if err != nil {
		var status *HTTPStatusError
		if errors.As(err, &status) {
			metrics.IncRequest(endpoint, req.Method, strconv.Itoa(status.Status))
		} else {
			metrics.IncRequest(endpoint, req.Method, "error")
		}
		return nil, err
	}
	metrics.IncRequest(endpoint, req.Method, strconv.Itoa(resp.StatusCode))

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body, URL: u}
	if req.Raw || !isAPITarget(u.Path) {
		return out, nil
	}

	if !json.Valid(resp.Body) {
		return nil, &InvalidResponseError{Target: u.Path, Reason: "Invalid JSON"}
	}
	var answer struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body, &answer) == nil && answer.Message == authDeniedMessage {
		c.logger.Warn("wikifolio.authorization_denied", zap.String("target", u.Path))
		c.session.Invalidate(ctx)
		return nil, &AuthorizationDeniedError{Target: u.Path, Message: answer.Message}
	}
	return out, nil
}

// getJSON performs an authenticated GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, target string, query *parse.Params, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Target: target, Query: query})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// postJSON performs an authenticated POST with a JSON body.
func (c *Client) postJSON(ctx context.Context, target string, body any, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Target: target, JSON: body})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// getHTML performs an authenticated GET of a rendered page.
func (c *Client) getHTML(ctx context.Context, target string, query *parse.Params) (string, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Target: target, Query: query})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *Client) resolve(target string, query *parse.Params) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("wikifolio: invalid target %q: %w", target, err)
	}
	u := c.base.ResolveReference(ref)
	if query != nil {
		if qs := query.Encode(parse.QueryOptions{}); qs != "" {
			if u.RawQuery != "" {
				u.RawQuery += "&" + qs
			} else {
				u.RawQuery = qs
			}
		}
	}
	return u, nil
}

func isAPITarget(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.Contains(path, "/api/")
}

// endpointKind buckets request paths into a small label set for metrics.
func endpointKind(path string) string {
	switch {
	case isAPITarget(path):
		return "api"
	case strings.Contains(path, "/signalr/"):
		return "signalr"
	case strings.HasPrefix(path, "/dynamic/"):
		return "dynamic"
	default:
		return "page"
	}
}

// numberFormat is how numbers are rendered on the client's localized pages.
func (c *Client) numberFormat() parse.Format {
	return parse.FormatFor(c.language)
}

// localeParams are the country and language query parameters API calls take.
func (c *Client) localeParams() *parse.Params {
	return parse.NewParams("country", c.country, "language", c.language)
}
