package wikifolio

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/internal/scrape"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/utils"
)

const loginTimeout = time.Minute

// SessionStore persists the session cookie so restarts and sibling
// processes can reuse a login.
type SessionStore interface {
	LoadSession(ctx context.Context) (cookie string, expiresAt time.Time, ok bool, err error)
	SaveSession(ctx context.Context, cookie string, expiresAt time.Time) error
	ClearSession(ctx context.Context) error
}

// Session holds the authenticated cookie. It is valid until expiresAt and
// is re-established lazily; concurrent callers share one login.
type Session struct {
	client *Client
	creds  CredentialSource
	store  SessionStore
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	cookie    string
	expiresAt time.Time

	flight singleflight.Group
}

func newSession(c *Client, creds CredentialSource, store SessionStore, ttl time.Duration) *Session {
	return &Session{
		client: c,
		creds:  creds,
		store:  store,
		ttl:    ttl,
		logger: c.logger.Named("session"),
	}
}

// Cookie returns the current cookie header value, or "" when logged out.
func (s *Session) Cookie() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookie
}

// ExpiresAt returns the end of the current session's validity.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Valid reports whether a cookie is held and has not expired.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	return s.cookie != "" && s.client.now().Before(s.expiresAt)
}

// Restore installs a previously obtained cookie.
func (s *Session) Restore(cookie string, expiresAt time.Time) {
	s.mu.Lock()
	s.cookie = cookie
	s.expiresAt = expiresAt
	s.mu.Unlock()
}

// Invalidate drops the cookie so the next call logs in again.
func (s *Session) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.cookie = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.ClearSession(ctx); err != nil {
			s.logger.Warn("wikifolio.session_clear_failed", zap.Error(err))
		}
	}
}

// EnsureAuthenticated makes sure the session is valid, logging in if needed. Concurrent
// callers wait on a single login attempt; a caller giving up does not cancel
// the login for the others.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if s.Valid() {
		return nil
	}
	ch := s.flight.DoChan("login", func() (any, error) {
		if s.Valid() {
			return nil, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loginTimeout)
		defer cancel()
		if s.restore(lctx) {
			return nil, nil
		}
		return nil, s.login(lctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login forces a fresh login regardless of the current state.
func (s *Session) Login(ctx context.Context) error {
	_, err, _ := s.flight.Do("login", func() (any, error) {
		return nil, s.login(ctx)
	})
	return err
}

func (s *Session) restore(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	cookie, expiresAt, ok, err := s.store.LoadSession(ctx)
	if err != nil {
		s.logger.Warn("wikifolio.session_load_failed", zap.Error(err))
		return false
	}
	if !ok || cookie == "" || !s.client.now().Before(expiresAt) {
		return false
	}
	s.Restore(cookie, expiresAt)
	metrics.IncLogin("restored")
	s.logger.Info("wikifolio.session_restored", zap.Time("expires_at", expiresAt))
	return true
}

func (s *Session) login(ctx context.Context) error {
	creds, err := s.creds.Credentials(ctx)
	if err != nil {
		metrics.IncLogin("failed")
		return &LoginFailedError{Reason: "load credentials", Err: err}
	}
	if creds.Empty() {
		metrics.IncLogin("failed")
		return &MissingCredentialsError{}
	}

	target := "dynamic/" + s.client.Locale() + "/login/login"
	page, err := s.client.Do(ctx, Request{Method: http.MethodGet, Target: target, SkipAuth: true, Raw: true})
	if err != nil {
		metrics.IncLogin("failed")
		return &LoginFailedError{Reason: "load login page", Err: err}
	}

	jar := newCookieJar()
	jar.add(page.Header)

	doc, err := scrape.Parse(page.Text())
	if err != nil {
		metrics.IncLogin("failed")
		return &LoginFailedError{Reason: "parse login page", Err: err}
	}
	ufprt := doc.AttrOf(`input[name="ufprt"]`, "value")
	token := doc.AttrOf(`input[name="__RequestVerificationToken"]`, "value")
	if token == "" {
		metrics.IncLogin("failed")
		return &LoginFailedError{Reason: "login form is missing the verification token"}
	}

	form := url.Values{}
	form.Set("Username", creds.Email)
	form.Set("Password", creds.Password)
	form.Set("ufprt", ufprt)
	form.Set("__RequestVerificationToken", token)

	header := http.Header{}
	if c := jar.header(); c != "" {
		header.Set("Cookie", c)
	}
	resp, err := s.client.Do(ctx, Request{
		Method:     http.MethodPost,
		Target:     target,
		Form:       form,
		Header:     header,
		SkipAuth:   true,
		NoRedirect: true,
		Raw:        true,
	})
	if err != nil {
		metrics.IncLogin("failed")
		return &LoginFailedError{Reason: "submit login form", Err: err}
	}

	setCookies := resp.Header.Values("Set-Cookie")
	if !landedOnDashboard(resp) || len(setCookies) == 0 {
		metrics.IncLogin("failed")
		s.logger.Warn("wikifolio.login_failed",
			zap.String("email", utils.MaskEmail(creds.Email)),
			zap.Int("status", resp.StatusCode))
		if r, ok := s.creds.(CredentialRejecter); ok {
			r.Rejected(creds)
		}
		return &LoginFailedError{Reason: "credentials were not accepted"}
	}
	jar.add(resp.Header)

	expiresAt := s.client.now().Add(s.ttl)
	cookie := jar.header()
	s.Restore(cookie, expiresAt)
	metrics.IncLogin("ok")
	s.logger.Info("wikifolio.login_success",
		zap.String("email", utils.MaskEmail(creds.Email)),
		zap.String("cookie", utils.MaskCookie(cookie)),
		zap.Time("expires_at", expiresAt))

	if s.store != nil {
		if err := s.store.SaveSession(ctx, cookie, expiresAt); err != nil {
			s.logger.Warn("wikifolio.session_save_failed", zap.Error(err))
		}
	}
	return nil
}

// landedOnDashboard reports whether the login answer points at the user's
// dashboard, either as a redirect or as the URL text the AJAX form returns.
func landedOnDashboard(resp *Response) bool {
	candidates := []string{resp.Header.Get("Location"), strings.TrimSpace(resp.Text())}
	for _, c := range candidates {
		c = strings.Trim(c, `"`)
		if u, err := url.Parse(c); err == nil {
			c = u.Path
		}
		c = strings.TrimSuffix(c, "/")
		if strings.HasSuffix(c, "/dashboard") || strings.HasSuffix(c, "/uebersicht") {
			return true
		}
	}
	return false
}

// cookieJar keeps name=value pairs in first-seen order; later values win.
type cookieJar struct {
	names  []string
	values map[string]string
}

func newCookieJar() *cookieJar {
	return &cookieJar{values: make(map[string]string)}
}

func (j *cookieJar) add(h http.Header) {
	for _, c := range (&http.Response{Header: h}).Cookies() {
		if _, ok := j.values[c.Name]; !ok {
			j.names = append(j.names, c.Name)
		}
		j.values[c.Name] = c.Value
	}
}

func (j *cookieJar) header() string {
	parts := make([]string, 0, len(j.names))
	for _, n := range j.names {
		parts = append(parts, n+"="+j.values[n])
	}
	return strings.Join(parts, "; ")
}
