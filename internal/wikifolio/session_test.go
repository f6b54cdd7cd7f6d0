package wikifolio

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/wikifolio-adapter/pkg/secrets"
)

const loginPage = `<html><body><form>
<input name="__RequestVerificationToken" type="hidden" value="csrf-123">
<input name="ufprt" type="hidden" value="ufprt-456">
</form></body></html>`

// loginPlatform wires the two login steps. The POST answers with a redirect
// to the dashboard and an auth cookie.
func loginPlatform(p *fakePlatform, posts *atomic.Int32) {
	p.on(http.MethodGet, "/dynamic/de/de/login/login", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "__RequestVerificationToken_L2", Value: "anti", Path: "/"})
		_, _ = w.Write([]byte(loginPage))
	})
	p.on(http.MethodPost, "/dynamic/de/de/login/login", func(w http.ResponseWriter, r *http.Request) {
		if posts != nil {
			posts.Add(1)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("Password") != "secret" {
			_, _ = w.Write([]byte("/de/de/login"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: ".ASPXAUTH", Value: "auth123", Path: "/", HttpOnly: true})
		w.Header().Set("Location", "/de/de/dashboard")
		w.WriteHeader(http.StatusFound)
	})
}

// ─── Login handshake ─────────────────────────────────────────────────────────

func TestSession_LoginHandshake(t *testing.T) {
	p := newFakePlatform(t)
	loginPlatform(p, nil)
	p.json(http.MethodGet, "/api/thing", map[string]bool{"ok": true})
	c := newTestClient(t, p)

	_, err := c.Do(context.Background(), Request{Target: "api/thing"})
	require.NoError(t, err)

	post := p.request(http.MethodPost, "/dynamic/de/de/login/login")
	require.NotNil(t, post)
	require.NoError(t, post.ParseForm())
	assert.Equal(t, "trader@example.com", post.PostForm.Get("Username"))
	assert.Equal(t, "secret", post.PostForm.Get("Password"))
	assert.Equal(t, "ufprt-456", post.PostForm.Get("ufprt"))
	assert.Equal(t, "csrf-123", post.PostForm.Get("__RequestVerificationToken"))
	assert.Equal(t, "__RequestVerificationToken_L2=anti", post.Header.Get("Cookie"))
	assert.Equal(t, "XMLHttpRequest", post.Header.Get("X-Requested-With"))

	assert.Equal(t, "__RequestVerificationToken_L2=anti; .ASPXAUTH=auth123", c.Session().Cookie())
	assert.Equal(t, c.Session().Cookie(), p.request(http.MethodGet, "/api/thing").Header.Get("Cookie"))
	assert.Equal(t, 0, p.count(http.MethodGet, "/de/de/dashboard"), "redirect must not be followed")
}

func TestSession_ConcurrentCallersShareOneLogin(t *testing.T) {
	p := newFakePlatform(t)
	var posts atomic.Int32
	loginPlatform(p, &posts)
	p.json(http.MethodGet, "/api/thing", map[string]bool{"ok": true})
	c := newTestClient(t, p)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), Request{Target: "api/thing"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), posts.Load())
	assert.Equal(t, 10, p.count(http.MethodGet, "/api/thing"))
}

func TestSession_MissingCredentials(t *testing.T) {
	p := newFakePlatform(t)
	c := newTestClient(t, p, func(o *Options) { o.Credentials = StaticCredentials{} })

	_, err := c.Do(context.Background(), Request{Target: "api/thing"})
	var missing *MissingCredentialsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 0, p.count(http.MethodGet, "/dynamic/de/de/login/login"), "no traffic without credentials")
}

func TestSession_RejectedCredentials(t *testing.T) {
	p := newFakePlatform(t)
	loginPlatform(p, nil)
	c := newTestClient(t, p, func(o *Options) {
		o.Credentials = StaticCredentials{Email: "trader@example.com", Password: "wrong"}
	})

	err := c.Session().EnsureAuthenticated(context.Background())
	var failed *LoginFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "", c.Session().Cookie())
	assert.True(t, Permanent(err))
}

type rejectingSource struct {
	StaticCredentials
	rejected []secrets.Credentials
}

func (r *rejectingSource) Rejected(creds secrets.Credentials) {
	r.rejected = append(r.rejected, creds)
}

func TestSession_RejectionIsReportedToSource(t *testing.T) {
	p := newFakePlatform(t)
	loginPlatform(p, nil)
	src := &rejectingSource{StaticCredentials: StaticCredentials{Email: "trader@example.com", Password: "wrong"}}
	c := newTestClient(t, p, func(o *Options) { o.Credentials = src })

	require.Error(t, c.Session().EnsureAuthenticated(context.Background()))
	require.Len(t, src.rejected, 1)
	assert.Equal(t, "wrong", src.rejected[0].Password)
}

func TestSession_MissingFormToken(t *testing.T) {
	p := newFakePlatform(t)
	p.html(http.MethodGet, "/dynamic/de/de/login/login", "<html><body>no form</body></html>")
	c := newTestClient(t, p)

	err := c.Session().EnsureAuthenticated(context.Background())
	var failed *LoginFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Reason, "verification token")
	assert.Equal(t, 0, p.count(http.MethodPost, "/dynamic/de/de/login/login"))
}

func TestSession_ExpiryTriggersRelogin(t *testing.T) {
	p := newFakePlatform(t)
	var posts atomic.Int32
	loginPlatform(p, &posts)
	clock := newTestClock()
	c := newTestClient(t, p, func(o *Options) {
		o.Now = clock.Now
		o.SessionTTL = time.Hour
	})

	require.NoError(t, c.Session().EnsureAuthenticated(context.Background()))
	assert.Equal(t, clock.Now().Add(time.Hour), c.Session().ExpiresAt())

	clock.Advance(59 * time.Minute)
	require.NoError(t, c.Session().EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(1), posts.Load())

	clock.Advance(time.Minute)
	assert.False(t, c.Session().Valid(), "expiry is inclusive")
	require.NoError(t, c.Session().EnsureAuthenticated(context.Background()))
	assert.Equal(t, int32(2), posts.Load())
}

// memorySessionStore is an in-memory SessionStore.
type memorySessionStore struct {
	mu        sync.Mutex
	cookie    string
	expiresAt time.Time
	saves     int
	clears    int
}

func (m *memorySessionStore) LoadSession(context.Context) (string, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cookie, m.expiresAt, m.cookie != "", nil
}

func (m *memorySessionStore) SaveSession(_ context.Context, cookie string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookie, m.expiresAt = cookie, expiresAt
	m.saves++
	return nil
}

func (m *memorySessionStore) ClearSession(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookie, m.expiresAt = "", time.Time{}
	m.clears++
	return nil
}

func TestSession_RestoresFromStore(t *testing.T) {
	p := newFakePlatform(t)
	store := &memorySessionStore{cookie: ".ASPXAUTH=stored", expiresAt: time.Now().Add(time.Hour)}
	c := newTestClient(t, p, func(o *Options) { o.SessionStore = store })

	require.NoError(t, c.Session().EnsureAuthenticated(context.Background()))
	assert.Equal(t, ".ASPXAUTH=stored", c.Session().Cookie())
	assert.Equal(t, 0, p.count(http.MethodGet, "/dynamic/de/de/login/login"))
}

func TestSession_SavesAndClearsStore(t *testing.T) {
	p := newFakePlatform(t)
	loginPlatform(p, nil)
	store := &memorySessionStore{cookie: ".ASPXAUTH=old", expiresAt: time.Now().Add(-time.Minute)}
	c := newTestClient(t, p, func(o *Options) { o.SessionStore = store })

	require.NoError(t, c.Session().EnsureAuthenticated(context.Background()))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, c.Session().Cookie(), store.cookie)

	c.Session().Invalidate(context.Background())
	assert.Equal(t, 1, store.clears)
	assert.Equal(t, "", c.Session().Cookie())
}

func TestLandedOnDashboard(t *testing.T) {
	tests := []struct {
		name     string
		location string
		body     string
		expected bool
	}{
		{"redirect", "/de/de/dashboard", "", true},
		{"absolute redirect", "https://www.wikifolio.com/de/de/uebersicht/", "", true},
		{"ajax body", "", `"/de/de/dashboard"`, true},
		{"login again", "/de/de/login", "", false},
		{"nothing", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.location != "" {
				h.Set("Location", tt.location)
			}
			assert.Equal(t, tt.expected, landedOnDashboard(&Response{Header: h, Body: []byte(tt.body)}))
		})
	}
}
