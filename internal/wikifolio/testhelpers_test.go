package wikifolio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/rate"
	"github.com/Checker-Finance/wikifolio-adapter/internal/signalr"
)

// fakePlatform is an httptest server routing "METHOD /path" to canned
// handlers and recording every call.
type fakePlatform struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  map[string]int
	bodies map[string][]byte
	reqs   map[string]*http.Request
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		t:      t,
		routes: make(map[string]http.HandlerFunc),
		calls:  make(map[string]int),
		bodies: make(map[string][]byte),
		reqs:   make(map[string]*http.Request),
	}
	p.srv = httptest.NewServer(p)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	p.mu.Lock()
	p.calls[key]++
	p.bodies[key] = body
	p.reqs[key] = r.Clone(context.Background())
	h := p.routes[key]
	p.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (p *fakePlatform) URL() string { return p.srv.URL + "/" }

func (p *fakePlatform) on(method, path string, h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+path] = h
}

func (p *fakePlatform) json(method, path string, v any) {
	p.on(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, v)
	})
}

func (p *fakePlatform) html(method, path, body string) {
	p.on(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	})
}

func (p *fakePlatform) count(method, path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method+" "+path]
}

func (p *fakePlatform) body(method, path string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bodies[method+" "+path]
}

func (p *fakePlatform) request(method, path string) *http.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[method+" "+path]
}

// writeJSON encodes v as JSON into w.
func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

// newTestClient builds a client against p with fast rate limits and a fake
// quote dialer.
func newTestClient(t *testing.T, p *fakePlatform, mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:     p.URL(),
		Credentials: StaticCredentials{Email: "trader@example.com", Password: "secret"},
		Rate:        rate.Config{RequestsPerSecond: 1000, Burst: 1000},
		Logger:      zap.NewNop(),
		Dialer:      &fakeDialer{},
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

// loggedIn seeds a valid session so tests skip the login handshake.
func loggedIn(c *Client) *Client {
	c.Session().Restore("sid=test", time.Now().Add(time.Hour))
	return c
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 21, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeConn is a scripted websocket connection. onWrite sees every text
// message the client sends and may push replies.
type fakeConn struct {
	inbound  chan []byte
	done     chan struct{}
	fail     chan struct{}
	failOnce sync.Once
	doneOnce sync.Once
	closes   atomic.Int32

	mu      sync.Mutex
	written [][]byte
	onWrite func(c *fakeConn, data []byte)
}

func newFakeConn(onWrite func(c *fakeConn, data []byte)) *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
		fail:    make(chan struct{}),
		onWrite: onWrite,
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	default:
	}
	select {
	case m := <-c.inbound:
		return websocket.TextMessage, m, nil
	case <-c.fail:
		return 0, nil, errors.New("connection reset by peer")
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	fn := c.onWrite
	c.mu.Unlock()
	if fn != nil {
		fn(c, data)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) push(frame string) { c.inbound <- []byte(frame) }

func (c *fakeConn) drop() { c.failOnce.Do(func() { close(c.fail) }) }

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer hands out conn and records the dial.
type fakeDialer struct {
	mu     sync.Mutex
	conn   *fakeConn
	url    string
	header http.Header
	dials  int
	err    error
}

func (d *fakeDialer) DialContext(_ context.Context, url string, header http.Header) (signalr.Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.url = url
	d.header = header.Clone()
	if d.err != nil {
		return nil, nil, d.err
	}
	return d.conn, nil, nil
}

// signalrPlatform registers negotiate and start handlers.
func signalrPlatform(p *fakePlatform) {
	p.json(http.MethodGet, "/de/de/signalr/negotiate", map[string]any{
		"Url":             "/de/de/signalr",
		"ConnectionToken": "tok/en+1",
		"ConnectionId":    "conn-1",
		"ProtocolVersion": "1.5",
		"TryWebSockets":   true,
	})
	p.json(http.MethodGet, "/de/de/signalr/start", map[string]string{"Response": "started"})
}
