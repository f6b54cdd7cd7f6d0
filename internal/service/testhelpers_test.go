package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/rate"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// fakePlatform routes "METHOD /path" to canned JSON or HTML answers.
type fakePlatform struct {
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  map[string]int
	bodies map[string][]byte
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		routes: make(map[string]http.HandlerFunc),
		calls:  make(map[string]int),
		bodies: make(map[string][]byte),
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
	h := p.routes[key]
	p.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (p *fakePlatform) json(method, path string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (p *fakePlatform) html(method, path, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}
}

func (p *fakePlatform) fail(method, path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+path] = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}
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

// newTestClient builds a logged-in client against p.
func newTestClient(t *testing.T, p *fakePlatform) *wikifolio.Client {
	t.Helper()
	c, err := wikifolio.New(wikifolio.Options{
		BaseURL:     p.srv.URL + "/",
		Credentials: wikifolio.StaticCredentials{Email: "trader@example.com", Password: "secret"},
		Rate:        rate.Config{RequestsPerSecond: 1000, Burst: 1000},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	c.Session().Restore("sid=test", time.Now().Add(time.Hour))
	return c
}

// ownedWikifolio seeds an owned wikifolio so trading skips the details page.
func ownedWikifolio(c *wikifolio.Client) *wikifolio.Wikifolio {
	id, owned := "wf-id-1", true
	return c.Wikifolio("wfstrategy").Set(wikifolio.WikifolioData{ID: &id, IsOwned: &owned})
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	orders []model.OrderEvent
	prices []model.PriceEvent
	err    error
}

func (f *fakePublisher) PublishOrderEvent(_ context.Context, evt model.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, evt)
	return f.err
}

func (f *fakePublisher) PublishPrice(_ context.Context, evt model.PriceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, evt)
	return f.err
}

func (f *fakePublisher) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.orders))
	for _, e := range f.orders {
		out = append(out, e.Status)
	}
	return out
}

func (f *fakePublisher) orderEvents() []model.OrderEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OrderEvent(nil), f.orders...)
}

// fakeJournal records journaled events.
type fakeJournal struct {
	mu      sync.Mutex
	records []model.OrderEvent
}

func (f *fakeJournal) Record(_ context.Context, evt *model.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *evt)
	return nil
}

func (f *fakeJournal) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakePrices is an in-memory PriceCache.
type fakePrices map[string]model.PriceEvent

func (f fakePrices) SavePriceSnapshot(_ context.Context, p model.PriceEvent, _ time.Duration) error {
	f[p.Symbol] = p
	return nil
}

func (f fakePrices) GetPriceSnapshot(_ context.Context, symbol string) (*model.PriceEvent, error) {
	p, ok := f[symbol]
	if !ok {
		return nil, errors.New("not found")
	}
	return &p, nil
}
