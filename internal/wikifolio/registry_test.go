package wikifolio

import (
	"context"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Registry ────────────────────────────────────────────────────────────────

func TestRegistry_InstanceOfIsStable(t *testing.T) {
	r := NewRegistry[*int]()
	created := 0
	create := func() *int { created++; v := created; return &v }

	a := r.InstanceOf("Symbol:WFTEST0001", create)
	b := r.InstanceOf(" symbol:wftest0001 ", create)
	assert.Same(t, a, b)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AliasKeepsExisting(t *testing.T) {
	r := NewRegistry[*string]()
	first, second := ptr("first"), ptr("second")
	r.InstanceOf("id:1", func() *string { return first })

	assert.Same(t, first, r.Alias("id:1", second))
	assert.Same(t, second, r.Alias("symbol:wf1", second))

	got, ok := r.Lookup("SYMBOL:WF1")
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = r.Lookup("id:2")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentInstanceOf(t *testing.T) {
	r := NewRegistry[*struct{ n int }]()
	var wg sync.WaitGroup
	got := make([]*struct{ n int }, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.InstanceOf("id:x", func() *struct{ n int } { return &struct{ n int }{} })
		}(i)
	}
	wg.Wait()
	for _, v := range got {
		assert.Same(t, got[0], v)
	}
}

// ─── Wikifolio identity ──────────────────────────────────────────────────────

func TestClient_WikifolioSharesInstances(t *testing.T) {
	c := newTestClient(t, newFakePlatform(t))

	a := c.Wikifolio("wfstrategy")
	b := c.Wikifolio("strategy")
	assert.Same(t, a, b, "symbol with and without prefix")
	assert.Equal(t, "wfstrategy", a.Symbol())

	byID := c.Wikifolio("2b1b6a3e-0000-4d6f-9d4b-1c2a3b4c5d6e")
	assert.NotSame(t, a, byID)
}

func TestClient_WikifolioAliasAfterBasics(t *testing.T) {
	p := newFakePlatform(t)
	p.json(http.MethodGet, "/api/wikifolio/wfstrategy/basicdata", map[string]any{
		"id":             "wf-id-1",
		"title":          "Strategy",
		"traderNickname": "trader1",
	})
	c := loggedIn(newTestClient(t, p))

	w := c.Wikifolio("wfstrategy")
	require.NoError(t, w.Basics(context.Background(), false))

	assert.Same(t, w, c.Wikifolio("wf-id-1"))
	assert.Same(t, w, c.WikifolioByIdentity(Identity{ID: "wf-id-1", Symbol: "wfstrategy"}))
}

func TestClient_WikifolioByIdentityPrefersExistingID(t *testing.T) {
	c := newTestClient(t, newFakePlatform(t))

	byID := c.Wikifolio("wf-id-2")
	both := c.WikifolioByIdentity(Identity{ID: "wf-id-2", Symbol: "wfother001"})
	assert.Same(t, byID, both)
	assert.Same(t, byID, c.Wikifolio("wfother001"))
	assert.Equal(t, "wfother001", byID.Symbol())
}

func TestClient_WikifolioSeenByIDThenSymbolIsFolded(t *testing.T) {
	c := newTestClient(t, newFakePlatform(t))

	byID := c.Wikifolio("wf-id-3")
	bySymbol := c.Wikifolio("wfthird001")
	require.NotSame(t, byID, bySymbol)
	byID.merge(WikifolioData{Risk: ptr(3.0)}, SourcePrice)

	bySymbol.merge(WikifolioData{ID: ptr("wf-id-3"), Title: ptr("Third")}, SourceBasics)

	assert.Same(t, byID, c.Wikifolio("wfthird001"))
	assert.Same(t, byID, c.Wikifolio("wf-id-3"))
	assert.Equal(t, "wfthird001", byID.Symbol())
	assert.Equal(t, "Third", *byID.Data().Title)
	assert.True(t, byID.HasSource(SourceBasics))

	// the instance the caller already holds sees the union too
	assert.Equal(t, 3.0, *bySymbol.Data().Risk)
	assert.True(t, bySymbol.HasSource(SourcePrice))
}

// ─── Merge sanitizing ────────────────────────────────────────────────────────

func TestApply_KeepsExistingOnMeaninglessValues(t *testing.T) {
	created := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	dst := WikifolioData{
		Title:     ptr("Strategy"),
		Trader:    ptr("trader1"),
		Capital:   ptr(1000.0),
		CreatedAt: &created,
		Tags:      []string{"a"},
	}
	src := WikifolioData{
		Title:     ptr("N/A"),
		Trader:    ptr("-"),
		Capital:   ptr(math.NaN()),
		CreatedAt: &time.Time{},
		Tags:      []string{},
		Risk:      ptr(4.5),
	}
	apply(&dst, &src)

	assert.Equal(t, "Strategy", *dst.Title)
	assert.Equal(t, "trader1", *dst.Trader)
	assert.Equal(t, 1000.0, *dst.Capital)
	assert.Equal(t, created, *dst.CreatedAt)
	assert.Equal(t, []string{"a"}, dst.Tags)
	assert.Equal(t, 4.5, *dst.Risk)
}

func TestApply_FalseAndZeroAreValues(t *testing.T) {
	dst := WikifolioData{IsOwned: ptr(true), Capital: ptr(5.0)}
	apply(&dst, &WikifolioData{IsOwned: ptr(false), Capital: ptr(0.0)})
	assert.False(t, *dst.IsOwned)
	assert.Equal(t, 0.0, *dst.Capital)
}

func TestEntity_LoadRecordsSourceOnce(t *testing.T) {
	c := newTestClient(t, newFakePlatform(t))
	w := c.Wikifolio("wfstrategy")

	var mu sync.Mutex
	calls := 0
	fetch := func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		w.merge(WikifolioData{Title: ptr("x")}, "custom")
		return nil
	}
	require.NoError(t, w.load(context.Background(), "custom", false, fetch))
	require.NoError(t, w.load(context.Background(), "custom", false, fetch))
	assert.Equal(t, 1, calls)
	assert.True(t, w.HasSource("custom"))

	require.NoError(t, w.load(context.Background(), "custom", true, fetch))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"custom"}, w.Sources())
}

func TestEntity_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c := newTestClient(t, newFakePlatform(t))
	w := c.Wikifolio("wfstrategy")

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		w.merge(WikifolioData{Title: ptr("x")}, "custom")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- w.load(ctx, "custom", false, fetch) }()
	<-started

	secondErr := make(chan error, 1)
	go func() { secondErr <- w.load(context.Background(), "custom", false, fetch) }()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, 1, calls)
	assert.True(t, w.HasSource("custom"))
}

func TestEntity_FailedLoadIsNotRecorded(t *testing.T) {
	c := newTestClient(t, newFakePlatform(t))
	w := c.Wikifolio("wfstrategy")

	err := w.load(context.Background(), "custom", false, func(context.Context) error {
		return &InvalidResponseError{Target: "x", Reason: "broken"}
	})
	require.Error(t, err)
	assert.False(t, w.HasSource("custom"))
}
