package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// fakeSource answers polls from a script; the last entry repeats.
type fakeSource struct {
	mu     sync.Mutex
	script []func() ([]*wikifolio.Order, error)
	polls  int
}

func (f *fakeSource) OpenOrders(context.Context, string) ([]*wikifolio.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.script) == 0 {
		return nil, nil
	}
	step := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return step()
}

func (f *fakeSource) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func listed(orders ...*wikifolio.Order) func() ([]*wikifolio.Order, error) {
	return func() ([]*wikifolio.Order, error) { return orders, nil }
}

func failing() ([]*wikifolio.Order, error) {
	return nil, errors.New("platform unavailable")
}

func openOrder(t *testing.T, id, status string) *wikifolio.Order {
	t.Helper()
	c, err := wikifolio.New(wikifolio.Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	return c.Wikifolio("wfstrategy").Order(id).Set(wikifolio.OrderData{Status: &status})
}

func placedEvent() model.OrderEvent {
	return model.OrderEvent{OrderID: "ord-1", WikifolioID: "wf-id-1", Symbol: "wfstrategy", Status: model.OrderStatusSubmitted}
}

// ─── Watch ───────────────────────────────────────────────────────────────────

func TestWatcher_OpenThenClosed(t *testing.T) {
	o := openOrder(t, "ord-1", "Offen")
	src := &fakeSource{script: []func() ([]*wikifolio.Order, error){
		listed(o), listed(o), listed(o), listed(),
	}}
	pub, journal := &fakePublisher{}, &fakeJournal{}
	w := NewOrderWatcher(context.Background(), zap.NewNop(), src, pub, journal, 5*time.Millisecond, 0)
	defer w.Stop()

	w.Watch("wfstrategy", placedEvent())
	assert.True(t, w.Watching("ord-1"))

	require.Eventually(t, func() bool { return !w.Watching("ord-1") }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{model.OrderStatusOpen, model.OrderStatusClosed}, pub.statuses())
	events := pub.orderEvents()
	assert.Equal(t, "Offen", events[0].Reason)
	assert.Equal(t, "wf-id-1", events[1].WikifolioID)
	assert.Equal(t, 2, journal.len())
	assert.Equal(t, 4, src.pollCount())
}

func TestWatcher_IgnoresDuplicateWatch(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	w := NewOrderWatcher(context.Background(), zap.NewNop(), src, pub, nil, time.Hour, 0)
	defer w.Stop()

	w.Watch("wfstrategy", placedEvent())
	w.Watch("wfstrategy", placedEvent())
	w.Watch("wfstrategy", model.OrderEvent{})
	assert.True(t, w.Watching("ord-1"))
	assert.False(t, w.Watching(""))
}

func TestWatcher_PollErrorsKeepWatching(t *testing.T) {
	o := openOrder(t, "ord-1", "Offen")
	src := &fakeSource{script: []func() ([]*wikifolio.Order, error){
		failing, failing, listed(o),
	}}
	pub := &fakePublisher{}
	w := NewOrderWatcher(context.Background(), zap.NewNop(), src, pub, nil, 5*time.Millisecond, 0)
	defer w.Stop()

	w.Watch("wfstrategy", placedEvent())
	require.Eventually(t, func() bool { return len(pub.statuses()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.OrderStatusOpen, pub.statuses()[0])
	assert.True(t, w.Watching("ord-1"))
}

func TestWatcher_FindsLegs(t *testing.T) {
	leg := openOrder(t, "ord-1-sl", "Wartend")
	src := &fakeSource{script: []func() ([]*wikifolio.Order, error){listed(openOrder(t, "ord-9", "Offen"), leg)}}
	pub := &fakePublisher{}
	w := NewOrderWatcher(context.Background(), zap.NewNop(), src, pub, nil, 5*time.Millisecond, 0)
	defer w.Stop()

	evt := placedEvent()
	evt.OrderID = "ord-1-sl"
	w.Watch("wfstrategy", evt)
	require.Eventually(t, func() bool { return len(pub.statuses()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Wartend", pub.orderEvents()[0].Reason)
}

// ─── Stopping ────────────────────────────────────────────────────────────────

func TestWatcher_ForgetEmitsNothing(t *testing.T) {
	src := &fakeSource{}
	pub := &fakePublisher{}
	w := NewOrderWatcher(context.Background(), zap.NewNop(), src, pub, nil, time.Hour, 0)
	defer w.Stop()

	w.Watch("wfstrategy", placedEvent())
	w.Forget("ord-1")
	w.Forget("ord-unknown")

	assert.False(t, w.Watching("ord-1"))
	assert.Empty(t, pub.orderEvents())
}

func TestWatcher_StopEndsWatches(t *testing.T) {
	w := NewOrderWatcher(context.Background(), zap.NewNop(), &fakeSource{}, nil, nil, time.Hour, 0)

	w.Watch("wfstrategy", placedEvent())
	w.Stop()
	assert.False(t, w.Watching("ord-1"))
	w.Stop()
}

func TestWatcher_Timeout(t *testing.T) {
	o := openOrder(t, "ord-1", "Offen")
	src := &fakeSource{script: []func() ([]*wikifolio.Order, error){listed(o)}}
	pub := &fakePublisher{}
	w := NewOrderWatcher(context.Background(), zap.NewNop(), src, pub, nil, 5*time.Millisecond, 30*time.Millisecond)
	defer w.Stop()

	w.Watch("wfstrategy", placedEvent())
	require.Eventually(t, func() bool { return !w.Watching("ord-1") }, 2*time.Second, 5*time.Millisecond)
	assert.NotContains(t, pub.statuses(), model.OrderStatusClosed)
}

func TestWatcher_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewOrderWatcher(ctx, zap.NewNop(), &fakeSource{}, nil, nil, time.Hour, 0)
	defer w.Stop()

	w.Watch("wfstrategy", placedEvent())
	cancel()
	require.Eventually(t, func() bool { return !w.Watching("ord-1") }, 2*time.Second, 5*time.Millisecond)
}
