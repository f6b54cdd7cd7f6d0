package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// OpenOrderSource lists the open orders of a wikifolio, legs included.
type OpenOrderSource interface {
	OpenOrders(ctx context.Context, identifier string) ([]*wikifolio.Order, error)
}

// OrderWatcher follows placed orders through the open order list. The
// platform has no execution callbacks, so an order that leaves the list is
// reported as closed.
type OrderWatcher struct {
	ctx          context.Context
	logger       *zap.Logger
	source       OpenOrderSource
	publisher    EventPublisher
	journal      Journal
	pollInterval time.Duration
	timeout      time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	now          func() time.Time

	active sync.Map // orderID → cancel func
}

// NewOrderWatcher constructs a watcher. Watches run under ctx; timeout bounds
// how long a single order is followed.
func NewOrderWatcher(
	ctx context.Context,
	logger *zap.Logger,
	source OpenOrderSource,
	pub EventPublisher,
	journal Journal,
	interval time.Duration,
	timeout time.Duration,
) *OrderWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderWatcher{
		ctx:          ctx,
		logger:       logger,
		source:       source,
		publisher:    pub,
		journal:      journal,
		pollInterval: interval,
		timeout:      timeout,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// Stop signals every watch to end and waits for them.
func (w *OrderWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Watching reports whether orderID is currently followed.
func (w *OrderWatcher) Watching(orderID string) bool {
	_, ok := w.active.Load(orderID)
	return ok
}

// Forget stops following an order without emitting a final event, e.g.
// after it was cancelled through the adapter.
func (w *OrderWatcher) Forget(orderID string) {
	if cancel, ok := w.active.LoadAndDelete(orderID); ok {
		cancel.(context.CancelFunc)()
	}
}

// Watch polls the open order list of the wikifolio until the order is no
// longer listed, publishing OPEN on its first sighting and CLOSED once it
// is gone.
func (w *OrderWatcher) Watch(identifier string, placed model.OrderEvent) {
	orderID := placed.OrderID
	if orderID == "" {
		return
	}
	if _, exists := w.active.Load(orderID); exists {
		w.logger.Debug("watcher.order_already_active", zap.String("order_id", orderID))
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if w.timeout > 0 {
		ctx, cancel = context.WithTimeout(w.ctx, w.timeout)
	} else {
		ctx, cancel = context.WithCancel(w.ctx)
	}
	w.active.Store(orderID, cancel)

	w.wg.Add(1)
	go func() {
		defer func() {
			w.active.Delete(orderID)
			cancel()
			w.wg.Done()
		}()

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		lastStatus := placed.Status
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("watcher.order_watch_stopped",
					zap.String("order_id", orderID),
					zap.String("last_status", lastStatus),
					zap.Error(ctx.Err()))
				return

			case <-w.stopCh:
				w.logger.Info("watcher.order_watch_stopped",
					zap.String("order_id", orderID),
					zap.String("reason", "watcher_shutdown"))
				return

			case <-ticker.C:
				orders, err := w.source.OpenOrders(ctx, identifier)
				if err != nil {
					w.logger.Warn("watcher.poll_error",
						zap.String("order_id", orderID),
						zap.Error(err))
					metrics.IncError("watcher", "poll_failed")
					continue
				}
				metrics.SetLastPoll("order_watcher", w.now())

				listed := findOrder(orders, orderID)
				if listed == nil {
					w.handleClosed(ctx, placed, lastStatus)
					return
				}

				// Emit status change only when it actually changes
				if lastStatus != model.OrderStatusOpen {
					lastStatus = model.OrderStatusOpen
					w.emit(ctx, withReason(placed, model.OrderStatusOpen, deref(listed.Data().Status), w.now()))
				}
			}
		}
	}()
}

func (w *OrderWatcher) handleClosed(ctx context.Context, placed model.OrderEvent, lastStatus string) {
	w.emit(ctx, withReason(placed, model.OrderStatusClosed, "no longer listed as open", w.now()))
	w.logger.Info("watcher.order_closed",
		zap.String("order_id", placed.OrderID),
		zap.String("previous_status", lastStatus))
}

func (w *OrderWatcher) emit(ctx context.Context, evt model.OrderEvent) {
	if w.journal != nil {
		if err := w.journal.Record(ctx, &evt); err != nil {
			w.logger.Warn("watcher.journal_failed", zap.String("order_id", evt.OrderID), zap.Error(err))
		}
	}
	if w.publisher != nil {
		if err := w.publisher.PublishOrderEvent(ctx, evt); err != nil {
			w.logger.Debug("nats.publish_failed", zap.String("order_id", evt.OrderID), zap.Error(err))
		}
	}
	w.logger.Info("watcher.order_status_changed",
		zap.String("order_id", evt.OrderID),
		zap.String("status", evt.Status),
		zap.String("platform_status", evt.Reason))
}

func withReason(evt model.OrderEvent, status, reason string, at time.Time) model.OrderEvent {
	evt.Status = status
	evt.Reason = reason
	evt.Timestamp = at.UTC()
	return evt
}

func findOrder(orders []*wikifolio.Order, id string) *wikifolio.Order {
	for _, o := range orders {
		if o.ID() == id {
			return o
		}
	}
	return nil
}
