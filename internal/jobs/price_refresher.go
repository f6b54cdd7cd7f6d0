package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// PriceSource fetches a fresh certificate quote.
type PriceSource interface {
	Price(ctx context.Context, identifier string, refresh bool) (*model.PriceEvent, error)
}

// PriceSink receives refreshed prices.
type PriceSink interface {
	SavePriceSnapshot(ctx context.Context, price model.PriceEvent, ttl time.Duration) error
}

// PricePublisher emits refreshed prices.
type PricePublisher interface {
	PublishPrice(ctx context.Context, evt model.PriceEvent) error
}

// PriceRefresher periodically reloads the prices of a fixed set of
// wikifolios, snapshots them into the cache and emits a price event for each.
type PriceRefresher struct {
	logger    *zap.Logger
	source    PriceSource
	sink      PriceSink
	publisher PricePublisher
	symbols   []string
	interval  time.Duration
	ttl       time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewPriceRefresher constructs a background job. sink and pub may be nil.
func NewPriceRefresher(logger *zap.Logger, source PriceSource, sink PriceSink, pub PricePublisher, symbols []string, interval, ttl time.Duration) *PriceRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceRefresher{
		logger:    logger,
		source:    source,
		sink:      sink,
		publisher: pub,
		symbols:   symbols,
		interval:  interval,
		ttl:       ttl,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the refresh loop, refreshing once immediately.
func (r *PriceRefresher) Start(ctx context.Context) {
	if len(r.symbols) == 0 {
		r.logger.Info("price_refresher.disabled (no symbols)")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("price_refresher.started",
		zap.Duration("interval", r.interval),
		zap.Strings("symbols", r.symbols))

	r.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("price_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("price_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *PriceRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RunOnce executes one refresh cycle and returns how many prices were
// refreshed. A failing symbol does not stop the others.
func (r *PriceRefresher) RunOnce(ctx context.Context) int {
	start := time.Now()
	refreshed := 0
	for _, symbol := range r.symbols {
		if ctx.Err() != nil {
			break
		}
		price, err := r.source.Price(ctx, symbol, true)
		if err != nil {
			r.logger.Warn("price_refresher.fetch_failed",
				zap.String("wikifolio", symbol),
				zap.Error(err))
			metrics.IncError("price_refresher", "fetch_failed")
			continue
		}
		if r.sink != nil {
			if err := r.sink.SavePriceSnapshot(ctx, *price, r.ttl); err != nil {
				r.logger.Warn("price_refresher.snapshot_failed",
					zap.String("wikifolio", symbol),
					zap.Error(err))
			}
		}
		if r.publisher != nil {
			if err := r.publisher.PublishPrice(ctx, *price); err != nil {
				r.logger.Warn("price_refresher.nats_publish_failed",
					zap.String("wikifolio", symbol),
					zap.Error(err))
			}
		}
		refreshed++
	}

	metrics.SetLastPoll("price_refresher", time.Now())
	r.logger.Info("price_refresher.success",
		zap.Int("refreshed", refreshed),
		zap.Int("symbols", len(r.symbols)),
		zap.Duration("duration", time.Since(start)))
	return refreshed
}
