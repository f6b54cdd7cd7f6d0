// Package journal keeps a Postgres record of every order the adapter places
// or cancels on wikifolio.
package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the journal needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertQuery = `
	INSERT INTO activity.t_wikifolio_order (
		s_id_order,
		s_id_wikifolio,
		s_symbol,
		s_isin,
		s_side,
		s_type,
		n_amount,
		dec_limit_price,
		dec_stop_price,
		s_id_quote,
		s_status,
		s_reason,
		dt_valid_until,
		dt_updated,
		s_source
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, $15
	)
	ON CONFLICT (s_id_order)
	DO UPDATE SET
		s_status = EXCLUDED.s_status,
		s_reason = EXCLUDED.s_reason,
		dt_updated = EXCLUDED.dt_updated,
		s_id_quote = COALESCE(EXCLUDED.s_id_quote, activity.t_wikifolio_order.s_id_quote);
`

// OrderJournal upserts order events into activity.t_wikifolio_order.
type OrderJournal struct {
	db     DBExecutor
	logger *zap.Logger
	source string
}

// New constructs a journal. A nil db turns every write into a no-op, which
// is how the adapter runs without DATABASE_URL.
func New(db DBExecutor, logger *zap.Logger, source string) *OrderJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderJournal{db: db, logger: logger, source: source}
}

// Record upserts the order's latest state, keyed by order id.
func (j *OrderJournal) Record(ctx context.Context, evt *model.OrderEvent) error {
	if j == nil || j.db == nil || evt == nil || evt.OrderID == "" {
		return nil
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := j.db.Exec(ctx, upsertQuery,
		evt.OrderID,           // s_id_order
		evt.WikifolioID,       // s_id_wikifolio
		evt.Symbol,            // s_symbol
		evt.ISIN,              // s_isin
		evt.Side,              // s_side
		evt.OrderType,         // s_type
		evt.Amount,            // n_amount
		evt.LimitPrice,        // dec_limit_price
		evt.StopPrice,         // dec_stop_price
		nullable(evt.QuoteID), // s_id_quote
		evt.Status,            // s_status
		nullable(evt.Reason),  // s_reason
		evt.ExpiresAt,         // dt_valid_until
		ts,                    // dt_updated
		j.source,              // s_source
	)
	if err != nil {
		j.logger.Error("journal.order_upsert_failed",
			zap.String("order_id", evt.OrderID),
			zap.String("status", evt.Status),
			zap.Error(err),
		)
		return err
	}

	j.logger.Debug("journal.order_upsert",
		zap.String("order_id", evt.OrderID),
		zap.String("wikifolio_id", evt.WikifolioID),
		zap.String("status", evt.Status),
	)
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
