package wikifolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/internal/signalr"
)

const (
	quoteHub        = "quotehub"
	quoteLocale     = "de/de"
	getQuoteMethod  = "GetQuote"
	getQuoteInvokeI = 4
)

var quoteHubs = []string{"livehub", quoteHub}

// QuoteRequest asks the quote hub for a binding price.
type QuoteRequest struct {
	WikifolioID string
	ISIN        string
	Amount      int64
	Side        Side
}

func (r QuoteRequest) validate() error {
	switch {
	case r.WikifolioID == "":
		return &MissingIdentifierError{Kind: "wikifolio", Field: "id"}
	case r.ISIN == "":
		return fmt.Errorf("%w: quote needs the underlying isin", ErrInvalidOrder)
	case r.Amount <= 0:
		return fmt.Errorf("%w: quote needs a positive amount", ErrInvalidOrder)
	case r.Side.ToInt() == 0:
		return fmt.Errorf("%w: quote needs a side", ErrInvalidOrder)
	}
	return nil
}

type quoteCallback struct {
	QuoteID string `json:"QuoteId"`
}

type quoteResult struct {
	id  string
	err error
}

// NegotiateQuote runs the SignalR handshake, asks the quote hub for a quote
// and returns its id. The stream is closed exactly once, after the first of:
// a quote, an error callback, an invocation error, a dropped connection or
// the quote timeout.
func (c *Client) NegotiateQuote(ctx context.Context, req QuoteRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.quoteTTL)
	defer cancel()

	start := time.Now()
	logger := c.logger.With(
		zap.String("wikifolio_id", req.WikifolioID),
		zap.String("isin", req.ISIN),
		zap.String("side", req.Side.String()))

	id, err := c.negotiateQuote(ctx, req, logger)
	metrics.ObserveDuration(metrics.QuoteDuration, start)
	switch {
	case err == nil:
		metrics.IncQuote("ok")
		logger.Info("wikifolio.quote_received", zap.String("quote_id", id), zap.Duration("elapsed", time.Since(start)))
	case errors.Is(err, context.DeadlineExceeded):
		metrics.IncQuote("timeout")
		logger.Warn("wikifolio.quote_timeout", zap.Duration("timeout", c.quoteTTL))
	default:
		metrics.IncQuote("error")
		logger.Warn("wikifolio.quote_failed", zap.Error(err))
	}
	return id, err
}

func (c *Client) negotiateQuote(ctx context.Context, req QuoteRequest, logger *zap.Logger) (string, error) {
	endpoint := signalr.Endpoint{BaseURL: c.base, Locale: quoteLocale, Hubs: quoteHubs}

	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Target: endpoint.NegotiateTarget(c.now()), Raw: true})
	if err != nil {
		return "", &QuoteNegotiationError{Stage: "negotiate", Err: err}
	}
	var negotiated signalr.NegotiateResponse
	if err := json.Unmarshal(resp.Body, &negotiated); err != nil {
		return "", &QuoteNegotiationError{Stage: "negotiate", Message: "invalid negotiate response", Err: err}
	}
	if negotiated.ConnectionToken == "" {
		return "", &QuoteNegotiationError{Stage: "negotiate", Message: "no connection token"}
	}

	header := http.Header{}
	header.Set("Cookie", c.session.Cookie())
	stream, err := signalr.Open(ctx, c.dialer, endpoint.ConnectURL(negotiated.ConnectionToken, rand.IntN(11)), header, logger)
	if err != nil {
		return "", &QuoteNegotiationError{Stage: "connect", Err: err}
	}

	var once sync.Once
	result := make(chan quoteResult, 1)
	resolve := func(id string, err error) {
		once.Do(func() {
			result <- quoteResult{id: id, err: err}
			_ = stream.Close()
		})
	}

	go func() {
		err := stream.Run(func(f signalr.Frame) {
			if r, done := handleQuoteFrame(f, logger); done {
				resolve(r.id, r.err)
			}
		})
		resolve("", &QuoteNegotiationError{Stage: "stream", Message: "stream ended before a quote arrived", Err: err})
	}()

	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Target: endpoint.StartTarget(negotiated.ConnectionToken, c.now()), Raw: true}); err != nil {
		resolve("", &QuoteNegotiationError{Stage: "start", Err: err})
	} else if err := stream.Send(signalr.Invocation{
		Hub:    quoteHub,
		Method: getQuoteMethod,
		Args:   []any{req.WikifolioID, req.ISIN, strconv.FormatInt(req.Amount, 10), req.Side.ToInt()},
		ID:     getQuoteInvokeI,
	}); err != nil {
		resolve("", &QuoteNegotiationError{Stage: "subscribe", Err: err})
	}

	select {
	case r := <-result:
		return r.id, r.err
	case <-ctx.Done():
		resolve("", &QuoteNegotiationError{Stage: "wait", Message: "no quote before timeout", Err: ctx.Err()})
		r := <-result
		return r.id, r.err
	}
}

// handleQuoteFrame inspects one frame; done reports that the negotiation
// has an outcome.
func handleQuoteFrame(f signalr.Frame, logger *zap.Logger) (quoteResult, bool) {
	if f.IsResult() && f.Error != "" {
		return quoteResult{err: &QuoteNegotiationError{Stage: "subscribe", Message: f.Error}}, true
	}
	for _, m := range f.Messages {
		if !strings.EqualFold(m.Hub, quoteHub) {
			logger.Debug("signalr.message_ignored", zap.String("hub", m.Hub), zap.String("method", m.Method))
			continue
		}
		switch strings.ToLower(m.Method) {
		case "quotecallback":
			var cb quoteCallback
			if len(m.Args) > 0 {
				_ = json.Unmarshal(m.Args[0], &cb)
			}
			if cb.QuoteID == "" {
				return quoteResult{err: &QuoteNegotiationError{Stage: "quote", Message: "quote callback without quote id"}}, true
			}
			return quoteResult{id: cb.QuoteID}, true
		case "quoteerrorcallback":
			return quoteResult{err: &QuoteNegotiationError{Stage: "quote", Message: callbackMessage(m.Args)}}, true
		default:
			logger.Debug("signalr.method_ignored", zap.String("method", m.Method))
		}
	}
	return quoteResult{}, false
}

// callbackMessage renders error callback arguments for the error message.
func callbackMessage(args []json.RawMessage) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		var s string
		if json.Unmarshal(a, &s) == nil {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, string(a))
	}
	if len(parts) == 0 {
		return "quote error callback"
	}
	return strings.Join(parts, "; ")
}
