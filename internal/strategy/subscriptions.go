package strategy

import (
	"context"

	"github.com/quanterhq/strategyd/internal/bus/marketbus"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/schema"
)

// subscriptions tracks which symbols the strategy watches and owns the
// watch/unwatch lifecycle against the market-data collaborator. It is only
// touched from the actor goroutine.
type subscriptions struct {
	strategyID string
	router     marketbus.Router
	sink       marketbus.Sink
	log        observability.Logger

	feeds map[string]marketbus.Feed
}

func newSubscriptions(strategyID string, router marketbus.Router, sink marketbus.Sink, log observability.Logger) *subscriptions {
	return &subscriptions{
		strategyID: strategyID,
		router:     router,
		sink:       sink,
		log:        log,
		feeds:      make(map[string]marketbus.Feed),
	}
}

// Add registers interest in the security. Idempotent: a symbol already
// watched is a no-op, so the router sees exactly one watch per symbol.
func (s *subscriptions) Add(ctx context.Context, sec schema.Security) {
	if sec.Symbol == "" || s.router == nil {
		return
	}
	if _, ok := s.feeds[sec.Symbol]; ok {
		return
	}
	s.log.Debug("subscribing quote feed",
		observability.F("strategy", s.strategyID),
		observability.F("symbol", sec.Symbol))

	s.router.AddSecurities(ctx, schema.MarketRequest{
		Type:     schema.MarketAddSecurities,
		Security: sec,
	})

	feed := s.router.Feed(sec.Symbol)
	feed.Watch(ctx, schema.QuotationRequest{
		Type:       schema.QuotationWatch,
		StrategyID: s.strategyID,
	}, s.sink)
	s.feeds[sec.Symbol] = feed
}

// Remove unwatches the security. Idempotent: an unknown symbol is a no-op.
func (s *subscriptions) Remove(ctx context.Context, sec schema.Security) {
	feed, ok := s.feeds[sec.Symbol]
	if !ok {
		return
	}
	feed.Unwatch(ctx, schema.QuotationRequest{
		Type:       schema.QuotationUnwatch,
		StrategyID: s.strategyID,
	})
	delete(s.feeds, sec.Symbol)
}

// Watching reports whether the symbol is currently subscribed.
func (s *subscriptions) Watching(symbol string) bool {
	_, ok := s.feeds[symbol]
	return ok
}

// Len returns the number of recorded subscriptions.
func (s *subscriptions) Len() int {
	return len(s.feeds)
}
