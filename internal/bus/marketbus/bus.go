// Package marketbus routes market-data interest and quote events between
// feeds and strategy actors.
package marketbus

import (
	"context"

	"github.com/quanterhq/strategyd/internal/schema"
)

// Sink receives market events on behalf of a watching strategy. Strategy
// actors implement Sink by enqueueing into their own mailbox.
type Sink interface {
	Deliver(msg schema.Message)
}

// Feed is the per-symbol quote feed reference strategies watch and unwatch.
type Feed interface {
	Watch(ctx context.Context, req schema.QuotationRequest, sink Sink)
	Unwatch(ctx context.Context, req schema.QuotationRequest)
}

// Router is the market-data distribution collaborator. AddSecurities and the
// feed watch/unwatch requests are all fire-and-forget.
type Router interface {
	AddSecurities(ctx context.Context, req schema.MarketRequest)
	Feed(symbol string) Feed
	Publish(ctx context.Context, symbol string, evt schema.MarketEvent)
	Close()
}
