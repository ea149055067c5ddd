package marketdata

import (
	"context"

	"github.com/quanterhq/strategyd/internal/bus/marketbus"
	"github.com/quanterhq/strategyd/internal/schema"
)

// RouterBridge forwards router interest registrations to the upstream feed so
// that strategies opening new positions start the corresponding quote stream.
type RouterBridge struct {
	marketbus.Router
	feed *WSFeed
}

// NewRouterBridge wraps router, mirroring AddSecurities into feed subscriptions.
func NewRouterBridge(router marketbus.Router, feed *WSFeed) *RouterBridge {
	return &RouterBridge{Router: router, feed: feed}
}

// AddSecurities registers interest locally and subscribes upstream.
func (b *RouterBridge) AddSecurities(ctx context.Context, req schema.MarketRequest) {
	b.Router.AddSecurities(ctx, req)
	if b.feed != nil && req.Security.Symbol != "" {
		_ = b.feed.Subscribe(req.Security.Symbol)
	}
}
