package marketbus

import (
	"context"
	"sync"

	"github.com/quanterhq/strategyd/internal/schema"
)

// MemoryRouter is an in-memory implementation of the market-data router.
type MemoryRouter struct {
	mu         sync.RWMutex
	feeds      map[string]*memoryFeed
	securities map[string]schema.Security
	closed     bool
	once       sync.Once
}

// NewMemoryRouter constructs a memory-backed market-data router.
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{
		feeds:      make(map[string]*memoryFeed),
		securities: make(map[string]schema.Security),
	}
}

// AddSecurities registers process-wide interest in the security and makes its
// feed resolvable. Repeated registrations are no-ops.
func (r *MemoryRouter) AddSecurities(_ context.Context, req schema.MarketRequest) {
	if req.Type != schema.MarketAddSecurities || req.Security.Symbol == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.securities[req.Security.Symbol]; !ok {
		r.securities[req.Security.Symbol] = req.Security
	}
	r.ensureFeedLocked(req.Security.Symbol)
}

// Feed resolves the quote feed for the symbol, creating it on first use the
// way an actor path resolves whether or not the target started yet.
func (r *MemoryRouter) Feed(symbol string) Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureFeedLocked(symbol)
}

// Publish fans a market event out to every watcher of the symbol's feed.
func (r *MemoryRouter) Publish(_ context.Context, symbol string, evt schema.MarketEvent) {
	if evt == nil {
		return
	}
	r.mu.RLock()
	feed := r.feeds[symbol]
	closed := r.closed
	r.mu.RUnlock()
	if feed == nil || closed {
		return
	}
	feed.publish(evt)
}

// Tracked reports whether the security has been registered.
func (r *MemoryRouter) Tracked(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.securities[symbol]
	return ok
}

// Close drops all feeds and watchers.
func (r *MemoryRouter) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.feeds = make(map[string]*memoryFeed)
		r.securities = make(map[string]schema.Security)
		r.mu.Unlock()
	})
}

func (r *MemoryRouter) ensureFeedLocked(symbol string) *memoryFeed {
	feed, ok := r.feeds[symbol]
	if !ok {
		feed = &memoryFeed{symbol: symbol, watchers: make(map[string]Sink)}
		r.feeds[symbol] = feed
	}
	return feed
}

type memoryFeed struct {
	symbol   string
	mu       sync.RWMutex
	watchers map[string]Sink
}

// Watch records the strategy's sink. Watching twice replaces the sink without
// duplicating delivery.
func (f *memoryFeed) Watch(_ context.Context, req schema.QuotationRequest, sink Sink) {
	if req.Type != schema.QuotationWatch || req.StrategyID == "" || sink == nil {
		return
	}
	f.mu.Lock()
	f.watchers[req.StrategyID] = sink
	f.mu.Unlock()
}

// Unwatch forgets the strategy's sink; unknown strategies are no-ops.
func (f *memoryFeed) Unwatch(_ context.Context, req schema.QuotationRequest) {
	if req.Type != schema.QuotationUnwatch || req.StrategyID == "" {
		return
	}
	f.mu.Lock()
	delete(f.watchers, req.StrategyID)
	f.mu.Unlock()
}

func (f *memoryFeed) publish(evt schema.MarketEvent) {
	f.mu.RLock()
	sinks := make([]Sink, 0, len(f.watchers))
	for _, sink := range f.watchers {
		sinks = append(sinks, sink)
	}
	f.mu.RUnlock()
	for _, sink := range sinks {
		sink.Deliver(evt)
	}
}
