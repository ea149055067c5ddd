package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/bus/marketbus"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/risk"
	"github.com/quanterhq/strategyd/internal/schema"
)

type persistStub struct {
	mu     sync.Mutex
	desc   *portfolio.Descriptor
	askErr error
	tells  []schema.PersistenceRequest
}

func (p *persistStub) Ask(_ context.Context, _ schema.PersistenceRequest) (schema.PersistenceResult, error) {
	if p.askErr != nil {
		return schema.PersistenceResult{}, p.askErr
	}
	return schema.PersistenceResult{Descriptor: p.desc}, nil
}

func (p *persistStub) Tell(_ context.Context, req schema.PersistenceRequest) {
	p.mu.Lock()
	p.tells = append(p.tells, req)
	p.mu.Unlock()
}

func (p *persistStub) Consume(context.Context) (<-chan schema.PersistenceRequest, error) {
	return nil, nil
}

func (p *persistStub) Close() {}

func (p *persistStub) recorded() []schema.PersistenceRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schema.PersistenceRequest(nil), p.tells...)
}

type tradeStub struct {
	mu   sync.Mutex
	reqs []schema.TradeRequest
}

func (g *tradeStub) Submit(_ context.Context, req schema.TradeRequest) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
}

func (g *tradeStub) Consume(context.Context) (<-chan schema.TradeRequest, error) { return nil, nil }

func (g *tradeStub) Close() {}

func (g *tradeStub) recorded() []schema.TradeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]schema.TradeRequest(nil), g.reqs...)
}

type hookRecorder struct {
	NopHooks
	inits, starts, stops, quotes atomic.Int32
}

func (h *hookRecorder) OnInit(context.Context, *Actor)  { h.inits.Add(1) }
func (h *hookRecorder) OnStart(context.Context, *Actor) { h.starts.Add(1) }
func (h *hookRecorder) OnStop(context.Context, *Actor)  { h.stops.Add(1) }

func (h *hookRecorder) OnQuote(_ context.Context, _ *Actor, _ schema.QuoteEvent) { h.quotes.Add(1) }

type noticeRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (n *noticeRecorder) Notify(msg string) {
	n.mu.Lock()
	n.lines = append(n.lines, msg)
	n.mu.Unlock()
}

func (n *noticeRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lines)
}

type cancelRule struct{ failed int }

func (r *cancelRule) Title() string       { return "max-position" }
func (r *cancelRule) Action() risk.Action { return risk.ActionCancelOrder }
func (r *cancelRule) Check(context.Context, risk.Message) bool {
	r.failed++
	return false
}

type fixture struct {
	actor   *Actor
	persist *persistStub
	trades  *tradeStub
	router  *marketbus.MemoryRouter
	hooks   *hookRecorder
	notices *noticeRecorder
}

func newFixture(t *testing.T, desc *portfolio.Descriptor, chain *risk.Chain) *fixture {
	t.Helper()
	f := &fixture{
		persist: &persistStub{desc: desc},
		trades:  &tradeStub{},
		router:  marketbus.NewMemoryRouter(),
		hooks:   &hookRecorder{},
		notices: &noticeRecorder{},
	}
	t.Cleanup(f.router.Close)
	f.actor = New(Config{StrategyID: desc.ID, InitTimeout: time.Second}, Deps{
		Logger:        observability.NopLogger{},
		Notifier:      f.notices,
		Persistence:   f.persist,
		Market:        f.router,
		Trades:        f.trades,
		Risk:          chain,
		ReferenceData: MapReferenceData{"510300.XSHG": "CSI 300 ETF"},
		Hooks:         f.hooks,
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.actor.handle(context.Background(), schema.InitCommand{})
	require.Equal(t, StateReady, f.actor.State())
}

func testDescriptor() *portfolio.Descriptor {
	return &portfolio.Descriptor{
		ID:            "alpha-1",
		EnableBalance: decimal.NewFromInt(100_000),
	}
}

func TestInitLoadsDescriptor(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)

	f.actor.handle(context.Background(), schema.InitCommand{})

	require.Equal(t, StateReady, f.actor.State())
	require.Equal(t, int32(1), f.hooks.inits.Load())
	require.True(t, f.actor.Descriptor().EnableBalance.Equal(decimal.NewFromInt(100_000)))

	// A second INIT is ignored once the descriptor is loaded.
	f.actor.handle(context.Background(), schema.InitCommand{})
	require.Equal(t, int32(1), f.hooks.inits.Load())
}

func TestInitFailureIsTerminal(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)
	f.persist.askErr = errs.New("persistence/find", errs.CodeTimeout)

	f.actor.handle(context.Background(), schema.InitCommand{})

	require.Equal(t, StateFailed, f.actor.State())
	require.Equal(t, int32(0), f.hooks.inits.Load())
	require.Equal(t, 1, f.notices.count())

	// Commands bounce while failed; no retry happens on its own.
	f.actor.handle(context.Background(), schema.BuyCommand{Symbol: "510300.XSHG", Price: decimal.NewFromInt(4), Amount: 100})
	require.Empty(t, f.trades.recorded())
}

func TestBuyOpensPosition(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)
	f.start(t)

	price := decimal.RequireFromString("3.85")
	f.actor.handle(context.Background(), schema.BuyCommand{Symbol: "510300.XSHG", Price: price, Amount: 1000})

	trades := f.trades.recorded()
	require.Len(t, trades, 1)
	require.Equal(t, schema.TradeBuy, trades[0].Type)
	require.Equal(t, int64(1000), trades[0].Order.Amount)

	h := f.actor.Descriptor().Holding("510300.XSHG")
	require.NotNil(t, h)
	require.Equal(t, "510300", h.Code)
	require.Equal(t, "CSI 300 ETF", h.Name)
	require.Equal(t, int64(1000), h.IncomeAmount)
	require.Equal(t, int64(0), h.EnableAmount)
	require.True(t, h.CostPrice.Equal(price))

	want := decimal.NewFromInt(100_000).Sub(price.Mul(decimal.NewFromInt(1000)))
	require.True(t, f.actor.Descriptor().EnableBalance.Equal(want))

	require.True(t, f.actor.Watching("510300.XSHG"))
	require.True(t, f.router.Tracked("510300.XSHG"))

	tells := f.persist.recorded()
	require.Len(t, tells, 2)
	require.Equal(t, schema.PersistenceSave, tells[0].Type)
	require.IsType(t, &portfolio.Holding{}, tells[0].Entity)
	require.Equal(t, schema.PersistenceSave, tells[1].Type)
	require.IsType(t, &portfolio.Descriptor{}, tells[1].Entity)
}

func TestBuyGrowsExistingPosition(t *testing.T) {
	desc := testDescriptor()
	desc.AddHolding(&portfolio.Holding{
		StrategyID:   desc.ID,
		Symbol:       "510300.XSHG",
		CostPrice:    decimal.RequireFromString("3.80"),
		EnableAmount: 500,
	})
	f := newFixture(t, desc, nil)
	f.start(t)

	f.actor.handle(context.Background(), schema.BuyCommand{
		Symbol: "510300.XSHG",
		Price:  decimal.RequireFromString("3.90"),
		Amount: 300,
	})

	h := f.actor.Descriptor().Holding("510300.XSHG")
	require.Equal(t, int64(300), h.IncomeAmount)
	require.Equal(t, int64(500), h.EnableAmount)
	require.True(t, h.CostPrice.IsZero())

	tells := f.persist.recorded()
	require.Len(t, tells, 2)
	require.Equal(t, schema.PersistenceUpdate, tells[0].Type)
}

func TestRiskCancelStopsBuy(t *testing.T) {
	rule := &cancelRule{}
	f := newFixture(t, testDescriptor(), risk.NewChain(rule))
	f.start(t)

	f.actor.handle(context.Background(), schema.BuyCommand{
		Symbol: "510300.XSHG",
		Price:  decimal.NewFromInt(4),
		Amount: 1000,
	})

	require.Equal(t, 1, rule.failed)
	require.Empty(t, f.trades.recorded())
	require.Empty(t, f.persist.recorded())
	require.Nil(t, f.actor.Descriptor().Holding("510300.XSHG"))
	require.True(t, f.actor.Descriptor().EnableBalance.Equal(decimal.NewFromInt(100_000)))
	require.Equal(t, 1, f.notices.count())
}

func TestSellReducesEnableAmount(t *testing.T) {
	desc := testDescriptor()
	desc.AddHolding(&portfolio.Holding{
		StrategyID:   desc.ID,
		Symbol:       "510300.XSHG",
		EnableAmount: 800,
	})
	f := newFixture(t, desc, risk.NewChain(&cancelRule{}))
	f.start(t)

	price := decimal.NewFromInt(4)
	f.actor.handle(context.Background(), schema.SellCommand{Symbol: "510300.XSHG", Price: price, Amount: 300})

	// Sells are not risk gated: the cancel rule above never fires.
	trades := f.trades.recorded()
	require.Len(t, trades, 1)
	require.Equal(t, schema.TradeSell, trades[0].Type)

	require.Equal(t, int64(500), f.actor.EnableAmount("510300.XSHG"))
	want := decimal.NewFromInt(100_000).Add(price.Mul(decimal.NewFromInt(300)))
	require.True(t, f.actor.Descriptor().EnableBalance.Equal(want))
}

func TestSellWithoutHoldingStillCreditsBalance(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)
	f.start(t)

	f.actor.handle(context.Background(), schema.SellCommand{
		Symbol: "600000.XSHG",
		Price:  decimal.NewFromInt(10),
		Amount: 100,
	})

	require.Len(t, f.trades.recorded(), 1)
	require.True(t, f.actor.Descriptor().EnableBalance.Equal(decimal.NewFromInt(101_000)))

	tells := f.persist.recorded()
	require.Len(t, tells, 1)
	require.IsType(t, &portfolio.Descriptor{}, tells[0].Entity)
}

func TestSettleClearsPendingBuys(t *testing.T) {
	desc := testDescriptor()
	desc.AddHolding(&portfolio.Holding{
		StrategyID:   desc.ID,
		Symbol:       "510300.XSHG",
		EnableAmount: 200,
		IncomeAmount: 300,
	})
	desc.AddHolding(&portfolio.Holding{
		StrategyID:   desc.ID,
		Symbol:       "600000.XSHG",
		EnableAmount: 0,
		IncomeAmount: 0,
	})
	f := newFixture(t, desc, nil)
	f.start(t)
	f.actor.AddSecurities(context.Background(), schema.Security{Kind: schema.SecurityKindStock, Symbol: "600000.XSHG"})

	f.actor.handle(context.Background(), schema.SettleCommand{})

	h := f.actor.Descriptor().Holding("510300.XSHG")
	require.Equal(t, int64(500), h.EnableAmount)
	require.Equal(t, int64(0), h.IncomeAmount)

	require.Nil(t, f.actor.Descriptor().Holding("600000.XSHG"))
	require.False(t, f.actor.Watching("600000.XSHG"))

	tells := f.persist.recorded()
	require.Len(t, tells, 2)
	require.Equal(t, schema.PersistenceUpdate, tells[0].Type)
	require.Equal(t, schema.PersistenceDelete, tells[1].Type)
}

func TestQuoteUpdatesLastPrice(t *testing.T) {
	desc := testDescriptor()
	desc.AddHolding(&portfolio.Holding{
		StrategyID: desc.ID,
		Symbol:     "510300.XSHG",
		LastPrice:  decimal.RequireFromString("3.80"),
	})
	f := newFixture(t, desc, nil)
	f.start(t)

	price := decimal.RequireFromString("3.92")
	f.actor.handle(context.Background(), schema.QuoteEvent{Symbol: "510300.XSHG", Price: price, Timestamp: time.Now()})

	require.True(t, f.actor.Descriptor().Holding("510300.XSHG").LastPrice.Equal(price))
	require.Equal(t, int32(1), f.hooks.quotes.Load())
}

func TestSubscriptionsAreIdempotent(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)
	f.start(t)

	sec := schema.Security{Kind: schema.SecurityKindFund, Symbol: "510300.XSHG"}
	f.actor.AddSecurities(context.Background(), sec)
	f.actor.AddSecurities(context.Background(), sec)
	require.True(t, f.actor.Watching("510300.XSHG"))
	require.Equal(t, 1, f.actor.subs.Len())

	f.actor.RemoveSecurities(context.Background(), sec)
	f.actor.RemoveSecurities(context.Background(), sec)
	require.False(t, f.actor.Watching("510300.XSHG"))
}

func TestCommandsIgnoredBeforeInit(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)

	f.actor.handle(context.Background(), schema.BuyCommand{Symbol: "510300.XSHG", Price: decimal.NewFromInt(4), Amount: 100})
	f.actor.handle(context.Background(), schema.SettleCommand{})
	f.actor.handle(context.Background(), schema.StartCommand{})

	require.Empty(t, f.trades.recorded())
	require.Empty(t, f.persist.recorded())
	require.Equal(t, int32(0), f.hooks.starts.Load())
}

func TestRunProcessesMailboxAndStops(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)

	done := make(chan error, 1)
	go func() { done <- f.actor.Run(context.Background()) }()

	f.actor.Tell(schema.InitCommand{})
	f.actor.Tell(schema.StartCommand{})
	f.actor.Tell(schema.BuyCommand{Symbol: "510300.XSHG", Price: decimal.NewFromInt(4), Amount: 100})

	require.Eventually(t, func() bool {
		return len(f.trades.recorded()) == 1
	}, time.Second, 5*time.Millisecond)

	f.actor.Tell(schema.StopCommand{})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}
	require.Equal(t, StateStopped, f.actor.State())
	require.Equal(t, int32(1), f.hooks.starts.Load())
	require.Equal(t, int32(1), f.hooks.stops.Load())

	// Messages after stop are discarded.
	f.actor.Tell(schema.BuyCommand{Symbol: "510300.XSHG", Price: decimal.NewFromInt(4), Amount: 100})
	require.Len(t, f.trades.recorded(), 1)
}

func TestQuoteFanoutReachesActorMailbox(t *testing.T) {
	f := newFixture(t, testDescriptor(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before the mailbox loop starts so the watch is in place when
	// the feed publishes.
	f.start(t)
	f.actor.AddSecurities(ctx, schema.Security{Kind: schema.SecurityKindFund, Symbol: "510300.XSHG"})

	go func() { _ = f.actor.Run(ctx) }()

	f.router.Publish(ctx, "510300.XSHG", schema.QuoteEvent{
		Symbol:    "510300.XSHG",
		Price:     decimal.RequireFromString("3.91"),
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool { return f.hooks.quotes.Load() == 1 }, time.Second, 5*time.Millisecond)
}
