// Package strategy hosts the actor that owns one strategy's positions and
// capital. Each actor processes its mailbox strictly one message at a time;
// ledger mutation therefore needs no locks. Collaborators are reached only by
// message passing: a single bounded-wait descriptor load at initialization,
// fire-and-forget everywhere else.
package strategy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/bus/marketbus"
	"github.com/quanterhq/strategyd/internal/bus/persistbus"
	"github.com/quanterhq/strategyd/internal/bus/tradebus"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/risk"
	"github.com/quanterhq/strategyd/internal/schema"
	"github.com/quanterhq/strategyd/internal/symbols"
	"github.com/quanterhq/strategyd/internal/telemetry"
)

// State is the actor lifecycle state.
type State int32

const (
	// StateUninitialized is the state before INIT.
	StateUninitialized State = iota
	// StateInitializing covers the descriptor load.
	StateInitializing
	// StateReady accepts trading commands and market events.
	StateReady
	// StateFailed is entered when the init load times out or errors; the
	// actor stays alive but non-functional until externally restarted.
	StateFailed
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultMailboxSize = 256
	defaultInitTimeout = 10 * time.Second
)

// Config carries per-actor settings.
type Config struct {
	StrategyID  string
	MailboxSize int
	InitTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = defaultInitTimeout
	}
	return c
}

// Deps wires the actor's collaborators and extension points.
type Deps struct {
	Logger        observability.Logger
	Notifier      observability.Notifier
	Metrics       *telemetry.StrategyMetrics
	Persistence   persistbus.Bus
	Market        marketbus.Router
	Trades        tradebus.Gateway
	TradeResolver func(gatewayID string) tradebus.Gateway
	Risk          *risk.Chain
	ReferenceData ReferenceData
	Hooks         Hooks
}

// Actor runs one strategy.
type Actor struct {
	cfg      Config
	log      observability.Logger
	notices  observability.Notifier
	metrics  *telemetry.StrategyMetrics
	persist  persistbus.Bus
	trades   tradebus.Gateway
	resolver func(string) tradebus.Gateway
	chain    *risk.Chain
	refdata  ReferenceData
	hooks    Hooks

	desc    *portfolio.Descriptor
	subs    *subscriptions
	mailbox chan schema.Message
	state   atomic.Int32
}

// New constructs a strategy actor. Missing optional dependencies fall back to
// no-op implementations.
func New(cfg Config, deps Deps) *Actor {
	cfg = cfg.normalize()
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = observability.NopNotifier{}
	}
	if deps.Hooks == nil {
		deps.Hooks = NopHooks{}
	}
	if deps.Risk == nil {
		deps.Risk = risk.NewChain()
	}
	if deps.ReferenceData == nil {
		deps.ReferenceData = MapReferenceData{}
	}

	a := &Actor{
		cfg:      cfg,
		log:      deps.Logger,
		notices:  deps.Notifier,
		metrics:  deps.Metrics,
		persist:  deps.Persistence,
		trades:   deps.Trades,
		resolver: deps.TradeResolver,
		chain:    deps.Risk,
		refdata:  deps.ReferenceData,
		hooks:    deps.Hooks,
		mailbox:  make(chan schema.Message, cfg.MailboxSize),
	}
	a.subs = newSubscriptions(cfg.StrategyID, deps.Market, a, deps.Logger)
	a.state.Store(int32(StateUninitialized))
	return a
}

// ID returns the strategy identifier.
func (a *Actor) ID() string { return a.cfg.StrategyID }

// State returns the current lifecycle state.
func (a *Actor) State() State { return State(a.state.Load()) }

func (a *Actor) setState(s State) { a.state.Store(int32(s)) }

// Descriptor exposes the owned ledger to hooks running on the actor goroutine.
func (a *Actor) Descriptor() *portfolio.Descriptor { return a.desc }

// CurrentAmount returns the settled amount held for the symbol.
func (a *Actor) CurrentAmount(symbol string) int64 {
	if a.desc == nil {
		return 0
	}
	return a.desc.CurrentAmount(symbol)
}

// EnableAmount returns the amount available to sell for the symbol.
func (a *Actor) EnableAmount(symbol string) int64 {
	if a.desc == nil {
		return 0
	}
	return a.desc.EnableAmount(symbol)
}

// Watching reports whether the symbol's quote feed is subscribed.
func (a *Actor) Watching(symbol string) bool { return a.subs.Watching(symbol) }

// Tell enqueues a message into the actor mailbox without blocking. When the
// mailbox is full the message is dropped; senders never learn, matching the
// fire-and-forget contract.
func (a *Actor) Tell(msg schema.Message) {
	if msg == nil || a.State() == StateStopped {
		return
	}
	select {
	case a.mailbox <- msg:
	default:
		a.log.Warn("mailbox full, dropping message",
			observability.F("strategy", a.cfg.StrategyID),
			observability.F("message", fmt.Sprintf("%T", msg)))
	}
}

// Deliver implements marketbus.Sink.
func (a *Actor) Deliver(msg schema.Message) { a.Tell(msg) }

// Run processes the mailbox until the context ends or STOP arrives. Teardown
// always runs the stop hook, even when the actor never reached Ready.
func (a *Actor) Run(ctx context.Context) error {
	defer a.teardown(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-a.mailbox:
			a.handle(ctx, msg)
			if a.State() == StateStopped {
				return nil
			}
		}
	}
}

func (a *Actor) teardown(ctx context.Context) {
	if a.State() == StateStopped {
		return
	}
	a.hooks.OnStop(ctx, a)
	a.setState(StateStopped)
}

func (a *Actor) handle(ctx context.Context, msg schema.Message) {
	switch m := msg.(type) {
	case schema.InitCommand:
		a.init(ctx)
	case schema.StartCommand:
		if a.ready("start") {
			a.hooks.OnStart(ctx, a)
		}
	case schema.StopCommand:
		a.hooks.OnStop(ctx, a)
		a.setState(StateStopped)
	case schema.SettleCommand:
		if a.ready("settle") {
			a.settle(ctx)
		}
	case schema.BuyCommand:
		if a.ready("buy") {
			a.buy(ctx, m.Symbol, m.Price, m.Amount)
		}
	case schema.SellCommand:
		if a.ready("sell") {
			a.sell(ctx, m.Symbol, m.Price, m.Amount)
		}
	case schema.WatchCommand:
		if a.ready("watch") {
			a.subs.Add(ctx, m.Security)
		}
	case schema.UnwatchCommand:
		if a.ready("unwatch") {
			a.subs.Remove(ctx, m.Security)
		}
	case schema.CustomCommand:
		if a.ready("custom") {
			a.hooks.OnCommand(ctx, a, m)
		}
	case schema.QuoteEvent:
		if a.State() == StateReady {
			a.onQuote(ctx, m)
		}
	case schema.TickEvent:
		if a.State() == StateReady {
			a.hooks.OnTick(ctx, a, m)
		}
	case schema.BarEvent:
		if a.State() == StateReady {
			a.hooks.OnBar(ctx, a, m)
		}
	case schema.RunEvent:
		if a.State() == StateReady {
			a.hooks.OnRun(ctx, a, m.Payload)
		}
	default:
		a.log.Debug("ignoring unknown message",
			observability.F("strategy", a.cfg.StrategyID),
			observability.F("message", fmt.Sprintf("%T", msg)))
	}
}

func (a *Actor) ready(op string) bool {
	if a.State() == StateReady {
		return true
	}
	a.log.Debug("command ignored outside ready state",
		observability.F("strategy", a.cfg.StrategyID),
		observability.F("op", op),
		observability.F("state", a.State().String()))
	return false
}

// init loads the strategy descriptor through the one bounded-wait request in
// the component. Failure is terminal until an external restart: no retry.
func (a *Actor) init(ctx context.Context) {
	if a.State() != StateUninitialized {
		a.log.Debug("init ignored",
			observability.F("strategy", a.cfg.StrategyID),
			observability.F("state", a.State().String()))
		return
	}
	a.setState(StateInitializing)
	a.log.Info("loading strategy positions", observability.F("strategy", a.cfg.StrategyID))

	askCtx, cancel := context.WithTimeout(ctx, a.cfg.InitTimeout)
	defer cancel()

	res, err := a.persist.Ask(askCtx, schema.PersistenceRequest{
		RequestID:  uuid.NewString(),
		Type:       schema.PersistenceFind,
		StrategyID: a.cfg.StrategyID,
		Query:      fmt.Sprintf("from Descriptor where id = '%s'", a.cfg.StrategyID),
	})
	if err == nil && res.Err != nil {
		err = res.Err
	}
	if err == nil && res.Descriptor == nil {
		err = errs.New("strategy/init", errs.CodeNotFound,
			errs.WithStrategy(a.cfg.StrategyID),
			errs.WithMessage("descriptor missing"))
	}
	if err != nil {
		a.setState(StateFailed)
		a.log.Error("strategy descriptor load failed",
			observability.F("strategy", a.cfg.StrategyID),
			observability.F("error", err))
		a.notices.Notify(fmt.Sprintf("restart required: strategy %s failed to load", a.cfg.StrategyID))
		return
	}

	a.desc = res.Descriptor
	if a.desc.GatewayID != "" && a.resolver != nil {
		if gw := a.resolver(a.desc.GatewayID); gw != nil {
			a.trades = gw
		}
	}
	a.setState(StateReady)
	a.hooks.OnInit(ctx, a)
}

// Buy places a buy intent. Exposed for hooks; runs on the actor goroutine.
func (a *Actor) Buy(ctx context.Context, symbol string, price decimal.Decimal, amount int64) {
	if a.ready("buy") {
		a.buy(ctx, symbol, price, amount)
	}
}

// Sell places a sell intent. Exposed for hooks; runs on the actor goroutine.
func (a *Actor) Sell(ctx context.Context, symbol string, price decimal.Decimal, amount int64) {
	if a.ready("sell") {
		a.sell(ctx, symbol, price, amount)
	}
}

// AddSecurities subscribes the strategy to a symbol's quote feed. Exposed for
// hooks that watch symbols beyond their holdings.
func (a *Actor) AddSecurities(ctx context.Context, sec schema.Security) {
	a.subs.Add(ctx, sec)
}

// RemoveSecurities unsubscribes the strategy from a symbol's quote feed.
func (a *Actor) RemoveSecurities(ctx context.Context, sec schema.Security) {
	a.subs.Remove(ctx, sec)
}

func (a *Actor) buy(ctx context.Context, symbol string, price decimal.Decimal, amount int64) {
	ord := a.newOrder(symbol, price, amount, portfolio.SideBuy)

	verdict := a.chain.Apply(ctx, ord)
	for _, warned := range verdict.Warnings {
		a.log.Warn("risk rule failed without cancelling",
			observability.F("strategy", a.cfg.StrategyID),
			observability.F("rule", warned),
			observability.F("symbol", symbol))
	}
	if verdict.Cancelled {
		a.log.Warn("risk cancelled order",
			observability.F("strategy", a.cfg.StrategyID),
			observability.F("rule", verdict.Rule),
			observability.F("symbol", symbol))
		a.notices.Notify(fmt.Sprintf("risk %s cancelled %s order", verdict.Rule, symbol))
		a.metrics.RecordOrderRejected(ctx, a.cfg.StrategyID, verdict.Rule)
	}
	if ord.Amount == 0 {
		return
	}

	a.notifyTrader(ctx, ord)

	if h := a.desc.Holding(symbol); h != nil {
		a.log.Debug("updating position",
			observability.F("symbol", symbol),
			observability.F("price", price),
			observability.F("amount", amount))
		h.IncomeAmount += amount
		h.CostPrice = decimal.Zero
		a.tellPersist(ctx, schema.PersistenceUpdate, h)
	} else {
		a.log.Debug("opening position",
			observability.F("symbol", symbol),
			observability.F("price", price),
			observability.F("amount", amount))
		h = &portfolio.Holding{
			StrategyID:   a.cfg.StrategyID,
			Symbol:       symbol,
			Code:         symbols.Code(symbol),
			Name:         a.refdata.DisplayName(symbol),
			CostPrice:    price,
			LastPrice:    price,
			IncomeAmount: amount,
			EnableAmount: 0,
		}
		a.desc.AddHolding(h)
		a.tellPersist(ctx, schema.PersistenceSave, h)
		a.subs.Add(ctx, schema.Security{
			Kind:   schema.SecurityKindStock,
			Symbol: symbol,
			Code:   symbols.Code(symbol),
			Name:   h.Name,
		})
	}

	a.desc.EnableBalance = a.desc.EnableBalance.Sub(ord.Notional())
	a.tellPersist(ctx, schema.PersistenceSave, a.desc)
}

// sell forwards the order without risk gating or an enable-amount pre-check;
// a missing holding skips the ledger mutation but the balance credit stands.
func (a *Actor) sell(ctx context.Context, symbol string, price decimal.Decimal, amount int64) {
	ord := a.newOrder(symbol, price, amount, portfolio.SideSell)
	a.notifyTrader(ctx, ord)

	if h := a.desc.Holding(symbol); h != nil {
		h.EnableAmount -= amount
		a.tellPersist(ctx, schema.PersistenceUpdate, h)
	}

	a.desc.EnableBalance = a.desc.EnableBalance.Add(ord.Notional())
	a.tellPersist(ctx, schema.PersistenceSave, a.desc)
}

// settle clears pending buys: income moves into enable, and holdings driven
// to zero are deleted from persistence, dropped from the ledger, and
// unwatched.
func (a *Actor) settle(ctx context.Context) {
	holdings := append([]*portfolio.Holding(nil), a.desc.Holdings...)
	for _, h := range holdings {
		h.EnableAmount += h.IncomeAmount
		h.IncomeAmount = 0
		if h.EnableAmount == 0 {
			a.tellPersist(ctx, schema.PersistenceDelete, h)
			a.desc.RemoveHolding(h.Symbol)
			a.subs.Remove(ctx, schema.Security{Kind: schema.SecurityKindStock, Symbol: h.Symbol})
		} else {
			a.tellPersist(ctx, schema.PersistenceUpdate, h)
		}
	}
}

func (a *Actor) onQuote(ctx context.Context, evt schema.QuoteEvent) {
	a.log.Debug("quote received",
		observability.F("strategy", a.cfg.StrategyID),
		observability.F("symbol", evt.Symbol))
	for _, h := range a.desc.Holdings {
		if h.Symbol == evt.Symbol {
			h.LastPrice = evt.Price
		}
	}
	a.metrics.RecordQuote(ctx, a.cfg.StrategyID)
	a.hooks.OnQuote(ctx, a, evt)
}

func (a *Actor) newOrder(symbol string, price decimal.Decimal, amount int64, side portfolio.Side) *portfolio.Order {
	return &portfolio.Order{
		ClientOrderID: uuid.NewString(),
		StrategyID:    a.cfg.StrategyID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Amount:        amount,
	}
}

func (a *Actor) notifyTrader(ctx context.Context, ord *portfolio.Order) {
	a.log.Debug("notifying trade gateway",
		observability.F("strategy", a.cfg.StrategyID),
		observability.F("symbol", ord.Symbol),
		observability.F("side", ord.Side),
		observability.F("price", ord.Price),
		observability.F("amount", ord.Amount))
	if a.trades == nil {
		return
	}
	a.trades.Submit(ctx, schema.TradeRequest{
		RequestID: uuid.NewString(),
		Type:      schema.TradeRequestFor(ord.Side),
		Order:     ord,
		Timestamp: time.Now().UTC(),
	})
	a.metrics.RecordOrderSubmitted(ctx, a.cfg.StrategyID, string(ord.Side))
}

func (a *Actor) tellPersist(ctx context.Context, typ schema.PersistenceRequestType, entity any) {
	if a.persist == nil {
		return
	}
	a.persist.Tell(ctx, schema.PersistenceRequest{
		RequestID:  uuid.NewString(),
		Type:       typ,
		StrategyID: a.cfg.StrategyID,
		Entity:     entity,
	})
	a.metrics.RecordPersistenceRequest(ctx, a.cfg.StrategyID, string(typ))
}
