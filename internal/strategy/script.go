package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/schema"
)

// ScriptHooks runs a JavaScript strategy body inside the actor. The script
// exports a create(env) function returning a handler object whose optional
// methods map onto the extension hooks:
//
//	function create(env) {
//	  return {
//	    onQuote(quote) { if (quote.price < 3.8) env.buy(quote.symbol, quote.price, 100); },
//	  };
//	}
//
// Hooks run on the actor goroutine, so a single VM needs no locking. The env
// helpers reach back into the invoking actor.
type ScriptHooks struct {
	NopHooks

	vm      *goja.Runtime
	handler *goja.Object
	log     observability.Logger
	bridge  *scriptBridge
}

// NewScriptHooks compiles the script, calls its create function and binds the
// returned handler.
func NewScriptHooks(name, src string, cfg map[string]any, log observability.Logger) (*ScriptHooks, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	program, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, errs.New("strategy/script", errs.CodeInvalid,
			errs.WithMessage("compile failed"), errs.WithCause(err))
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	if _, err := vm.RunProgram(program); err != nil {
		return nil, errs.New("strategy/script", errs.CodeInvalid,
			errs.WithMessage("evaluation failed"), errs.WithCause(err))
	}

	create, ok := goja.AssertFunction(vm.Get("create"))
	if !ok {
		return nil, errs.New("strategy/script", errs.CodeInvalid,
			errs.WithMessage("create function missing"))
	}

	bridge := &scriptBridge{log: log}
	env := vm.NewObject()
	if cfg == nil {
		cfg = map[string]any{}
	}
	_ = env.Set("config", cfg)
	_ = env.Set("log", bridge.logLine)
	_ = env.Set("buy", bridge.buy)
	_ = env.Set("sell", bridge.sell)
	_ = env.Set("watch", bridge.watch)
	_ = env.Set("unwatch", bridge.unwatch)
	_ = env.Set("currentAmount", bridge.currentAmount)
	_ = env.Set("enableAmount", bridge.enableAmount)
	_ = env.Set("enableBalance", bridge.enableBalance)

	value, err := create(goja.Undefined(), env)
	if err != nil {
		return nil, errs.New("strategy/script", errs.CodeInvalid,
			errs.WithMessage("create failed"), errs.WithCause(err))
	}
	handler, ok := value.(*goja.Object)
	if !ok {
		return nil, errs.New("strategy/script", errs.CodeInvalid,
			errs.WithMessage("create returned non-object"))
	}

	return &ScriptHooks{vm: vm, handler: handler, log: log, bridge: bridge}, nil
}

func (s *ScriptHooks) OnInit(ctx context.Context, a *Actor) { s.invoke(ctx, a, "onInit") }

func (s *ScriptHooks) OnStart(ctx context.Context, a *Actor) { s.invoke(ctx, a, "onStart") }

func (s *ScriptHooks) OnStop(ctx context.Context, a *Actor) { s.invoke(ctx, a, "onStop") }

func (s *ScriptHooks) OnQuote(ctx context.Context, a *Actor, evt schema.QuoteEvent) {
	s.invoke(ctx, a, "onQuote", map[string]any{
		"symbol":    evt.Symbol,
		"price":     evt.Price.InexactFloat64(),
		"timestamp": evt.Timestamp.UnixMilli(),
	})
}

func (s *ScriptHooks) OnTick(ctx context.Context, a *Actor, evt schema.TickEvent) {
	s.invoke(ctx, a, "onTick", map[string]any{
		"symbol":    evt.Symbol,
		"price":     evt.Price.InexactFloat64(),
		"volume":    evt.Volume,
		"timestamp": evt.Timestamp.UnixMilli(),
	})
}

func (s *ScriptHooks) OnBar(ctx context.Context, a *Actor, evt schema.BarEvent) {
	s.invoke(ctx, a, "onBar", map[string]any{
		"symbol": evt.Symbol,
		"open":   evt.Open.InexactFloat64(),
		"high":   evt.High.InexactFloat64(),
		"low":    evt.Low.InexactFloat64(),
		"close":  evt.Close.InexactFloat64(),
		"volume": evt.Volume,
	})
}

func (s *ScriptHooks) OnRun(ctx context.Context, a *Actor, payload any) {
	s.invoke(ctx, a, "onRun", payload)
}

func (s *ScriptHooks) OnCommand(ctx context.Context, a *Actor, cmd schema.CustomCommand) {
	var payload any
	if len(cmd.Payload) > 0 {
		if err := cmd.DecodePayload(&payload); err != nil {
			s.log.Warn("script command payload undecodable",
				observability.F("command", cmd.Name),
				observability.F("error", err))
		}
	}
	s.invoke(ctx, a, "onCommand", cmd.Name, payload)
}

func (s *ScriptHooks) invoke(ctx context.Context, a *Actor, method string, args ...any) {
	if s == nil || s.handler == nil {
		return
	}
	fn, ok := goja.AssertFunction(s.handler.Get(method))
	if !ok {
		return
	}

	s.bridge.attach(ctx, a)
	defer s.bridge.detach()

	values := make([]goja.Value, 0, len(args))
	for _, arg := range args {
		values = append(values, s.vm.ToValue(arg))
	}
	if _, err := fn(s.handler, values...); err != nil {
		s.log.Error("script hook failed",
			observability.F("method", method),
			observability.F("error", err))
	}
}

// scriptBridge exposes actor operations to the VM. The actor reference is
// only set for the duration of a hook call.
type scriptBridge struct {
	log   observability.Logger
	actor *Actor
	ctx   context.Context
}

func (b *scriptBridge) attach(ctx context.Context, a *Actor) {
	b.ctx = ctx
	b.actor = a
}

func (b *scriptBridge) detach() {
	b.ctx = nil
	b.actor = nil
}

func (b *scriptBridge) logLine(args ...any) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, fmt.Sprint(arg))
	}
	b.log.Info(strings.Join(parts, " "))
}

func (b *scriptBridge) buy(symbol string, price any, amount int64) error {
	if b.actor == nil {
		return fmt.Errorf("actor unavailable")
	}
	p, err := parseScriptPrice(price)
	if err != nil {
		return err
	}
	b.actor.Buy(b.ctx, symbol, p, amount)
	return nil
}

func (b *scriptBridge) sell(symbol string, price any, amount int64) error {
	if b.actor == nil {
		return fmt.Errorf("actor unavailable")
	}
	p, err := parseScriptPrice(price)
	if err != nil {
		return err
	}
	b.actor.Sell(b.ctx, symbol, p, amount)
	return nil
}

func (b *scriptBridge) watch(symbol string) {
	if b.actor == nil {
		return
	}
	b.actor.AddSecurities(b.ctx, schema.Security{Kind: schema.SecurityKindStock, Symbol: symbol})
}

func (b *scriptBridge) unwatch(symbol string) {
	if b.actor == nil {
		return
	}
	b.actor.RemoveSecurities(b.ctx, schema.Security{Kind: schema.SecurityKindStock, Symbol: symbol})
}

func (b *scriptBridge) currentAmount(symbol string) int64 {
	if b.actor == nil {
		return 0
	}
	return b.actor.CurrentAmount(symbol)
}

func (b *scriptBridge) enableAmount(symbol string) int64 {
	if b.actor == nil {
		return 0
	}
	return b.actor.EnableAmount(symbol)
}

func (b *scriptBridge) enableBalance() float64 {
	if b.actor == nil || b.actor.Descriptor() == nil {
		return 0
	}
	return b.actor.Descriptor().EnableBalance.InexactFloat64()
}

func parseScriptPrice(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return decimal.Zero, fmt.Errorf("empty price")
		}
		return decimal.NewFromString(trimmed)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported price %v", strconv.Quote(fmt.Sprint(value)))
	}
}
