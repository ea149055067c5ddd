package strategy

import (
	"context"

	"github.com/quanterhq/strategyd/internal/schema"
)

// Hooks are the extension points a derived strategy supplies. Every hook runs
// on the actor goroutine, so implementations may touch the actor's ledger and
// subscriptions without synchronization.
type Hooks interface {
	OnInit(ctx context.Context, a *Actor)
	OnStart(ctx context.Context, a *Actor)
	OnStop(ctx context.Context, a *Actor)
	OnQuote(ctx context.Context, a *Actor, evt schema.QuoteEvent)
	OnTick(ctx context.Context, a *Actor, evt schema.TickEvent)
	OnBar(ctx context.Context, a *Actor, evt schema.BarEvent)
	OnRun(ctx context.Context, a *Actor, payload any)
	OnCommand(ctx context.Context, a *Actor, cmd schema.CustomCommand)
}

// NopHooks is the default no-behavior extension.
type NopHooks struct{}

func (NopHooks) OnInit(context.Context, *Actor)                       {}
func (NopHooks) OnStart(context.Context, *Actor)                      {}
func (NopHooks) OnStop(context.Context, *Actor)                       {}
func (NopHooks) OnQuote(context.Context, *Actor, schema.QuoteEvent)   {}
func (NopHooks) OnTick(context.Context, *Actor, schema.TickEvent)     {}
func (NopHooks) OnBar(context.Context, *Actor, schema.BarEvent)       {}
func (NopHooks) OnRun(context.Context, *Actor, any)                   {}
func (NopHooks) OnCommand(context.Context, *Actor, schema.CustomCommand) {}

// ReferenceData resolves display metadata for instruments. It is injected at
// construction so strategies never reach for process-wide lookup tables.
type ReferenceData interface {
	DisplayName(symbol string) string
}

// MapReferenceData is a ReferenceData backed by a plain map.
type MapReferenceData map[string]string

// DisplayName implements ReferenceData.
func (m MapReferenceData) DisplayName(symbol string) string {
	return m[symbol]
}
