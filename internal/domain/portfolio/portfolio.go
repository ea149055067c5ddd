// Package portfolio defines the position and capital state owned by a strategy.
package portfolio

import (
	"github.com/shopspring/decimal"
)

// Descriptor is a strategy's persisted identity and capital state. It is owned
// exclusively by the one actor running that strategy; loaded once at
// initialization and held for the actor's lifetime.
type Descriptor struct {
	ID            string
	GatewayID     string
	EnableBalance decimal.Decimal
	Holdings      []*Holding
}

// Holding is a strategy's position in one symbol. Exactly one holding exists
// per symbol per strategy.
type Holding struct {
	StrategyID    string
	Symbol        string
	Code          string
	Name          string
	CostPrice     decimal.Decimal
	LastPrice     decimal.Decimal
	CurrentAmount int64
	EnableAmount  int64
	IncomeAmount  int64
}

// Holding returns the holding for the given symbol, or nil.
func (d *Descriptor) Holding(symbol string) *Holding {
	for _, h := range d.Holdings {
		if h.Symbol == symbol {
			return h
		}
	}
	return nil
}

// AddHolding appends a holding to the ledger.
func (d *Descriptor) AddHolding(h *Holding) {
	if h == nil {
		return
	}
	d.Holdings = append(d.Holdings, h)
}

// RemoveHolding drops the holding for the given symbol from the ledger.
func (d *Descriptor) RemoveHolding(symbol string) {
	for i, h := range d.Holdings {
		if h.Symbol == symbol {
			d.Holdings = append(d.Holdings[:i], d.Holdings[i+1:]...)
			return
		}
	}
}

// CurrentAmount returns the settled amount held for the symbol, zero when the
// symbol is not held.
func (d *Descriptor) CurrentAmount(symbol string) int64 {
	if h := d.Holding(symbol); h != nil {
		return h.CurrentAmount
	}
	return 0
}

// EnableAmount returns the amount available to sell for the symbol, zero when
// the symbol is not held.
func (d *Descriptor) EnableAmount(symbol string) int64 {
	if h := d.Holding(symbol); h != nil {
		return h.EnableAmount
	}
	return 0
}

// Side captures the direction of an order.
type Side string

const (
	// SideBuy indicates a buy order.
	SideBuy Side = "Buy"
	// SideSell indicates a sell order.
	SideSell Side = "Sell"
)

// Order is an ephemeral order intent. It is handed to the trade collaborator
// after risk gating and not retained by the actor.
type Order struct {
	ClientOrderID string
	StrategyID    string
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Amount        int64
}

// Notional returns price * amount.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Amount))
}
