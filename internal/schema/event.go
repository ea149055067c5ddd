package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketEvent is delivered by quote feeds to watching strategy actors.
type MarketEvent interface {
	Message
	isEvent()
}

// QuoteEvent carries the latest observed price for a symbol.
type QuoteEvent struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// TickEvent carries a single trade print.
type TickEvent struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// BarEvent carries an aggregated candlestick.
type BarEvent struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
}

// RunEvent triggers the generic run extension hook with an opaque payload.
type RunEvent struct {
	Payload any `json:"payload,omitempty"`
}

func (QuoteEvent) isMessage() {}
func (QuoteEvent) isEvent()   {}
func (TickEvent) isMessage()  {}
func (TickEvent) isEvent()    {}
func (BarEvent) isMessage()   {}
func (BarEvent) isEvent()     {}
func (RunEvent) isMessage()   {}
func (RunEvent) isEvent()     {}
