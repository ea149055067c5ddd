package schema

import (
	"time"

	"github.com/quanterhq/strategyd/internal/domain/portfolio"
)

// SecurityKind labels the instrument class of a security.
type SecurityKind string

const (
	// SecurityKindStock identifies listed equities.
	SecurityKindStock SecurityKind = "stock"
	// SecurityKindFund identifies exchange-traded funds.
	SecurityKindFund SecurityKind = "fund"
)

// Security describes one tradable instrument.
type Security struct {
	Kind   SecurityKind `json:"kind"`
	Symbol string       `json:"symbol"`
	Code   string       `json:"code,omitempty"`
	Name   string       `json:"name,omitempty"`
}

// PersistenceRequestType enumerates persistence operations.
type PersistenceRequestType string

const (
	// PersistenceFind loads a strategy descriptor; the only bounded-wait request.
	PersistenceFind PersistenceRequestType = "Find"
	// PersistenceSave inserts or upserts an entity.
	PersistenceSave PersistenceRequestType = "Save"
	// PersistenceUpdate updates an existing entity.
	PersistenceUpdate PersistenceRequestType = "Update"
	// PersistenceDelete removes an entity.
	PersistenceDelete PersistenceRequestType = "Delete"
)

// PersistenceRequest is sent to the persistence collaborator. Entity holds a
// *portfolio.Holding or *portfolio.Descriptor for write requests.
type PersistenceRequest struct {
	RequestID  string
	Type       PersistenceRequestType
	StrategyID string
	Query      string
	Entity     any
	Reply      chan<- PersistenceResult
}

// PersistenceResult answers a Find request.
type PersistenceResult struct {
	Descriptor *portfolio.Descriptor
	Err        error
}

// MarketRequestType enumerates market-data router commands.
type MarketRequestType string

const (
	// MarketAddSecurities registers process-wide interest in a security.
	MarketAddSecurities MarketRequestType = "AddSecurities"
)

// MarketRequest is sent to the market-data router.
type MarketRequest struct {
	Type     MarketRequestType `json:"type"`
	Security Security          `json:"security"`
}

// QuotationRequestType enumerates per-symbol quote feed commands.
type QuotationRequestType string

const (
	// QuotationWatch subscribes the requesting strategy to a feed.
	QuotationWatch QuotationRequestType = "Watch"
	// QuotationUnwatch removes the requesting strategy from a feed.
	QuotationUnwatch QuotationRequestType = "Unwatch"
)

// QuotationRequest is sent to a per-symbol quote feed.
type QuotationRequest struct {
	Type       QuotationRequestType `json:"type"`
	StrategyID string               `json:"strategy_id"`
}

// TradeRequestType enumerates execution gateway commands.
type TradeRequestType string

const (
	// TradeBuy forwards a buy order.
	TradeBuy TradeRequestType = "Buy"
	// TradeSell forwards a sell order.
	TradeSell TradeRequestType = "Sell"
)

// TradeRequest forwards an order to the execution gateway.
type TradeRequest struct {
	RequestID string
	Type      TradeRequestType
	Order     *portfolio.Order
	Timestamp time.Time
}

// TradeRequestFor derives the request type from the order side.
func TradeRequestFor(side portfolio.Side) TradeRequestType {
	if side == portfolio.SideSell {
		return TradeSell
	}
	return TradeBuy
}
