package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys shared by strategyd instruments.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrStrategy identifies the strategy actor emitting the signal.
	AttrStrategy = attribute.Key("strategy.id")
	// AttrSymbol captures the tradable instrument symbol (e.g. 510300.XSHG).
	AttrSymbol = attribute.Key("symbol")
	// AttrOrderSide labels order telemetry with buy/sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrRiskRule names the risk rule that cancelled or warned on an order.
	AttrRiskRule = attribute.Key("risk.rule")
	// AttrRequestType differentiates persistence request classes (Save, Update, Delete, Find).
	AttrRequestType = attribute.Key("request.type")
	// AttrDBPool labels connection pool gauges by logical pool name.
	AttrDBPool = attribute.Key("db.pool")
	// AttrResult records the outcome of an operation (applied, noop, failed, ...).
	AttrResult = attribute.Key("result")
)
