// Package telemetry exposes OpenTelemetry instruments for the strategy runtime.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "strategyd/strategy"

// StrategyMetrics groups the counters emitted by strategy actors. A nil
// receiver disables recording.
type StrategyMetrics struct {
	ordersSubmitted     metric.Int64Counter
	ordersRejected      metric.Int64Counter
	quotesReceived      metric.Int64Counter
	persistenceRequests metric.Int64Counter
}

// NewStrategyMetrics builds the strategy instruments on the global meter.
func NewStrategyMetrics() (*StrategyMetrics, error) {
	meter := otel.Meter(meterName)

	submitted, err := meter.Int64Counter("strategy.orders.submitted",
		metric.WithDescription("Orders forwarded to the execution gateway"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("strategy.orders.rejected",
		metric.WithDescription("Orders cancelled by the risk chain"))
	if err != nil {
		return nil, err
	}
	quotes, err := meter.Int64Counter("strategy.quotes.received",
		metric.WithDescription("Quote events processed"))
	if err != nil {
		return nil, err
	}
	persistence, err := meter.Int64Counter("strategy.persistence.requests",
		metric.WithDescription("Persistence requests issued"))
	if err != nil {
		return nil, err
	}

	return &StrategyMetrics{
		ordersSubmitted:     submitted,
		ordersRejected:      rejected,
		quotesReceived:      quotes,
		persistenceRequests: persistence,
	}, nil
}

// RecordOrderSubmitted counts an order forwarded to the gateway.
func (m *StrategyMetrics) RecordOrderSubmitted(ctx context.Context, strategyID, side string) {
	if m == nil || m.ordersSubmitted == nil {
		return
	}
	m.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(
		AttrStrategy.String(strategyID),
		AttrOrderSide.String(side),
	))
}

// RecordOrderRejected counts a risk-chain cancellation.
func (m *StrategyMetrics) RecordOrderRejected(ctx context.Context, strategyID, rule string) {
	if m == nil || m.ordersRejected == nil {
		return
	}
	m.ordersRejected.Add(ctx, 1, metric.WithAttributes(
		AttrStrategy.String(strategyID),
		AttrRiskRule.String(rule),
	))
}

// RecordQuote counts a processed quote event.
func (m *StrategyMetrics) RecordQuote(ctx context.Context, strategyID string) {
	if m == nil || m.quotesReceived == nil {
		return
	}
	m.quotesReceived.Add(ctx, 1, metric.WithAttributes(
		AttrStrategy.String(strategyID),
	))
}

// RecordPersistenceRequest counts an issued persistence request.
func (m *StrategyMetrics) RecordPersistenceRequest(ctx context.Context, strategyID, requestType string) {
	if m == nil || m.persistenceRequests == nil {
		return
	}
	m.persistenceRequests.Add(ctx, 1, metric.WithAttributes(
		AttrStrategy.String(strategyID),
		AttrRequestType.String(requestType),
	))
}
