// Package tradebus carries order notifications to the execution gateway.
package tradebus

import (
	"context"

	"github.com/quanterhq/strategyd/internal/schema"
)

// Gateway accepts fire-and-forget trade requests from strategy actors.
type Gateway interface {
	Submit(ctx context.Context, req schema.TradeRequest)
	Consume(ctx context.Context) (<-chan schema.TradeRequest, error)
	Close()
}

// MemoryConfig configures the in-memory trade bus buffer sizing.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
