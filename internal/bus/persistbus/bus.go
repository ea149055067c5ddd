// Package persistbus provides in-memory messaging to the persistence collaborator.
package persistbus

import (
	"context"

	"github.com/quanterhq/strategyd/internal/schema"
)

// Bus carries persistence requests from strategy actors to the persistence
// service. Ask is the single bounded-wait interaction (descriptor loads);
// every write is a fire-and-forget Tell.
type Bus interface {
	Ask(ctx context.Context, req schema.PersistenceRequest) (schema.PersistenceResult, error)
	Tell(ctx context.Context, req schema.PersistenceRequest)
	Consume(ctx context.Context) (<-chan schema.PersistenceRequest, error)
	Close()
}

// MemoryConfig configures the in-memory persistence bus buffer sizing.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
