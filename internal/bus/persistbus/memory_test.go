package persistbus

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
	"github.com/quanterhq/strategyd/internal/schema"
)

func TestAskAndConsume(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 2})
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	requests, err := bus.Consume(ctx)
	require.NoError(t, err)

	go func() {
		for req := range requests {
			if req.Reply != nil {
				req.Reply <- schema.PersistenceResult{
					Descriptor: &portfolio.Descriptor{ID: req.StrategyID, EnableBalance: decimal.NewFromInt(5000)},
				}
			}
		}
	}()

	res, err := bus.Ask(ctx, schema.PersistenceRequest{
		RequestID:  "1",
		Type:       schema.PersistenceFind,
		StrategyID: "alpha-1",
		Query:      "from Descriptor where id='alpha-1'",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Descriptor)
	require.Equal(t, "alpha-1", res.Descriptor.ID)
}

func TestAskTimesOutWithoutReply(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 2})
	t.Cleanup(bus.Close)

	consumeCtx, consumeCancel := context.WithCancel(context.Background())
	defer consumeCancel()
	_, err := bus.Consume(consumeCtx)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = bus.Ask(ctx, schema.PersistenceRequest{Type: schema.PersistenceFind, StrategyID: "alpha-1"})
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeTimeout))
}

func TestAskRejectsWriteTypes(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	t.Cleanup(bus.Close)

	_, err := bus.Ask(context.Background(), schema.PersistenceRequest{Type: schema.PersistenceSave})
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestTellDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 8})
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	requests, err := bus.Consume(ctx)
	require.NoError(t, err)

	bus.Tell(ctx, schema.PersistenceRequest{Type: schema.PersistenceSave, StrategyID: "alpha-1"})
	bus.Tell(ctx, schema.PersistenceRequest{Type: schema.PersistenceUpdate, StrategyID: "alpha-1"})
	bus.Tell(ctx, schema.PersistenceRequest{Type: schema.PersistenceDelete, StrategyID: "alpha-1"})

	var seen []schema.PersistenceRequestType
	for i := 0; i < 3; i++ {
		select {
		case req := <-requests:
			seen = append(seen, req.Type)
		case <-ctx.Done():
			t.Fatal("timed out waiting for tells")
		}
	}
	require.Equal(t, []schema.PersistenceRequestType{
		schema.PersistenceSave, schema.PersistenceUpdate, schema.PersistenceDelete,
	}, seen)
}

func TestTellWithoutConsumerIsSilentlyDropped(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	t.Cleanup(bus.Close)

	// Must not panic or block.
	bus.Tell(context.Background(), schema.PersistenceRequest{Type: schema.PersistenceSave})
}
