package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/bus/persistbus"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/schema"
)

type fakeLedger struct {
	mu        sync.Mutex
	desc      *portfolio.Descriptor
	saveFails int
	saves     []string
	deletes   []string
}

func (l *fakeLedger) FindDescriptor(_ context.Context, strategyID string) (*portfolio.Descriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.desc == nil || l.desc.ID != strategyID {
		return nil, errs.New("postgres/find", errs.CodeNotFound, errs.WithStrategy(strategyID))
	}
	return l.desc, nil
}

func (l *fakeLedger) SaveDescriptor(_ context.Context, desc *portfolio.Descriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveFails > 0 {
		l.saveFails--
		return errs.New("postgres/save", errs.CodePersistence, errs.WithStrategy(desc.ID))
	}
	l.saves = append(l.saves, "descriptor:"+desc.ID)
	return nil
}

func (l *fakeLedger) SaveHolding(_ context.Context, h *portfolio.Holding) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saves = append(l.saves, "holding:"+h.Symbol)
	return nil
}

func (l *fakeLedger) DeleteHolding(_ context.Context, _, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deletes = append(l.deletes, symbol)
	return nil
}

func (l *fakeLedger) recordedSaves() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.saves...)
}

func (l *fakeLedger) recordedDeletes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.deletes...)
}

func startService(t *testing.T, ledger *fakeLedger) persistbus.Bus {
	t.Helper()
	bus := persistbus.NewMemoryBus(persistbus.MemoryConfig{})
	t.Cleanup(bus.Close)

	svc, err := NewService(ServiceConfig{Workers: 2, WriteRetries: 3}, ledger, bus, observability.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Run(ctx) }()

	// Give the consumer a moment to register before tests enqueue.
	require.Eventually(t, func() bool {
		res, askErr := bus.Ask(withTimeout(t), schema.PersistenceRequest{
			Type:       schema.PersistenceFind,
			StrategyID: "warmup",
		})
		return askErr == nil && res.Err != nil
	}, time.Second, 10*time.Millisecond)

	return bus
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestServiceAnswersFind(t *testing.T) {
	ledger := &fakeLedger{desc: &portfolio.Descriptor{
		ID:            "alpha-1",
		EnableBalance: decimal.NewFromInt(50_000),
	}}
	bus := startService(t, ledger)

	res, err := bus.Ask(withTimeout(t), schema.PersistenceRequest{
		RequestID:  "req-1",
		Type:       schema.PersistenceFind,
		StrategyID: "alpha-1",
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, "alpha-1", res.Descriptor.ID)

	res, err = bus.Ask(withTimeout(t), schema.PersistenceRequest{
		RequestID:  "req-2",
		Type:       schema.PersistenceFind,
		StrategyID: "missing",
	})
	require.NoError(t, err)
	require.True(t, errs.IsCode(res.Err, errs.CodeNotFound))
}

func TestServiceExecutesWrites(t *testing.T) {
	ledger := &fakeLedger{}
	bus := startService(t, ledger)

	bus.Tell(context.Background(), schema.PersistenceRequest{
		Type:       schema.PersistenceSave,
		StrategyID: "alpha-1",
		Entity:     &portfolio.Holding{StrategyID: "alpha-1", Symbol: "510300.XSHG"},
	})
	bus.Tell(context.Background(), schema.PersistenceRequest{
		Type:       schema.PersistenceDelete,
		StrategyID: "alpha-1",
		Entity:     &portfolio.Holding{StrategyID: "alpha-1", Symbol: "600000.XSHG"},
	})

	require.Eventually(t, func() bool {
		return len(ledger.recordedSaves()) == 1 && len(ledger.recordedDeletes()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"holding:510300.XSHG"}, ledger.recordedSaves())
	require.Equal(t, []string{"600000.XSHG"}, ledger.recordedDeletes())
}

func TestServiceRetriesFailedWrites(t *testing.T) {
	ledger := &fakeLedger{saveFails: 2}
	bus := startService(t, ledger)

	bus.Tell(context.Background(), schema.PersistenceRequest{
		Type:       schema.PersistenceSave,
		StrategyID: "alpha-1",
		Entity:     &portfolio.Descriptor{ID: "alpha-1"},
	})

	require.Eventually(t, func() bool {
		return len(ledger.recordedSaves()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, []string{"descriptor:alpha-1"}, ledger.recordedSaves())
}

func TestServiceDropsUnsupportedEntities(t *testing.T) {
	ledger := &fakeLedger{}
	bus := startService(t, ledger)

	bus.Tell(context.Background(), schema.PersistenceRequest{
		Type:       schema.PersistenceSave,
		StrategyID: "alpha-1",
		Entity:     "not an entity",
	})

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, ledger.recordedSaves())
}
