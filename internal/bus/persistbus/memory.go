package persistbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/schema"
)

// MemoryBus provides an in-memory persistence bus backed by bounded channels.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	consumers []*consumer
	once      sync.Once
}

type consumer struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan schema.PersistenceRequest
	once   sync.Once
}

// NewMemoryBus constructs a memory-backed persistence bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	return bus
}

// Ask enqueues a Find request and waits for the result until ctx expires.
func (b *MemoryBus) Ask(ctx context.Context, req schema.PersistenceRequest) (schema.PersistenceResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Type != schema.PersistenceFind {
		return schema.PersistenceResult{}, errs.New("persistbus/ask", errs.CodeInvalid, errs.WithMessage("ask supports Find only"))
	}
	reply := make(chan schema.PersistenceResult, 1)
	req.Reply = reply

	if err := b.send(ctx, req); err != nil {
		return schema.PersistenceResult{}, err
	}

	select {
	case <-ctx.Done():
		return schema.PersistenceResult{}, errs.New("persistbus/ask", errs.CodeTimeout,
			errs.WithStrategy(req.StrategyID), errs.WithCause(ctx.Err()))
	case <-b.ctx.Done():
		return schema.PersistenceResult{}, errs.New("persistbus/ask", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	case res := <-reply:
		return res, nil
	}
}

// Tell enqueues a write request without awaiting any acknowledgement. The
// request is dropped when no consumer can take it; the sender never learns.
func (b *MemoryBus) Tell(ctx context.Context, req schema.PersistenceRequest) {
	if ctx == nil {
		ctx = context.Background()
	}
	req.Reply = nil
	_ = b.send(ctx, req)
}

func (b *MemoryBus) send(ctx context.Context, req schema.PersistenceRequest) error {
	b.mu.RLock()
	consumers := append([]*consumer(nil), b.consumers...)
	b.mu.RUnlock()
	if len(consumers) == 0 {
		return errs.New("persistbus/send", errs.CodeUnavailable, errs.WithMessage("no consumers available"))
	}
	for _, con := range consumers {
		if con == nil || con.ctx.Err() != nil {
			continue
		}
		return b.enqueue(ctx, con, req)
	}
	return errs.New("persistbus/send", errs.CodeUnavailable, errs.WithMessage("no active consumers"))
}

// Consume registers a persistence consumer backed by a bounded queue.
func (b *MemoryBus) Consume(ctx context.Context) (<-chan schema.PersistenceRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	con := new(consumer)
	con.ctx = ctx
	con.cancel = cancel
	con.ch = make(chan schema.PersistenceRequest, b.cfg.BufferSize)

	b.mu.Lock()
	b.consumers = append(b.consumers, con)
	b.mu.Unlock()

	go b.observe(con)
	return con.ch, nil
}

// Close shuts down the bus.
func (b *MemoryBus) Close() {
	b.once.Do(func() {
		b.cancel()
		b.mu.Lock()
		for _, con := range b.consumers {
			if con != nil {
				con.close()
			}
		}
		b.consumers = nil
		b.mu.Unlock()
	})
}

func (b *MemoryBus) observe(con *consumer) {
	<-con.ctx.Done()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, candidate := range b.consumers {
		if candidate == con {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			break
		}
	}
	con.close()
}

func (b *MemoryBus) enqueue(ctx context.Context, con *consumer, req schema.PersistenceRequest) error {
	defer func() {
		if r := recover(); r != nil {
			// consumer closed channel; treat as unavailable.
			_ = r
		}
	}()
	select {
	case <-b.ctx.Done():
		return errs.New("persistbus/send", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	case <-ctx.Done():
		return fmt.Errorf("enqueue context: %w", ctx.Err())
	case <-con.ctx.Done():
		return errs.New("persistbus/send", errs.CodeUnavailable, errs.WithMessage("consumer closed"))
	case con.ch <- req:
		return nil
	default:
		return errs.New("persistbus/send", errs.CodeUnavailable, errs.WithMessage("consumer queue full"))
	}
}

func (c *consumer) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.ch)
	})
}
