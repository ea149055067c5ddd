package tradebus

import (
	"context"
	"sync"

	"github.com/quanterhq/strategyd/internal/schema"
)

// MemoryGateway is an in-memory trade gateway queue.
type MemoryGateway struct {
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
	ch     chan schema.TradeRequest
	once   sync.Once
}

// NewMemoryGateway constructs a memory-backed trade gateway.
func NewMemoryGateway(cfg MemoryConfig) *MemoryGateway {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	gw := new(MemoryGateway)
	gw.cfg = cfg
	gw.ctx = ctx
	gw.cancel = cancel
	return gw
}

// Submit enqueues the trade request without awaiting acknowledgement. The
// request is dropped when no consumer can take it.
func (g *MemoryGateway) Submit(ctx context.Context, req schema.TradeRequest) {
	if ctx == nil {
		ctx = context.Background()
	}
	g.mu.RLock()
	consumers := append([]*consumer(nil), g.consumers...)
	g.mu.RUnlock()
	for _, con := range consumers {
		if con == nil || con.ctx.Err() != nil {
			continue
		}
		g.enqueue(ctx, con, req)
		return
	}
}

// Consume registers a gateway consumer backed by a bounded queue.
func (g *MemoryGateway) Consume(ctx context.Context) (<-chan schema.TradeRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	con := new(consumer)
	con.ctx = ctx
	con.cancel = cancel
	con.ch = make(chan schema.TradeRequest, g.cfg.BufferSize)

	g.mu.Lock()
	g.consumers = append(g.consumers, con)
	g.mu.Unlock()

	go g.observe(con)
	return con.ch, nil
}

// Close shuts down the gateway queue.
func (g *MemoryGateway) Close() {
	g.once.Do(func() {
		g.cancel()
		g.mu.Lock()
		for _, con := range g.consumers {
			if con != nil {
				con.close()
			}
		}
		g.consumers = nil
		g.mu.Unlock()
	})
}

func (g *MemoryGateway) observe(con *consumer) {
	<-con.ctx.Done()
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, candidate := range g.consumers {
		if candidate == con {
			g.consumers = append(g.consumers[:i], g.consumers[i+1:]...)
			break
		}
	}
	con.close()
}

func (g *MemoryGateway) enqueue(ctx context.Context, con *consumer, req schema.TradeRequest) {
	defer func() {
		if r := recover(); r != nil {
			// consumer closed channel; drop the request.
			_ = r
		}
	}()
	select {
	case <-g.ctx.Done():
	case <-ctx.Done():
	case <-con.ctx.Done():
	case con.ch <- req:
	default:
	}
}

func (c *consumer) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.ch)
	})
}
