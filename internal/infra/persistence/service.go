package persistence

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/bus/persistbus"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/schema"
	"github.com/quanterhq/strategyd/lib/async"
)

// Ledger is the storage surface the service executes requests against.
// *postgres.Store satisfies it.
type Ledger interface {
	FindDescriptor(ctx context.Context, strategyID string) (*portfolio.Descriptor, error)
	SaveDescriptor(ctx context.Context, desc *portfolio.Descriptor) error
	SaveHolding(ctx context.Context, h *portfolio.Holding) error
	DeleteHolding(ctx context.Context, strategyID, symbol string) error
}

// ServiceConfig sizes the persistence worker pool and write retry budget.
type ServiceConfig struct {
	Workers      int
	QueueDepth   int
	WriteRetries int
}

func (c ServiceConfig) normalize() ServiceConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 128
	}
	if c.WriteRetries <= 0 {
		c.WriteRetries = 3
	}
	return c
}

// Service drains the persistence bus and executes requests against the ledger.
// Writes are retried with exponential backoff; a write that exhausts its
// retries is logged and dropped, the sender never waits on it.
type Service struct {
	cfg   ServiceConfig
	store Ledger
	bus   persistbus.Bus
	pool  *async.Pool
	log   observability.Logger
}

// NewService constructs the persistence service.
func NewService(cfg ServiceConfig, store Ledger, bus persistbus.Bus, log observability.Logger) (*Service, error) {
	cfg = cfg.normalize()
	if store == nil {
		return nil, errs.New("persistence/service", errs.CodeInvalid, errs.WithMessage("store required"))
	}
	if bus == nil {
		return nil, errs.New("persistence/service", errs.CodeInvalid, errs.WithMessage("bus required"))
	}
	if log == nil {
		log = observability.NopLogger{}
	}
	pool, err := async.NewPool(cfg.Workers, cfg.QueueDepth)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, store: store, bus: bus, pool: pool, log: log}, nil
}

// Run consumes the bus until the context ends.
func (s *Service) Run(ctx context.Context) error {
	ch, err := s.bus.Consume(ctx)
	if err != nil {
		return err
	}
	defer s.drainPool()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, req)
		}
	}
}

func (s *Service) drainPool() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("persistence pool shutdown incomplete", observability.F("error", err))
	}
}

func (s *Service) dispatch(ctx context.Context, req schema.PersistenceRequest) {
	task := func(taskCtx context.Context) error {
		if req.Type == schema.PersistenceFind {
			s.handleFind(taskCtx, req)
			return nil
		}
		s.handleWrite(taskCtx, req)
		return nil
	}
	if err := s.pool.Submit(ctx, task); err != nil {
		s.log.Error("persistence request dropped",
			observability.F("request", req.RequestID),
			observability.F("type", string(req.Type)),
			observability.F("error", err))
		if req.Reply != nil {
			s.reply(req, schema.PersistenceResult{Err: err})
		}
	}
}

func (s *Service) handleFind(ctx context.Context, req schema.PersistenceRequest) {
	desc, err := s.store.FindDescriptor(ctx, req.StrategyID)
	if err != nil {
		s.log.Error("descriptor load failed",
			observability.F("strategy", req.StrategyID),
			observability.F("error", err))
	}
	s.reply(req, schema.PersistenceResult{Descriptor: desc, Err: err})
}

func (s *Service) reply(req schema.PersistenceRequest, res schema.PersistenceResult) {
	if req.Reply == nil {
		return
	}
	select {
	case req.Reply <- res:
	default:
	}
}

func (s *Service) handleWrite(ctx context.Context, req schema.PersistenceRequest) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	for attempt := 1; ; attempt++ {
		err := s.apply(ctx, req)
		if err == nil {
			return
		}
		if errs.IsCode(err, errs.CodeInvalid) || attempt >= s.cfg.WriteRetries {
			s.log.Error("persistence write abandoned",
				observability.F("request", req.RequestID),
				observability.F("type", string(req.Type)),
				observability.F("strategy", req.StrategyID),
				observability.F("attempts", attempt),
				observability.F("error", err))
			return
		}
		s.log.Warn("persistence write retrying",
			observability.F("request", req.RequestID),
			observability.F("attempt", attempt),
			observability.F("error", err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (s *Service) apply(ctx context.Context, req schema.PersistenceRequest) error {
	switch req.Type {
	case schema.PersistenceSave, schema.PersistenceUpdate:
		switch entity := req.Entity.(type) {
		case *portfolio.Descriptor:
			return s.store.SaveDescriptor(ctx, entity)
		case *portfolio.Holding:
			return s.store.SaveHolding(ctx, entity)
		}
	case schema.PersistenceDelete:
		if h, ok := req.Entity.(*portfolio.Holding); ok {
			return s.store.DeleteHolding(ctx, h.StrategyID, h.Symbol)
		}
	}
	return errs.New("persistence/apply", errs.CodeInvalid,
		errs.WithStrategy(req.StrategyID),
		errs.WithMessage("unsupported request"))
}
