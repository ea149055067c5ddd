// Package postgres persists strategy descriptors and holdings.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quanterhq/strategyd/errs"
	"github.com/quanterhq/strategyd/internal/domain/portfolio"
	"github.com/quanterhq/strategyd/internal/infra/persistence"
)

// Store exposes the PostgreSQL-backed strategy ledger.
type Store struct {
	*persistence.Store
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Store: persistence.NewStore(pool)}
}

func (s *Store) pool() (*pgxpool.Pool, error) {
	if s == nil || s.Pool() == nil {
		return nil, errs.New("postgres/store", errs.CodeUnavailable, errs.WithMessage("nil pool"))
	}
	return s.Pool(), nil
}

// FindDescriptor loads the strategy descriptor and its holdings.
func (s *Store) FindDescriptor(ctx context.Context, strategyID string) (*portfolio.Descriptor, error) {
	pool, err := s.pool()
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(strategyID)
	if id == "" {
		return nil, errs.New("postgres/find", errs.CodeInvalid, errs.WithMessage("strategy id required"))
	}

	var (
		desc    portfolio.Descriptor
		balance pgtype.Numeric
	)
	row := pool.QueryRow(ctx,
		`SELECT id, gateway_id, enable_balance FROM strategies WHERE id = $1`, id)
	if err := row.Scan(&desc.ID, &desc.GatewayID, &balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New("postgres/find", errs.CodeNotFound, errs.WithStrategy(id))
		}
		return nil, errs.New("postgres/find", errs.CodePersistence,
			errs.WithStrategy(id), errs.WithCause(err))
	}
	if desc.EnableBalance, err = decimalFromNumeric(balance); err != nil {
		return nil, errs.New("postgres/find", errs.CodePersistence,
			errs.WithStrategy(id), errs.WithCause(err))
	}

	rows, err := pool.Query(ctx,
		`SELECT strategy_id, symbol, code, name, cost_price, last_price,
		        current_amount, enable_amount, income_amount
		   FROM holdings WHERE strategy_id = $1 ORDER BY symbol`, id)
	if err != nil {
		return nil, errs.New("postgres/find", errs.CodePersistence,
			errs.WithStrategy(id), errs.WithCause(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h          portfolio.Holding
			cost, last pgtype.Numeric
		)
		if err := rows.Scan(&h.StrategyID, &h.Symbol, &h.Code, &h.Name,
			&cost, &last, &h.CurrentAmount, &h.EnableAmount, &h.IncomeAmount); err != nil {
			return nil, errs.New("postgres/find", errs.CodePersistence,
				errs.WithStrategy(id), errs.WithCause(err))
		}
		if h.CostPrice, err = decimalFromNumeric(cost); err != nil {
			return nil, errs.New("postgres/find", errs.CodePersistence,
				errs.WithStrategy(id), errs.WithSymbol(h.Symbol), errs.WithCause(err))
		}
		if h.LastPrice, err = decimalFromNumeric(last); err != nil {
			return nil, errs.New("postgres/find", errs.CodePersistence,
				errs.WithStrategy(id), errs.WithSymbol(h.Symbol), errs.WithCause(err))
		}
		desc.AddHolding(&h)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("postgres/find", errs.CodePersistence,
			errs.WithStrategy(id), errs.WithCause(err))
	}
	return &desc, nil
}

// SaveDescriptor upserts the strategy's identity and capital balance. Holdings
// are written through their own requests.
func (s *Store) SaveDescriptor(ctx context.Context, desc *portfolio.Descriptor) error {
	pool, err := s.pool()
	if err != nil {
		return err
	}
	if desc == nil || strings.TrimSpace(desc.ID) == "" {
		return errs.New("postgres/save", errs.CodeInvalid, errs.WithMessage("descriptor id required"))
	}
	balance, err := numericFromDecimal(desc.EnableBalance)
	if err != nil {
		return errs.New("postgres/save", errs.CodeInvalid,
			errs.WithStrategy(desc.ID), errs.WithCause(err))
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO strategies (id, gateway_id, enable_balance, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE
		   SET gateway_id = EXCLUDED.gateway_id,
		       enable_balance = EXCLUDED.enable_balance,
		       updated_at = now()`,
		desc.ID, desc.GatewayID, balance)
	if err != nil {
		return errs.New("postgres/save", errs.CodePersistence,
			errs.WithStrategy(desc.ID), errs.WithCause(err))
	}
	return nil
}

// SaveHolding upserts one holding row.
func (s *Store) SaveHolding(ctx context.Context, h *portfolio.Holding) error {
	pool, err := s.pool()
	if err != nil {
		return err
	}
	if h == nil || strings.TrimSpace(h.StrategyID) == "" || strings.TrimSpace(h.Symbol) == "" {
		return errs.New("postgres/save", errs.CodeInvalid, errs.WithMessage("holding key required"))
	}
	cost, err := numericFromDecimal(h.CostPrice)
	if err != nil {
		return errs.New("postgres/save", errs.CodeInvalid,
			errs.WithStrategy(h.StrategyID), errs.WithSymbol(h.Symbol), errs.WithCause(err))
	}
	last, err := numericFromDecimal(h.LastPrice)
	if err != nil {
		return errs.New("postgres/save", errs.CodeInvalid,
			errs.WithStrategy(h.StrategyID), errs.WithSymbol(h.Symbol), errs.WithCause(err))
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO holdings (strategy_id, symbol, code, name, cost_price, last_price,
		                       current_amount, enable_amount, income_amount, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT (strategy_id, symbol) DO UPDATE
		   SET code = EXCLUDED.code,
		       name = EXCLUDED.name,
		       cost_price = EXCLUDED.cost_price,
		       last_price = EXCLUDED.last_price,
		       current_amount = EXCLUDED.current_amount,
		       enable_amount = EXCLUDED.enable_amount,
		       income_amount = EXCLUDED.income_amount,
		       updated_at = now()`,
		h.StrategyID, h.Symbol, h.Code, h.Name, cost, last,
		h.CurrentAmount, h.EnableAmount, h.IncomeAmount)
	if err != nil {
		return errs.New("postgres/save", errs.CodePersistence,
			errs.WithStrategy(h.StrategyID), errs.WithSymbol(h.Symbol), errs.WithCause(err))
	}
	return nil
}

// DeleteHolding removes one holding row. Deleting a missing row is a no-op.
func (s *Store) DeleteHolding(ctx context.Context, strategyID, symbol string) error {
	pool, err := s.pool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx,
		`DELETE FROM holdings WHERE strategy_id = $1 AND symbol = $2`, strategyID, symbol)
	if err != nil {
		return errs.New("postgres/delete", errs.CodePersistence,
			errs.WithStrategy(strategyID), errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return nil
}
