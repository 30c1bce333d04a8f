package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are written only by Ledger.CommitTrade.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Get returns a wallet's balance in one outcome.
func (s *PositionStore) Get(ctx context.Context, wallet, marketID, outcomeID string) (domain.Position, error) {
	p := domain.Position{Wallet: wallet, MarketID: marketID, OutcomeID: outcomeID}
	err := s.pool.QueryRow(ctx, `
		SELECT shares, updated_at FROM positions
		WHERE wallet = $1 AND market_id = $2 AND outcome_id = $3`,
		wallet, marketID, outcomeID,
	).Scan(&p.Shares, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s %s/%s: %w", wallet, marketID, outcomeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListByWallet returns every non-empty position a wallet holds.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet, market_id, outcome_id, shares, updated_at
		FROM positions WHERE wallet = $1 AND shares > 0
		ORDER BY updated_at DESC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Position])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}
