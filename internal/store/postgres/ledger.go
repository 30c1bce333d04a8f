package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// positionDust is the largest negative balance a sell may leave behind through
// floating-point drift; it is stored as zero.
const positionDust = 1e-9

// Ledger implements domain.Ledger using PostgreSQL.
type Ledger struct {
	pool *pgxpool.Pool
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a new Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// CommitTrade locks the outcome row, checks that its supply still matches
// the supply the trade was priced against, then writes the new curve state,
// the trade row and the position change. Nothing is written on error.
func (l *Ledger) CommitTrade(ctx context.Context, c domain.TradeCommit) error {
	t := c.Trade
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var supply float64
		var status string
		err := tx.QueryRow(ctx, `
			SELECT o.supply, m.status
			FROM outcomes o JOIN markets m ON m.id = o.market_id
			WHERE o.market_id = $1 AND o.outcome_id = $2
			FOR UPDATE OF o`,
			t.MarketID, t.OutcomeID,
		).Scan(&supply, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("outcome %s/%s: %w", t.MarketID, t.OutcomeID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock outcome: %w", err)
		}
		if domain.MarketStatus(status) != domain.MarketStatusActive {
			return fmt.Errorf("market %s is %s: %w", t.MarketID, status, domain.ErrMarketFrozen)
		}
		if supply != c.ExpectedSupply {
			return fmt.Errorf("supply moved from %g to %g: %w", c.ExpectedSupply, supply, domain.ErrConflict)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE outcomes SET supply = $3, reserve = $4, updated_at = $5
			WHERE market_id = $1 AND outcome_id = $2`,
			t.MarketID, t.OutcomeID, c.NewSupply, c.NewReserve, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("update outcome: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO trades (
				id, market_id, outcome_id, wallet, side,
				shares, gross, fee_total, fee_protocol, fee_creator,
				net, unspent, price_before, price_after,
				supply_before, supply_after, created_at
			) VALUES (
				$1, $2, $3, $4, $5,
				$6, $7, $8, $9, $10,
				$11, $12, $13, $14,
				$15, $16, $17
			)`,
			t.ID, t.MarketID, t.OutcomeID, t.Wallet, t.Side,
			t.Shares, t.Gross, t.FeeTotal, t.FeeProtocol, t.FeeCreator,
			t.Net, t.Unspent, t.PriceBefore, t.PriceAfter,
			t.SupplyBefore, t.SupplyAfter, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}

		return applyPosition(ctx, tx, t, c.PositionDelta)
	})
	if err != nil {
		return fmt.Errorf("postgres: commit trade %s: %w", t.ID, err)
	}
	return nil
}

func applyPosition(ctx context.Context, tx pgx.Tx, t domain.Trade, delta float64) error {
	var held float64
	err := tx.QueryRow(ctx, `
		SELECT shares FROM positions
		WHERE wallet = $1 AND market_id = $2 AND outcome_id = $3
		FOR UPDATE`,
		t.Wallet, t.MarketID, t.OutcomeID,
	).Scan(&held)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock position: %w", err)
	}

	next := held + delta
	if next < -positionDust {
		return fmt.Errorf("wallet %s holds %g, sells %g: %w", t.Wallet, held, -delta, domain.ErrInsufficientShares)
	}
	next = math.Max(0, next)

	if _, err := tx.Exec(ctx, `
		INSERT INTO positions (wallet, market_id, outcome_id, shares, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet, market_id, outcome_id) DO UPDATE SET
			shares     = EXCLUDED.shares,
			updated_at = EXCLUDED.updated_at`,
		t.Wallet, t.MarketID, t.OutcomeID, next, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}
