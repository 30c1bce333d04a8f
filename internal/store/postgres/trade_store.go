package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, outcome_id, wallet, side,
	shares, gross, fee_total, fee_protocol, fee_creator,
	net, unspent, price_before, price_after,
	supply_before, supply_after, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.OutcomeID, &t.Wallet, &t.Side,
			&t.Shares, &t.Gross, &t.FeeTotal, &t.FeeProtocol, &t.FeeCreator,
			&t.Net, &t.Unspent, &t.PriceBefore, &t.PriceAfter,
			&t.SupplyBefore, &t.SupplyAfter, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListByMarket returns a market's trades newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

// ListByWallet returns a wallet's trades newest first.
func (s *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	return s.list(ctx, "wallet", wallet, opts)
}

func (s *TradeStore) list(ctx context.Context, col, val string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ` + col + ` = $1`
	args := []any{val}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by %s: %w", col, err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by %s: %w", col, err)
	}
	return trades, nil
}

// OldestBefore returns the creation time of the oldest trade created strictly
// before the cutoff. ok is false when there is none.
func (s *TradeStore) OldestBefore(ctx context.Context, before time.Time) (oldest time.Time, ok bool, err error) {
	var at *time.Time
	err = s.pool.QueryRow(ctx, `SELECT MIN(created_at) FROM trades WHERE created_at < $1`, before).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("postgres: oldest trade before %s: %w", before.Format(time.RFC3339), err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return at.UTC(), true, nil
}

// ListBetween returns the trades created in [from, to), oldest first.
func (s *TradeStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s..%s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades between: %w", err)
	}
	return trades, nil
}
