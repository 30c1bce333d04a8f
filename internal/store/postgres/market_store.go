package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, slug, title, creator, status, winning_outcome,
	curve_fingerprint, resolved_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	if err := row.Scan(
		&m.ID, &m.Slug, &m.Title, &m.Creator, &status, &m.WinningOutcome,
		&m.CurveFingerprint, &m.ResolvedAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Create inserts the market row and one row per outcome in a single
// transaction.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const insertMarket = `
			INSERT INTO markets (id, slug, title, creator, status, curve_fingerprint, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
		if _, err := tx.Exec(ctx, insertMarket,
			m.ID, m.Slug, m.Title, m.Creator, string(m.Status), m.CurveFingerprint, m.CreatedAt,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		const insertOutcome = `
			INSERT INTO outcomes (market_id, outcome_id, label, ordinal, supply, reserve, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		for i, o := range m.Outcomes {
			batch.Queue(insertOutcome, m.ID, o.OutcomeID, o.Label, i, o.Supply, o.Reserve, m.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: create market %s: %w", m.Slug, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.Slug, err)
	}
	return nil
}

// GetByID returns a market with its outcomes.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	return s.getOne(ctx, "id", id)
}

// GetBySlug returns a market with its outcomes.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	return s.getOne(ctx, "slug", slug)
}

func (s *MarketStore) getOne(ctx context.Context, col, val string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE `+col+` = $1`, val))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %s=%s: %w", col, val, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s=%s: %w", col, val, err)
	}

	outcomes, err := s.loadOutcomes(ctx, []string{m.ID})
	if err != nil {
		return domain.Market{}, err
	}
	m.Outcomes = outcomes[m.ID]
	return m, nil
}

// List returns markets newest first, each with its outcomes.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Market, error) {
		return scanMarket(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets scan: %w", err)
	}
	if len(markets) == 0 {
		return markets, nil
	}

	ids := make([]string, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
	}
	outcomes, err := s.loadOutcomes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		markets[i].Outcomes = outcomes[markets[i].ID]
	}
	return markets, nil
}

func (s *MarketStore) loadOutcomes(ctx context.Context, marketIDs []string) (map[string][]domain.OutcomeState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, outcome_id, label, supply, reserve, updated_at
		FROM outcomes WHERE market_id = ANY($1)
		ORDER BY market_id, ordinal`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: load outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.OutcomeState, len(marketIDs))
	for rows.Next() {
		var o domain.OutcomeState
		if err := rows.Scan(&o.MarketID, &o.OutcomeID, &o.Label, &o.Supply, &o.Reserve, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out[o.MarketID] = append(out[o.MarketID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load outcomes rows: %w", err)
	}
	return out, nil
}

// Resolve marks an active market resolved.
func (s *MarketStore) Resolve(ctx context.Context, id, winningOutcome string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET status = $2, winning_outcome = $3, resolved_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, string(domain.MarketStatusResolved), winningOutcome, at, string(domain.MarketStatusActive))
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: resolve market %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: market %s already resolved: %w", id, domain.ErrConflict)
}
