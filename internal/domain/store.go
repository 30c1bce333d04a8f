package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets and their outcome curve state.
type MarketStore interface {
	// Create inserts the market and all its outcomes. A duplicate slug
	// returns ErrAlreadyExists.
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	// Resolve marks the market resolved with the given winning outcome.
	// Resolving an already resolved market returns ErrConflict.
	Resolve(ctx context.Context, id, winningOutcome string, at time.Time) error
}

// Ledger applies accepted trades atomically.
type Ledger interface {
	// CommitTrade updates the outcome, inserts the trade and adjusts the
	// position in one transaction. It returns ErrConflict when the stored
	// supply no longer equals ExpectedSupply, ErrMarketFrozen when the market
	// was resolved in the meantime and ErrInsufficientShares when a sell would
	// take the position below zero.
	CommitTrade(ctx context.Context, commit TradeCommit) error
}

// PositionStore reads wallet positions.
type PositionStore interface {
	Get(ctx context.Context, wallet, marketID, outcomeID string) (Position, error)
	ListByWallet(ctx context.Context, wallet string) ([]Position, error)
}

// TradeStore reads trade history.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
	// OldestBefore reports the creation time of the oldest trade created
	// strictly before the cutoff.
	OldestBefore(ctx context.Context, before time.Time) (time.Time, bool, error)
	// ListBetween returns trades created in [from, to), oldest first.
	ListBetween(ctx context.Context, from, to time.Time) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first, optionally limited to events whose
	// name starts with event.
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
