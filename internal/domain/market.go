package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a prediction market with two or more outcomes, each priced by its
// own bonding curve.
type Market struct {
	ID             string       `json:"id"`
	Slug           string       `json:"slug"`
	Title          string       `json:"title"`
	Creator        string       `json:"creator"`
	Status         MarketStatus `json:"status"`
	WinningOutcome string       `json:"winning_outcome,omitempty"` // set once resolved
	// CurveFingerprint identifies the curve constants the market was
	// created under. It never changes.
	CurveFingerprint string         `json:"curve_fingerprint"`
	Outcomes         []OutcomeState `json:"outcomes"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Outcome returns the state of the outcome with the given ID.
func (m Market) Outcome(id string) (OutcomeState, bool) {
	for _, o := range m.Outcomes {
		if o.OutcomeID == id {
			return o, true
		}
	}
	return OutcomeState{}, false
}

// Frozen reports whether trading against the market is closed.
func (m Market) Frozen() bool {
	return m.Status != MarketStatusActive
}

// OutcomeState is the persisted curve state of one outcome.
type OutcomeState struct {
	MarketID  string    `json:"market_id"`
	OutcomeID string    `json:"outcome_id"`
	Label     string    `json:"label"`
	Supply    float64   `json:"supply"`
	Reserve   float64   `json:"reserve"`
	UpdatedAt time.Time `json:"updated_at"`
}
