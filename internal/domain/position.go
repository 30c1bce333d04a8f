package domain

import "time"

// Position is a wallet's share balance in one outcome.
type Position struct {
	Wallet    string    `json:"wallet"`
	MarketID  string    `json:"market_id"`
	OutcomeID string    `json:"outcome_id"`
	Shares    float64   `json:"shares"`
	UpdatedAt time.Time `json:"updated_at"`
}
