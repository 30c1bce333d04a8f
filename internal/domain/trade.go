package domain

import "time"

// Trade is one executed buy or sell against an outcome curve.
type Trade struct {
	ID           string    `json:"id"`
	MarketID     string    `json:"market_id"`
	OutcomeID    string    `json:"outcome_id"`
	Wallet       string    `json:"wallet"`
	Side         string    `json:"side"` // "buy" or "sell"
	Shares       float64   `json:"shares"`
	Gross        float64   `json:"gross"`
	FeeTotal     float64   `json:"fee_total"`
	FeeProtocol  float64   `json:"fee_protocol"`
	FeeCreator   float64   `json:"fee_creator"`
	Net          float64   `json:"net"`
	Unspent      float64   `json:"unspent"`
	PriceBefore  float64   `json:"price_before"`
	PriceAfter   float64   `json:"price_after"`
	SupplyBefore float64   `json:"supply_before"`
	SupplyAfter  float64   `json:"supply_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// TradeCommit is everything that must change atomically when a trade is
// accepted: the outcome's curve state, the trade row and the trader's
// position.
type TradeCommit struct {
	Trade Trade
	// ExpectedSupply is the supply the trade was priced against. The commit
	// fails with ErrConflict if the stored supply has moved since.
	ExpectedSupply float64
	NewSupply      float64
	NewReserve     float64
	// PositionDelta is added to the wallet's share balance; negative on sells.
	PositionDelta float64
}
