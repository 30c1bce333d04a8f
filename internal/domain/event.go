package domain

import "time"

// Pub/sub channels and streams.
const (
	ChannelTrades  = "trades"
	ChannelPrices  = "prices"
	ChannelMarkets = "markets"
	StreamTrades   = "stream:trades"
)

// PriceEvent is published whenever an outcome's spot price changes.
type PriceEvent struct {
	MarketID  string    `json:"market_id"`
	OutcomeID string    `json:"outcome_id"`
	Price     float64   `json:"price"`
	Supply    float64   `json:"supply"`
	Timestamp time.Time `json:"ts"`
}

// PriceKey is the price cache key of one outcome.
func PriceKey(marketID, outcomeID string) string {
	return marketID + ":" + outcomeID
}

// MarketEvent is published when a market is created or resolved.
type MarketEvent struct {
	Type           string    `json:"type"` // "created" or "resolved"
	MarketID       string    `json:"market_id"`
	Slug           string    `json:"slug"`
	WinningOutcome string    `json:"winning_outcome,omitempty"`
	Timestamp      time.Time `json:"ts"`
}
