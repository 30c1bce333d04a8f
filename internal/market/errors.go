package market

import (
	"errors"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

var (
	ErrSlippageExceeded    = errors.New("slippage limit exceeded")
	ErrInsufficientReserve = errors.New("insufficient reserve")
	ErrUnknownSide         = errors.New("unknown side")

	// ErrMarketFrozen is shared with the ledger, which reports a market
	// resolved between the load and the commit the same way.
	ErrMarketFrozen = domain.ErrMarketFrozen
)
