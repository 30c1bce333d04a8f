package curve

import "errors"

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrSupplyExhausted      = errors.New("supply exhausted")
	ErrInsufficientSupply   = errors.New("insufficient supply")
	ErrSolverNonConvergence = errors.New("solver did not converge")
	ErrInvalidConfig        = errors.New("invalid curve config")
)
