package curve

import (
	"fmt"
	"math"
)

// Solve returns the largest share count delta on the SolverTolerance grid,
// up to float64 rounding, such that Cost(supplyOld, supplyOld+delta) <= netIn.
//
// It fails with ErrSupplyExhausted when netIn buys more than the shares left
// under TotalSupplyCap and with ErrSolverNonConvergence when the bracket is
// still wider than the tolerance after SolverMaxIterations halvings. A netIn
// too small to buy one tolerance step yields 0 with no error.
func (c *Curve) Solve(supplyOld, netIn float64) (float64, error) {
	if math.IsNaN(netIn) || math.IsInf(netIn, 0) || netIn <= 0 {
		return 0, fmt.Errorf("curve: solve for %g: %w", netIn, ErrInvalidAmount)
	}
	if err := c.checkSupply(supplyOld); err != nil {
		return 0, err
	}

	remaining := c.Remaining(supplyOld)
	if remaining <= 0 {
		return 0, fmt.Errorf("curve: solve at supply %g: %w", supplyOld, ErrSupplyExhausted)
	}
	full := c.cost(supplyOld, c.cfg.TotalSupplyCap)
	if !isFinite(full) {
		return 0, fmt.Errorf("curve: cost to cap is %g: %w", full, ErrSolverNonConvergence)
	}
	if full < netIn {
		return 0, fmt.Errorf("curve: %g requested, %g buys every remaining share: %w", netIn, full, ErrSupplyExhausted)
	}

	tol := c.cfg.SolverTolerance
	lo, hi := 0.0, remaining
	for i := 0; i < c.cfg.SolverMaxIterations && hi-lo >= tol; i++ {
		mid := lo + (hi-lo)/2
		spent := c.cost(supplyOld, supplyOld+mid)
		if !isFinite(spent) {
			return 0, fmt.Errorf("curve: cost at delta %g is %g: %w", mid, spent, ErrSolverNonConvergence)
		}
		if spent <= netIn {
			lo = mid
		} else {
			hi = mid
		}
	}
	if hi-lo >= tol {
		return 0, fmt.Errorf("curve: bracket [%g, %g] after %d iterations: %w",
			lo, hi, c.cfg.SolverMaxIterations, ErrSolverNonConvergence)
	}

	// lo always satisfies cost <= netIn. Snapping to the tolerance grid can
	// land a hair above lo in floating point, so re-check and step down.
	delta := math.Floor(lo/tol) * tol
	for delta > 0 && c.cost(supplyOld, supplyOld+delta) > netIn {
		delta = math.Max(0, delta-tol)
	}
	return delta, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
