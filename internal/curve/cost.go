package curve

import (
	"fmt"
	"math"
)

// Cost returns the currency needed to move an outcome's real supply from
// supplyOld to supplyNew. It is 0 when both are equal and fails with
// ErrInvalidAmount when supplyNew < supplyOld or either point lies outside
// [0, TotalSupplyCap].
func (c *Curve) Cost(supplyOld, supplyNew float64) (float64, error) {
	if err := c.checkSupply(supplyOld); err != nil {
		return 0, err
	}
	if err := c.checkSupply(supplyNew); err != nil {
		return 0, err
	}
	if supplyNew < supplyOld {
		return 0, fmt.Errorf("curve: cost from %g down to %g: %w", supplyOld, supplyNew, ErrInvalidAmount)
	}
	if supplyNew == supplyOld {
		return 0, nil
	}
	return c.cost(supplyOld, supplyNew), nil
}

// CostToCap is the currency needed to issue every share still available
// above supply.
func (c *Curve) CostToCap(supply float64) (float64, error) {
	return c.Cost(supply, c.cfg.TotalSupplyCap)
}

// Remaining is the number of shares that can still be issued above supply.
func (c *Curve) Remaining(supply float64) float64 {
	return math.Max(0, c.cfg.TotalSupplyCap-supply)
}

func (c *Curve) checkSupply(s float64) error {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 || s > c.cfg.TotalSupplyCap {
		return fmt.Errorf("curve: supply %g outside [0, %g]: %w", s, c.cfg.TotalSupplyCap, ErrInvalidAmount)
	}
	return nil
}

// cost assumes 0 <= a < b <= TotalSupplyCap.
func (c *Curve) cost(a, b float64) float64 {
	if c.cfg.Integration == IntegrationTrapezoid {
		return (c.SpotPrice(a) + c.SpotPrice(b)) / 2 * (b - a)
	}
	return c.integrate(a+c.cfg.VirtualOffset, b+c.cfg.VirtualOffset)
}

// integrate is the exact area under Price over effective supplies [lo, hi],
// split at every point where the price formula changes.
func (c *Curve) integrate(lo, hi float64) float64 {
	var total float64

	if lo < c.cfg.Phase1End {
		end := math.Min(hi, c.cfg.Phase1End)
		total += c.accumulationArea(lo, end)
		lo = end
	}
	if lo >= hi {
		return total
	}

	if lo < c.cfg.Phase2End {
		end := math.Min(hi, c.cfg.Phase2End)
		total += c.bridgeArea(lo, end)
		lo = end
	}
	if lo >= hi {
		return total
	}

	x0, x1 := lo-c.cfg.Phase2End, hi-c.cfg.Phase2End
	if x0 < c.clampX {
		end := math.Min(x1, c.clampX)
		total += c.ignitionArea(x0, end)
		x0 = end
	}
	if x0 < x1 {
		total += c.cfg.PMax * (x1 - x0)
	}
	return total
}

// The area helpers are written as width * mean height so that narrow
// intervals far from the origin keep their precision.

func (c *Curve) accumulationArea(a, b float64) float64 {
	return (b - a) * (c.cfg.PStart + c.slope*(a+b)/2)
}

func (c *Curve) bridgeArea(a, b float64) float64 {
	span := c.cfg.Phase2End - c.cfg.Phase1End
	u := (a - c.cfg.Phase1End) / span
	v := (b - c.cfg.Phase1End) / span
	return (b - a) * (c.cfg.PMid + (c.cfg.PBridgeEnd-c.cfg.PMid)*(u*u+u*v+v*v)/3)
}

// ignitionArea takes offsets from Phase2End, both at or below clampX.
func (c *Curve) ignitionArea(x0, x1 float64) float64 {
	rate := (c.cfg.PMax - c.cfg.PBridgeEnd) * c.cfg.SigmoidK / SigmoidScale
	return (x1 - x0) * (c.cfg.PBridgeEnd + rate*(x0+x1)/2)
}
