package curve

import (
	"fmt"
	"math"
)

// shapeSamples is the number of evenly spaced points checked for
// monotonicity and boundedness when a Curve is constructed.
const shapeSamples = 4096

// Curve is a validated, immutable price curve. Construct it with New.
type Curve struct {
	cfg Config

	// slope is the Phase 1 price increase per effective share.
	slope float64
	// clampX is the ignition offset at which the sigmoid approximation
	// saturates at PMax.
	clampX float64

	fingerprint string
}

// New validates cfg, asserts continuity, monotonicity and boundedness of the
// resulting price function, and returns the Curve. Any failure wraps
// ErrInvalidConfig.
func New(cfg Config) (*Curve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Curve{
		cfg:    cfg,
		slope:  (cfg.PMid - cfg.PStart) / cfg.Phase1End,
		clampX: SigmoidScale / cfg.SigmoidK,

		fingerprint: cfg.Fingerprint(),
	}
	if err := c.assertShape(); err != nil {
		return nil, err
	}
	return c, nil
}

// Config returns a copy of the constants the curve was built from.
func (c *Curve) Config() Config {
	return c.cfg
}

// Fingerprint identifies the constants the curve was built from.
func (c *Curve) Fingerprint() string {
	return c.fingerprint
}

// MaxEffectiveSupply is the upper end of the price function's domain.
func (c *Curve) MaxEffectiveSupply() float64 {
	return c.cfg.TotalSupplyCap + c.cfg.VirtualOffset
}

// Price returns the instantaneous per-share price at the given effective
// supply. Inputs outside [0, MaxEffectiveSupply] are clamped to the domain.
func (c *Curve) Price(effective float64) float64 {
	// !(x > 0) also catches NaN.
	if !(effective > 0) {
		effective = 0
	}
	if hi := c.MaxEffectiveSupply(); effective > hi {
		effective = hi
	}

	switch {
	case effective <= c.cfg.Phase1End:
		return c.accumulationPrice(effective)
	case effective <= c.cfg.Phase2End:
		return c.bridgePrice(effective)
	default:
		return c.ignitionPrice(effective)
	}
}

// SpotPrice returns the marginal price of the next share for an outcome whose
// real supply is supply.
func (c *Curve) SpotPrice(supply float64) float64 {
	return c.Price(supply + c.cfg.VirtualOffset)
}

func (c *Curve) accumulationPrice(s float64) float64 {
	return c.cfg.PStart + c.slope*s
}

func (c *Curve) bridgePrice(s float64) float64 {
	ratio := (s - c.cfg.Phase1End) / (c.cfg.Phase2End - c.cfg.Phase1End)
	return c.cfg.PMid + (c.cfg.PBridgeEnd-c.cfg.PMid)*ratio*ratio
}

func (c *Curve) ignitionPrice(s float64) float64 {
	normalized := c.cfg.SigmoidK * (s - c.cfg.Phase2End)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > SigmoidScale {
		normalized = SigmoidScale
	}
	return c.cfg.PBridgeEnd + (c.cfg.PMax-c.cfg.PBridgeEnd)*normalized/SigmoidScale
}

// maxSlope bounds the derivative of the price function over the whole domain.
func (c *Curve) maxSlope() float64 {
	bridge := 2 * (c.cfg.PBridgeEnd - c.cfg.PMid) / (c.cfg.Phase2End - c.cfg.Phase1End)
	ignition := (c.cfg.PMax - c.cfg.PBridgeEnd) * c.cfg.SigmoidK / SigmoidScale
	return math.Max(c.slope, math.Max(bridge, ignition))
}

func (c *Curve) assertShape() error {
	var errs []string

	// Each boundary is checked twice: the two adjacent formulas must agree at
	// the boundary itself, and one unit either side may only move by the
	// local slope.
	boundaries := []struct {
		name         string
		at           float64
		lower, upper func(float64) float64
	}{
		{"phase1_end", c.cfg.Phase1End, c.accumulationPrice, c.bridgePrice},
		{"phase2_end", c.cfg.Phase2End, c.bridgePrice, c.ignitionPrice},
	}
	stepTol := 2*c.maxSlope() + 1e-12*c.cfg.PMax
	for _, b := range boundaries {
		l, u := b.lower(b.at), b.upper(b.at)
		if !approxEqual(l, u) {
			errs = append(errs, fmt.Sprintf("price discontinuous at %s: %g below vs %g above", b.name, l, u))
			continue
		}
		below, above := c.Price(b.at-1), c.Price(b.at+1)
		if math.Abs(above-below) > stepTol {
			errs = append(errs, fmt.Sprintf("price jumps by %g across %s", above-below, b.name))
		}
	}

	domain := c.MaxEffectiveSupply()
	lowBound := c.cfg.PStart * (1 - 1e-12)
	highBound := c.cfg.PMax * (1 + 1e-12)
	prev := c.Price(0)
	for i := 0; i <= shapeSamples; i++ {
		s := domain * float64(i) / shapeSamples
		p := c.Price(s)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			errs = append(errs, fmt.Sprintf("price not finite at supply %g", s))
			break
		}
		if p < lowBound || p > highBound {
			errs = append(errs, fmt.Sprintf("price %g at supply %g outside [p_start, p_max]", p, s))
			break
		}
		if p < prev*(1-1e-12) {
			errs = append(errs, fmt.Sprintf("price decreases at supply %g (%g < %g)", s, p, prev))
			break
		}
		prev = p
	}

	if len(errs) > 0 {
		return joinConfigErrors(errs)
	}
	return nil
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))+1e-18
}

// Anchor is one notable point of the curve, reported to operators.
type Anchor struct {
	Name            string  `json:"name"`
	EffectiveSupply float64 `json:"effective_supply"`
	RealSupply      float64 `json:"real_supply"`
	Price           float64 `json:"price"`
}

// Anchors lists the phase boundaries, the ignition saturation point and the
// supply cap together with their prices. RealSupply is negative when the
// anchor lies inside the virtual offset.
func (c *Curve) Anchors() []Anchor {
	points := []struct {
		name string
		s    float64
	}{
		{"start", c.cfg.VirtualOffset},
		{"phase1_end", c.cfg.Phase1End},
		{"phase2_end", c.cfg.Phase2End},
		{"saturation", math.Min(c.cfg.Phase2End+c.clampX, c.MaxEffectiveSupply())},
		{"cap", c.MaxEffectiveSupply()},
	}
	out := make([]Anchor, 0, len(points))
	for _, p := range points {
		out = append(out, Anchor{
			Name:            p.name,
			EffectiveSupply: p.s,
			RealSupply:      p.s - c.cfg.VirtualOffset,
			Price:           c.Price(p.s),
		})
	}
	return out
}
