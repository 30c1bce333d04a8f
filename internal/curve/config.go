// Package curve implements the three-phase bonding curve used to price
// outcome shares: the instantaneous price function, the cost integral between
// two supply points, and the bisection solver that turns a currency amount
// into a share count. Everything in this package is pure and safe for
// concurrent use once a Curve has been constructed.
package curve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// SigmoidScale is the normalisation constant of the ignition phase. The
// product SigmoidK * x is clamped to [0, SigmoidScale] before being mapped onto
// the [PBridgeEnd, PMax] price band.
const SigmoidScale = 1e9

// Integration selects how the cost between two supply points is computed.
type Integration string

const (
	// IntegrationExact integrates each phase analytically. Cost is additive
	// and path-independent.
	IntegrationExact Integration = "exact"
	// IntegrationTrapezoid averages the two endpoint prices over the whole
	// interval. Constant time, but not additive across a phase boundary.
	IntegrationTrapezoid Integration = "trapezoid"
)

// Config is the immutable set of calibrated constants that defines a curve.
// Supplies are expressed in share units, prices in currency per share.
type Config struct {
	// VirtualOffset is added to real supply before the curve is evaluated so
	// that an untouched outcome still has a well-defined starting price.
	VirtualOffset float64 `json:"virtual_offset"`

	// Phase1End and Phase2End delimit the accumulation, bridge and ignition
	// regimes, in effective supply.
	Phase1End float64 `json:"phase1_end"`
	Phase2End float64 `json:"phase2_end"`

	// Anchor prices: at effective supply 0, at Phase1End, at Phase2End, and
	// the ceiling.
	PStart     float64 `json:"p_start"`
	PMid       float64 `json:"p_mid"`
	PBridgeEnd float64 `json:"p_bridge_end"`
	PMax       float64 `json:"p_max"`

	// SigmoidK is the steepness of the clamped-linear ignition phase.
	SigmoidK float64 `json:"sigmoid_k"`

	// TotalSupplyCap is the hard ceiling on real shares per outcome.
	TotalSupplyCap float64 `json:"total_supply_cap"`

	FeeBpsBuy  int `json:"fee_bps_buy"`
	FeeBpsSell int `json:"fee_bps_sell"`

	// CreatorFeeShareBps is the part of every fee routed to the market
	// creator; the remainder goes to the protocol.
	CreatorFeeShareBps int `json:"creator_fee_share_bps"`

	// CurrencyDecimals is the currency quantum used when rounding fees and
	// payouts.
	CurrencyDecimals int32 `json:"currency_decimals"`

	Integration Integration `json:"integration"`

	// SolverTolerance is the bracket width, in shares, at which the solver
	// stops. Issued share counts land on its grid to within float64
	// precision.
	SolverTolerance     float64 `json:"solver_tolerance"`
	SolverMaxIterations int     `json:"solver_max_iterations"`
}

// DefaultConfig returns the reference deployment constants.
func DefaultConfig() Config {
	return Config{
		VirtualOffset:       1_000_000,
		Phase1End:           100_000_000,
		Phase2End:           200_000_000,
		PStart:              0.000001,
		PMid:                0.000025,
		PBridgeEnd:          0.00025,
		PMax:                0.95,
		SigmoidK:            1.25,
		TotalSupplyCap:      1_000_000_000,
		FeeBpsBuy:           100,
		FeeBpsSell:          100,
		CreatorFeeShareBps:  5000,
		CurrencyDecimals:    9,
		Integration:         IntegrationExact,
		SolverTolerance:     0.001,
		SolverMaxIterations: 50,
	}
}

// Validate checks the constants that can be judged without evaluating the
// curve. The returned error wraps ErrInvalidConfig and lists every problem.
func (c Config) Validate() error {
	var errs []string

	fields := []struct {
		name string
		v    float64
	}{
		{"virtual_offset", c.VirtualOffset},
		{"phase1_end", c.Phase1End},
		{"phase2_end", c.Phase2End},
		{"p_start", c.PStart},
		{"p_mid", c.PMid},
		{"p_bridge_end", c.PBridgeEnd},
		{"p_max", c.PMax},
		{"sigmoid_k", c.SigmoidK},
		{"total_supply_cap", c.TotalSupplyCap},
		{"solver_tolerance", c.SolverTolerance},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Sprintf("%s must be finite, got %v", f.name, f.v))
		}
	}
	if len(errs) > 0 {
		return joinConfigErrors(errs)
	}

	if c.VirtualOffset < 0 {
		errs = append(errs, "virtual_offset must be >= 0")
	}
	if c.Phase1End <= 0 {
		errs = append(errs, "phase1_end must be > 0")
	}
	if c.Phase2End <= c.Phase1End {
		errs = append(errs, fmt.Sprintf("phase2_end (%g) must exceed phase1_end (%g)", c.Phase2End, c.Phase1End))
	}
	if c.PStart <= 0 {
		errs = append(errs, "p_start must be > 0")
	}
	if c.PMid < c.PStart {
		errs = append(errs, fmt.Sprintf("p_mid (%g) must be >= p_start (%g)", c.PMid, c.PStart))
	}
	if c.PBridgeEnd < c.PMid {
		errs = append(errs, fmt.Sprintf("p_bridge_end (%g) must be >= p_mid (%g)", c.PBridgeEnd, c.PMid))
	}
	if c.PMax < c.PBridgeEnd {
		errs = append(errs, fmt.Sprintf("p_max (%g) must be >= p_bridge_end (%g)", c.PMax, c.PBridgeEnd))
	}
	if c.SigmoidK <= 0 {
		errs = append(errs, "sigmoid_k must be > 0")
	}
	if c.TotalSupplyCap <= 0 {
		errs = append(errs, "total_supply_cap must be > 0")
	}
	if c.FeeBpsBuy < 0 || c.FeeBpsBuy >= 10_000 {
		errs = append(errs, fmt.Sprintf("fee_bps_buy must be in [0, 10000), got %d", c.FeeBpsBuy))
	}
	if c.FeeBpsSell < 0 || c.FeeBpsSell >= 10_000 {
		errs = append(errs, fmt.Sprintf("fee_bps_sell must be in [0, 10000), got %d", c.FeeBpsSell))
	}
	if c.CreatorFeeShareBps < 0 || c.CreatorFeeShareBps > 10_000 {
		errs = append(errs, fmt.Sprintf("creator_fee_share_bps must be in [0, 10000], got %d", c.CreatorFeeShareBps))
	}
	if c.CurrencyDecimals < 0 || c.CurrencyDecimals > 18 {
		errs = append(errs, fmt.Sprintf("currency_decimals must be in [0, 18], got %d", c.CurrencyDecimals))
	}
	switch c.Integration {
	case IntegrationExact, IntegrationTrapezoid:
	default:
		errs = append(errs, fmt.Sprintf("unknown integration %q (valid: exact, trapezoid)", c.Integration))
	}
	if c.SolverTolerance <= 0 || c.SolverTolerance >= c.TotalSupplyCap {
		errs = append(errs, "solver_tolerance must be > 0 and below total_supply_cap")
	}
	if c.SolverMaxIterations < 1 || c.SolverMaxIterations > 10_000 {
		errs = append(errs, fmt.Sprintf("solver_max_iterations must be in [1, 10000], got %d", c.SolverMaxIterations))
	}

	if len(errs) > 0 {
		return joinConfigErrors(errs)
	}
	return nil
}

// Fingerprint is a hex SHA-256 digest of every constant. Two configs price
// identically exactly when their fingerprints match, so a market records the
// fingerprint it was created under and is never traded under another.
func (c Config) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%+v", c)
	return hex.EncodeToString(h.Sum(nil))
}

func joinConfigErrors(errs []string) error {
	return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
}
