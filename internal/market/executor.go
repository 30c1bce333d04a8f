// Package market turns buy and sell requests into validated supply, reserve
// and fee changes for one outcome of a bonding-curve market. It performs no
// I/O; callers serialise access to an outcome and persist the result.
package market

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts "buy" or "sell".
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("market: %w %q", ErrUnknownSide, s)
	}
}

// Outcome is the mutable curve state of one market outcome.
type Outcome struct {
	ID      string
	Supply  float64
	Reserve float64
	Frozen  bool
}

// TradeResult describes one executed or quoted trade.
type TradeResult struct {
	Side Side `json:"side"`
	// Shares issued on a buy or redeemed on a sell.
	Shares float64 `json:"shares"`
	// Gross is the amount paid by the trader on a buy and the curve value of
	// the redeemed shares on a sell.
	Gross float64 `json:"gross"`
	Fee   Fee     `json:"fee"`
	// Net is the currency that entered the curve on a buy and the payout on
	// a sell.
	Net float64 `json:"net"`
	// Unspent is the part of a partially filled buy the caller must refund.
	Unspent float64 `json:"unspent"`

	SupplyBefore  float64 `json:"supply_before"`
	SupplyAfter   float64 `json:"supply_after"`
	ReserveBefore float64 `json:"reserve_before"`
	ReserveAfter  float64 `json:"reserve_after"`

	PriceBefore    float64 `json:"price_before"`
	PriceAfter     float64 `json:"price_after"`
	AvgPrice       float64 `json:"avg_price"`
	PriceImpactBps float64 `json:"price_impact_bps"`
}

// BuyOptions are the trader's guards on a buy.
type BuyOptions struct {
	// MinSharesOut rejects the buy when fewer shares would be issued.
	MinSharesOut float64
	// AllowPartial fills up to the supply cap instead of failing with
	// curve.ErrSupplyExhausted. The fee is still charged on the full amount
	// and the leftover net currency is reported as Unspent.
	AllowPartial bool
}

// SellOptions are the trader's guards on a sell.
type SellOptions struct {
	// MinPayout rejects the sell when the payout after fees would be lower.
	MinPayout float64
	// Strict rejects a request above the outcome supply instead of clamping.
	Strict bool
}

// reserveSlack absorbs floating-point drift between the accumulated reserve
// and a freshly integrated sell value.
const reserveSlack = 1e-9

// Executor applies trades to outcomes using one calibrated curve.
type Executor struct {
	curve *curve.Curve
	cfg   curve.Config
	money money
}

// NewExecutor creates an Executor bound to c.
func NewExecutor(c *curve.Curve) *Executor {
	cfg := c.Config()
	return &Executor{
		curve: c,
		cfg:   cfg,
		money: newMoney(cfg.CurrencyDecimals, cfg.CreatorFeeShareBps),
	}
}

// Curve returns the curve the executor prices against.
func (e *Executor) Curve() *curve.Curve {
	return e.curve
}

// QuoteBuy computes the result of buying with gross currency without
// changing o.
func (e *Executor) QuoteBuy(o Outcome, gross float64, opts BuyOptions) (TradeResult, error) {
	return e.planBuy(o, gross, opts)
}

// Buy spends gross currency on o. On success o.Supply and o.Reserve are
// updated; on any error o is left untouched.
func (e *Executor) Buy(o *Outcome, gross float64, opts BuyOptions) (TradeResult, error) {
	res, err := e.planBuy(*o, gross, opts)
	if err != nil {
		return TradeResult{}, err
	}
	o.Supply = res.SupplyAfter
	o.Reserve = res.ReserveAfter
	return res, nil
}

// QuoteSell computes the result of selling shares without changing o.
func (e *Executor) QuoteSell(o Outcome, shares float64, opts SellOptions) (TradeResult, error) {
	return e.planSell(o, shares, opts)
}

// Sell redeems shares from o. On success o.Supply and o.Reserve are updated;
// on any error o is left untouched.
func (e *Executor) Sell(o *Outcome, shares float64, opts SellOptions) (TradeResult, error) {
	res, err := e.planSell(*o, shares, opts)
	if err != nil {
		return TradeResult{}, err
	}
	o.Supply = res.SupplyAfter
	o.Reserve = res.ReserveAfter
	return res, nil
}

func (e *Executor) planBuy(o Outcome, gross float64, opts BuyOptions) (TradeResult, error) {
	if !positive(gross) {
		return TradeResult{}, fmt.Errorf("market: buy %g on %s: %w", gross, o.ID, curve.ErrInvalidAmount)
	}
	if o.Frozen {
		return TradeResult{}, fmt.Errorf("market: buy on %s: %w", o.ID, ErrMarketFrozen)
	}

	grossDec := decimal.NewFromFloat(gross)
	feeDec := e.money.fee(gross, e.cfg.FeeBpsBuy)
	net := grossDec.Sub(feeDec).InexactFloat64()
	if net <= 0 {
		return TradeResult{}, fmt.Errorf("market: buy %g on %s leaves nothing after fees: %w", gross, o.ID, curve.ErrInvalidAmount)
	}

	spent, unspent := net, 0.0
	shares, err := e.curve.Solve(o.Supply, net)
	switch {
	case errors.Is(err, curve.ErrSupplyExhausted) && opts.AllowPartial:
		shares = e.curve.Remaining(o.Supply)
		if shares <= 0 {
			return TradeResult{}, fmt.Errorf("market: buy on %s: %w", o.ID, err)
		}
		toCap, err := e.curve.CostToCap(o.Supply)
		if err != nil {
			return TradeResult{}, fmt.Errorf("market: partial buy on %s: %w", o.ID, err)
		}
		// Sub-quantum dust stays in the reserve so gross == fee + net + unspent.
		unspent = e.money.floor(decimal.NewFromFloat(net - toCap)).InexactFloat64()
		spent = net - unspent
	case err != nil:
		return TradeResult{}, fmt.Errorf("market: buy on %s: %w", o.ID, err)
	}

	if shares <= 0 {
		return TradeResult{}, fmt.Errorf("market: buy %g on %s is below one share step: %w", gross, o.ID, curve.ErrInvalidAmount)
	}
	if shares < opts.MinSharesOut {
		return TradeResult{}, fmt.Errorf("market: buy on %s issues %g shares, minimum %g: %w",
			o.ID, shares, opts.MinSharesOut, ErrSlippageExceeded)
	}

	after := math.Min(o.Supply+shares, e.cfg.TotalSupplyCap)
	res := TradeResult{
		Side:          SideBuy,
		Shares:        shares,
		Gross:         gross,
		Fee:           e.money.split(feeDec),
		Net:           spent,
		Unspent:       unspent,
		SupplyBefore:  o.Supply,
		SupplyAfter:   after,
		ReserveBefore: o.Reserve,
		ReserveAfter:  o.Reserve + spent,
	}
	e.fillPrices(&res, spent)
	return res, nil
}

func (e *Executor) planSell(o Outcome, shares float64, opts SellOptions) (TradeResult, error) {
	if !positive(shares) {
		return TradeResult{}, fmt.Errorf("market: sell %g on %s: %w", shares, o.ID, curve.ErrInvalidAmount)
	}
	if o.Frozen {
		return TradeResult{}, fmt.Errorf("market: sell on %s: %w", o.ID, ErrMarketFrozen)
	}
	if o.Supply <= 0 {
		return TradeResult{}, fmt.Errorf("market: sell on empty outcome %s: %w", o.ID, curve.ErrInsufficientSupply)
	}
	if shares > o.Supply {
		if opts.Strict {
			return TradeResult{}, fmt.Errorf("market: sell %g on %s with supply %g: %w",
				shares, o.ID, o.Supply, curve.ErrInsufficientSupply)
		}
		shares = o.Supply
	}

	after := math.Max(0, o.Supply-shares)
	gross, err := e.curve.Cost(after, o.Supply)
	if err != nil {
		return TradeResult{}, fmt.Errorf("market: sell on %s: %w", o.ID, err)
	}
	if gross > o.Reserve+reserveSlack*math.Max(1, o.Reserve) {
		return TradeResult{}, fmt.Errorf("market: sell on %s values %g against reserve %g: %w",
			o.ID, gross, o.Reserve, ErrInsufficientReserve)
	}
	gross = math.Min(gross, o.Reserve)

	grossDec := decimal.NewFromFloat(gross)
	feeDec := e.money.fee(gross, e.cfg.FeeBpsSell)
	netDec := e.money.floor(grossDec.Sub(feeDec))
	if !netDec.IsPositive() {
		return TradeResult{}, fmt.Errorf("market: sell %g on %s pays out nothing after fees: %w", shares, o.ID, curve.ErrInvalidAmount)
	}
	net := netDec.InexactFloat64()
	if net < opts.MinPayout {
		return TradeResult{}, fmt.Errorf("market: sell on %s pays %g, minimum %g: %w",
			o.ID, net, opts.MinPayout, ErrSlippageExceeded)
	}

	// Whatever the payout rounding leaves behind goes to the protocol.
	res := TradeResult{
		Side:          SideSell,
		Shares:        shares,
		Gross:         gross,
		Fee:           e.money.split(grossDec.Sub(netDec)),
		Net:           net,
		SupplyBefore:  o.Supply,
		SupplyAfter:   after,
		ReserveBefore: o.Reserve,
		ReserveAfter:  math.Max(0, o.Reserve-gross),
	}
	e.fillPrices(&res, gross)
	return res, nil
}

func (e *Executor) fillPrices(res *TradeResult, curveValue float64) {
	res.PriceBefore = e.curve.SpotPrice(res.SupplyBefore)
	res.PriceAfter = e.curve.SpotPrice(res.SupplyAfter)
	if res.Shares > 0 {
		res.AvgPrice = curveValue / res.Shares
	}
	if res.PriceBefore > 0 {
		res.PriceImpactBps = (res.PriceAfter - res.PriceBefore) / res.PriceBefore * 10_000
	}
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
