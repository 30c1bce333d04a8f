package market

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/djinnmarket/internal/curve"
)

func newTestExecutor(t *testing.T, mutate func(*curve.Config)) *Executor {
	t.Helper()
	cfg := curve.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := curve.New(cfg)
	require.NoError(t, err)
	return NewExecutor(c)
}

func TestBuyThenSellNeverProfits(t *testing.T) {
	ex := newTestExecutor(t, nil)
	o := &Outcome{ID: "yes"}

	buy, err := ex.Buy(o, 1.0, BuyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.01, buy.Fee.Total)
	assert.Equal(t, 0.005, buy.Fee.Creator)
	assert.Equal(t, 0.005, buy.Fee.Protocol)
	assert.Equal(t, 0.99, buy.Net)
	assert.InDelta(t, 744_716, buy.Shares, 1)
	assert.InEpsilon(t, 0.99, buy.Shares*ex.Curve().SpotPrice(buy.Shares), 0.1)
	assert.Equal(t, buy.Shares, o.Supply)
	assert.Equal(t, 0.99, o.Reserve)

	sell, err := ex.Sell(o, buy.Shares, SellOptions{})
	require.NoError(t, err)
	assert.Less(t, sell.Net, 0.99)
	assert.InDelta(t, 0.9801, sell.Net, 1e-6)
	assert.Zero(t, o.Supply)
	assert.GreaterOrEqual(t, o.Reserve, 0.0)
}

func TestRoundTripsAcrossPhasesNeverProfit(t *testing.T) {
	ex := newTestExecutor(t, nil)
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 100; i++ {
		start := rng.Float64() * 6e8
		// Seed the outcome as if earlier buyers had paid exactly the curve cost.
		seedCost, err := ex.Curve().Cost(0, start)
		require.NoError(t, err)
		o := &Outcome{ID: "o", Supply: start, Reserve: seedCost}

		gross := math.Pow(10, -1+5*rng.Float64())
		buy, err := ex.Buy(o, gross, BuyOptions{})
		require.NoError(t, err)
		sell, err := ex.Sell(o, buy.Shares, SellOptions{})
		require.NoError(t, err)

		assert.LessOrEqual(t, sell.Net, gross, "start=%g gross=%g", start, gross)
		assert.InDelta(t, start, o.Supply, 1e-6)
	}
}

func TestQuotesDoNotMutate(t *testing.T) {
	ex := newTestExecutor(t, nil)
	o := Outcome{ID: "yes", Supply: 1_000_000, Reserve: 5}

	q, err := ex.QuoteBuy(o, 10, BuyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, o.Supply)

	exec := o
	res, err := ex.Buy(&exec, 10, BuyOptions{})
	require.NoError(t, err)
	assert.Equal(t, q, res)

	qs, err := ex.QuoteSell(exec, 500, SellOptions{})
	require.NoError(t, err)
	assert.Equal(t, res.SupplyAfter, exec.Supply)
	assert.Equal(t, SideSell, qs.Side)
}

func TestBuyRejections(t *testing.T) {
	ex := newTestExecutor(t, nil)
	supplyCap := curve.DefaultConfig().TotalSupplyCap

	tests := []struct {
		name    string
		outcome Outcome
		gross   float64
		opts    BuyOptions
		want    error
	}{
		{"zero", Outcome{}, 0, BuyOptions{}, curve.ErrInvalidAmount},
		{"negative", Outcome{}, -3, BuyOptions{}, curve.ErrInvalidAmount},
		{"nan", Outcome{}, math.NaN(), BuyOptions{}, curve.ErrInvalidAmount},
		{"dust", Outcome{Supply: 9e8}, 1e-5, BuyOptions{}, curve.ErrInvalidAmount},
		{"frozen", Outcome{Frozen: true}, 1, BuyOptions{}, ErrMarketFrozen},
		{"slippage", Outcome{}, 1, BuyOptions{MinSharesOut: 1_000_000}, ErrSlippageExceeded},
		{"exhausted", Outcome{Supply: supplyCap - 1}, 100, BuyOptions{}, curve.ErrSupplyExhausted},
		{"full", Outcome{Supply: supplyCap}, 100, BuyOptions{AllowPartial: true}, curve.ErrSupplyExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.outcome
			before := o
			_, err := ex.Buy(&o, tt.gross, tt.opts)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, o)
		})
	}
}

func TestBuyPartialFill(t *testing.T) {
	ex := newTestExecutor(t, nil)
	supplyCap := curve.DefaultConfig().TotalSupplyCap
	o := &Outcome{ID: "yes", Supply: supplyCap - 10, Reserve: 100}

	res, err := ex.Buy(o, 100, BuyOptions{AllowPartial: true})
	require.NoError(t, err)

	assert.Equal(t, 10.0, res.Shares)
	assert.Equal(t, supplyCap, o.Supply)
	assert.InDelta(t, 9.5, res.Net, 1e-6)
	assert.InDelta(t, 99-9.5, res.Unspent, 1e-6)
	assert.InDelta(t, res.Gross, res.Fee.Total+res.Net+res.Unspent, 1e-9)
	assert.InDelta(t, 100+res.Net, o.Reserve, 1e-9)
}

func TestSellClampsAndStrict(t *testing.T) {
	ex := newTestExecutor(t, nil)
	seed := &Outcome{ID: "yes"}
	buy, err := ex.Buy(seed, 50, BuyOptions{})
	require.NoError(t, err)

	strict := *seed
	_, err = ex.Sell(&strict, buy.Shares*2, SellOptions{Strict: true})
	require.ErrorIs(t, err, curve.ErrInsufficientSupply)
	assert.Equal(t, *seed, strict)

	clamped := *seed
	res, err := ex.Sell(&clamped, buy.Shares*2, SellOptions{})
	require.NoError(t, err)
	assert.Equal(t, buy.Shares, res.Shares)
	assert.Zero(t, clamped.Supply)
}

func TestSellRejections(t *testing.T) {
	ex := newTestExecutor(t, nil)
	funded := func() Outcome {
		o := Outcome{ID: "yes"}
		_, err := ex.Buy(&o, 10, BuyOptions{})
		require.NoError(t, err)
		return o
	}

	tests := []struct {
		name    string
		outcome Outcome
		shares  float64
		opts    SellOptions
		want    error
	}{
		{"zero", funded(), 0, SellOptions{}, curve.ErrInvalidAmount},
		{"inf", funded(), math.Inf(1), SellOptions{}, curve.ErrInvalidAmount},
		{"empty", Outcome{}, 5, SellOptions{}, curve.ErrInsufficientSupply},
		{"frozen", Outcome{Supply: 10, Reserve: 10, Frozen: true}, 5, SellOptions{}, ErrMarketFrozen},
		{"slippage", funded(), 1_000, SellOptions{MinPayout: 1}, ErrSlippageExceeded},
		{"unbacked", Outcome{Supply: 5e8, Reserve: 1}, 1e8, SellOptions{}, ErrInsufficientReserve},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.outcome
			before := o
			_, err := ex.Sell(&o, tt.shares, tt.opts)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, o)
		})
	}
}

func TestSupplyConservationAndSolvency(t *testing.T) {
	for _, integration := range []curve.Integration{curve.IntegrationExact, curve.IntegrationTrapezoid} {
		t.Run(string(integration), func(t *testing.T) {
			ex := newTestExecutor(t, func(c *curve.Config) { c.Integration = integration })
			rng := rand.New(rand.NewSource(99))
			o := &Outcome{ID: "yes"}

			var issued, redeemed float64
			for i := 0; i < 400; i++ {
				if o.Supply == 0 || rng.Intn(3) > 0 {
					gross := math.Pow(10, -1+7*rng.Float64())
					res, err := ex.Buy(o, gross, BuyOptions{AllowPartial: true})
					if err != nil {
						require.ErrorIs(t, err, curve.ErrSupplyExhausted)
						continue
					}
					issued += res.Shares
				} else {
					res, err := ex.Sell(o, o.Supply*rng.Float64(), SellOptions{})
					if err != nil {
						// Chords undercharge where the price is concave, so
						// trapezoid reserves can run short.
						if integration == curve.IntegrationTrapezoid && errors.Is(err, ErrInsufficientReserve) {
							continue
						}
						require.ErrorIs(t, err, curve.ErrInvalidAmount)
						continue
					}
					redeemed += res.Shares
				}

				require.InDelta(t, issued-redeemed, o.Supply, 1e-6*math.Max(1, o.Supply))
				require.GreaterOrEqual(t, o.Supply, 0.0)
				require.LessOrEqual(t, o.Supply, ex.Curve().Config().TotalSupplyCap)
				require.GreaterOrEqual(t, o.Reserve, 0.0)

				if integration == curve.IntegrationExact {
					owed, err := ex.Curve().Cost(0, o.Supply)
					require.NoError(t, err)
					require.GreaterOrEqual(t, o.Reserve, owed*(1-1e-9)-1e-9)
				}
			}
		})
	}
}

func TestFeeRounding(t *testing.T) {
	m := newMoney(6, 3_333)

	fee := m.fee(0.123456789, 100)
	assert.Equal(t, "0.001235", fee.String())

	split := m.split(fee)
	assert.Equal(t, 0.000411, split.Creator)
	assert.InDelta(t, 0.000824, split.Protocol, 1e-12)

	assert.Equal(t, "1.999999", m.floor(decimal.RequireFromString("1.9999999")).String())
	assert.Equal(t, "2", m.fee(199.99999999, 100).String())
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("buy")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)

	_, err = ParseSide("hold")
	assert.ErrorIs(t, err, ErrUnknownSide)
	assert.NotErrorIs(t, err, curve.ErrInvalidAmount)
}
