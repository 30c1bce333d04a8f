package market

import "github.com/shopspring/decimal"

// Fee is a fee charged on one trade and the way it is split between the
// protocol and the market creator. Total == Protocol + Creator.
type Fee struct {
	Total    float64 `json:"total"`
	Protocol float64 `json:"protocol"`
	Creator  float64 `json:"creator"`
}

var bpsDenominator = decimal.NewFromInt(10_000)

// money rounds currency amounts to a fixed number of decimals. Fees are
// rounded up and payouts down so that rounding never favours the trader.
type money struct {
	places     int32
	creatorBps decimal.Decimal
}

func newMoney(places int32, creatorShareBps int) money {
	return money{places: places, creatorBps: decimal.NewFromInt(int64(creatorShareBps))}
}

// fee charges bps of amount, rounded up to the currency quantum.
func (m money) fee(amount float64, bps int) decimal.Decimal {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(bpsDenominator).
		RoundCeil(m.places)
}

// split divides total between creator and protocol. The creator part is
// rounded down; the protocol takes the remainder.
func (m money) split(total decimal.Decimal) Fee {
	creator := total.Mul(m.creatorBps).Div(bpsDenominator).RoundFloor(m.places)
	return Fee{
		Total:    total.InexactFloat64(),
		Protocol: total.Sub(creator).InexactFloat64(),
		Creator:  creator.InexactFloat64(),
	}
}

func (m money) floor(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundFloor(m.places)
}
