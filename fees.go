package x402

import "github.com/shopspring/decimal"

// Relay markup applied on top of the broker's price
var (
	RelayFeeRate = decimal.RequireFromString("0.03")
	MinRelayFee  = decimal.RequireFromString("0.002")
)

// RelayFee returns max(3% of amount, 0.002). Negative amounts are treated as zero.
func RelayFee(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return decimal.Max(amount.Mul(RelayFeeRate), MinRelayFee)
}

// TotalAmount returns amount plus its relay fee
func TotalAmount(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Add(RelayFee(amount))
}
