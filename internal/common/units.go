package common

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const ScaleDecimals = 18

// Scale is the fixed-point factor shared by token amounts, quote amounts and prices.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(ScaleDecimals), nil)

// DisplayPrecision is the number of decimals kept when projecting to human values.
const DisplayPrecision = 4

// FormatUnits projects a scaled integer to a decimal, truncated (never rounded) to
// DisplayPrecision places.
func FormatUnits(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -ScaleDecimals).Truncate(DisplayPrecision)
}
