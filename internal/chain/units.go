package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimal places of the native coin.
const NativeDecimals = 18

// ToWei converts a native amount to its smallest unit, truncating extra precision.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(NativeDecimals).BigInt()
}

// FromWei converts a smallest-unit amount to the native unit.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -NativeDecimals)
}
