// internal/chain/units.go
package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToWei converts a crypto amount expressed in whole units (ETH) to the
// smallest on-chain unit (wei, 18 decimals). Precision beyond wei is
// truncated.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).Truncate(0).BigInt()
}

// FromWei converts wei back to whole crypto units.
func FromWei(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, -18)
}

// TokenUnits converts a fiat-token amount to the integer unit the
// custody functions take. Token amounts are whole fiat units on-chain.
func TokenUnits(amount decimal.Decimal) *big.Int {
	return amount.Truncate(0).BigInt()
}
