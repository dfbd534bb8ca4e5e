// internal/chain/units_test.go
package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToWei(t *testing.T) {
	cases := []struct {
		amount string
		wei    string
	}{
		{"1", "1000000000000000000"},
		{"0.25", "250000000000000000"},
		{"0.000000000000000001", "1"},
		// Sub-wei precision truncates, never rounds up
		{"0.0000000000000000019", "1"},
		{"0", "0"},
	}

	for _, tc := range cases {
		want, ok := new(big.Int).SetString(tc.wei, 10)
		assert.True(t, ok)
		got := ToWei(decimal.RequireFromString(tc.amount))
		assert.Zero(t, want.Cmp(got), "ToWei(%s) = %s, want %s", tc.amount, got, want)
	}
}

func TestFromWeiRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("0.25")
	assert.True(t, amount.Equal(FromWei(ToWei(amount))))
}

func TestTokenUnits(t *testing.T) {
	assert.Zero(t, big.NewInt(50000).Cmp(TokenUnits(decimal.RequireFromString("50000"))))
	// Token amounts settle in whole fiat units on-chain
	assert.Zero(t, big.NewInt(50000).Cmp(TokenUnits(decimal.RequireFromString("50000.99"))))
}
