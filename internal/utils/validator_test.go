// internal/utils/validator_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type walletForm struct {
	Wallet string `validate:"required,wallet_address"`
}

type passwordForm struct {
	Password string `validate:"required,strong_password"`
}

func TestWalletAddressValidation(t *testing.T) {
	valid := []string{
		"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		"0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc",
	}
	for _, w := range valid {
		assert.NoError(t, ValidateStruct(&walletForm{Wallet: w}), w)
	}

	invalid := []string{
		"",
		"70997970C51812dc3A010C7d01b50e0d17dc79C8",      // missing prefix
		"0x70997970C51812dc3A010C7d01b50e0d17dc79",      // too short
		"0xzz997970C51812dc3A010C7d01b50e0d17dc79C8",    // non-hex
		"0x70997970C51812dc3A010C7d01b50e0d17dc79C8ff",  // too long
	}
	for _, w := range invalid {
		assert.Error(t, ValidateStruct(&walletForm{Wallet: w}), w)
	}
}

func TestStrongPasswordValidation(t *testing.T) {
	assert.NoError(t, ValidateStruct(&passwordForm{Password: "Str0ng!pass"}))
	// exactly 8 chars with all classes is acceptable
	assert.NoError(t, ValidateStruct(&passwordForm{Password: "Short1!A"}))

	for _, p := range []string{"Sh0rt!a", "alllowercase1!", "ALLUPPERCASE1!", "NoNumbers!", "NoSpecial123"} {
		assert.Error(t, ValidateStruct(&passwordForm{Password: p}), p)
	}
}

func TestGetValidationErrors(t *testing.T) {
	err := ValidateStruct(&walletForm{Wallet: "nope"})
	require.Error(t, err)

	errs := GetValidationErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "wallet", errs[0].Field)
	assert.Equal(t, "wallet_address", errs[0].Tag)
	assert.NotEmpty(t, errs[0].Message)
}
