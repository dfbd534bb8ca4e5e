// internal/chain/keyring_test.go
package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
)

const (
	testWallet = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testKey    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func TestKeyringResolvesSigner(t *testing.T) {
	kr, err := NewKeyring(testWallet + ":" + testKey)
	require.NoError(t, err)

	signer, err := kr.Signer(testWallet)
	require.NoError(t, err)
	assert.NotNil(t, signer)
}

func TestKeyringIsCaseInsensitive(t *testing.T) {
	kr, err := NewKeyring(testWallet + ":0x" + testKey)
	require.NoError(t, err)

	// Lookups normalize to lowercase, matching how wallets are stored.
	signer, err := kr.Signer("0X70997970C51812DC3A010C7D01B50E0D17DC79C8")
	require.NoError(t, err)
	assert.NotNil(t, signer)
}

func TestKeyringUnknownWallet(t *testing.T) {
	kr, err := NewKeyring(testWallet + ":" + testKey)
	require.NoError(t, err)

	_, err = kr.Signer("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestKeyringEmptySpec(t *testing.T) {
	kr, err := NewKeyring("")
	require.NoError(t, err)

	_, err = kr.Signer(testWallet)
	assert.Error(t, err)
}

func TestKeyringMalformedEntry(t *testing.T) {
	_, err := NewKeyring("not-a-pair")
	assert.Error(t, err)

	_, err = NewKeyring(testWallet + ":zz")
	assert.Error(t, err)
}
