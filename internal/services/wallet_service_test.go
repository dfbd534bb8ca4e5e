// internal/services/wallet_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/config"
)

func newWalletFixture() (*WalletService, *fakeLedger, *fakeGateway) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{}
	svc := NewWalletService(nil, ledger, gateway, &config.Config{})
	return svc, ledger, gateway
}

func TestDepositMintsAndCredits(t *testing.T) {
	svc, ledger, gateway := newWalletFixture()
	user := ledger.addUser(buyerWallet, decimal.NewFromInt(100))

	result, err := svc.Deposit(context.Background(), user.ID, decimal.NewFromInt(250))
	require.NoError(t, err)

	assert.True(t, result.Balance.Equal(decimal.NewFromInt(350)))
	assert.Equal(t, "0xcustody", result.TxRef)
	assert.Equal(t, 1, gateway.custodyCalls)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	svc, ledger, gateway := newWalletFixture()
	user := ledger.addUser(buyerWallet, decimal.NewFromInt(100))

	_, err := svc.Deposit(context.Background(), user.ID, decimal.Zero)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	assert.Zero(t, gateway.custodyCalls)
}

func TestWithdrawBurnsAndDebits(t *testing.T) {
	svc, ledger, gateway := newWalletFixture()
	user := ledger.addUser(buyerWallet, decimal.NewFromInt(500))

	result, err := svc.Withdraw(context.Background(), user.ID, decimal.NewFromInt(200))
	require.NoError(t, err)

	assert.True(t, result.Balance.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 1, gateway.custodyCalls)
}

func TestWithdrawInsufficientBalanceSkipsChain(t *testing.T) {
	svc, ledger, gateway := newWalletFixture()
	user := ledger.addUser(buyerWallet, decimal.NewFromInt(50))

	_, err := svc.Withdraw(context.Background(), user.ID, decimal.NewFromInt(200))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInsufficientFunds, apperrors.CodeOf(err))

	// The precondition failed, so nothing was burned on-chain.
	assert.Zero(t, gateway.custodyCalls)
	assert.True(t, ledger.balance(buyerWallet).Equal(decimal.NewFromInt(50)))
}
