// internal/services/settlement_service_test.go
package services

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/chain"
	"github.com/chainbazaar/marketplace-backend/internal/models"
	"github.com/chainbazaar/marketplace-backend/internal/store"
)

const (
	buyerWallet  = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	buyerKey     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	sellerWallet = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
)

type fakeLedger struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*models.Listing
	users    map[string]*models.User
	attempts map[uuid.UUID]*models.PurchaseAttempt
	commits  []store.SettlementCommit
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		listings: make(map[uuid.UUID]*models.Listing),
		users:    make(map[string]*models.User),
		attempts: make(map[uuid.UUID]*models.PurchaseAttempt),
	}
}

func (f *fakeLedger) addUser(wallet string, balance decimal.Decimal) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{
		WalletID: wallet,
		Balance:  balance,
		Status:   models.UserStatusActive,
	}
	u.ID = uuid.New()
	f.users[wallet] = u
	return u
}

func (f *fakeLedger) addListing(price decimal.Decimal, owner string, onChainID uint64) *models.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &models.Listing{
		Name:        "vintage synth",
		Price:       price,
		OwnerWallet: owner,
		OnChainID:   &onChainID,
	}
	l.ID = uuid.New()
	f.listings[l.ID] = l
	return l
}

func (f *fakeLedger) ListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "listing not found")
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLedger) AccountByWallet(ctx context.Context, walletID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[walletID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeUnknownAccount, "no account for wallet")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeLedger) AccountByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.New(apperrors.CodeUnknownAccount, "no account for id")
}

func (f *fakeLedger) CommitSettlement(ctx context.Context, commit store.SettlementCommit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	listing, ok := f.listings[commit.ListingID]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "listing not found")
	}
	if listing.Sold {
		return apperrors.New(apperrors.CodeAlreadySold, "listing already sold")
	}

	if commit.MoveTokenBalances {
		buyer := f.users[commit.BuyerWallet]
		seller := f.users[commit.SellerWallet]
		if buyer.Balance.LessThan(commit.Amount) {
			return apperrors.New(apperrors.CodeInsufficientFunds, "balance below amount")
		}
		buyer.Balance = buyer.Balance.Sub(commit.Amount)
		seller.Balance = seller.Balance.Add(commit.Amount)
	}

	listing.Sold = true
	ref := commit.TxRef
	listing.SettlementTxRef = &ref
	f.commits = append(f.commits, commit)
	return nil
}

func (f *fakeLedger) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			u.Balance = u.Balance.Add(amount)
			return nil
		}
	}
	return apperrors.New(apperrors.CodeUnknownAccount, "no account for id")
}

func (f *fakeLedger) DebitGuarded(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == userID {
			if u.Balance.LessThan(amount) {
				return apperrors.New(apperrors.CodeInsufficientFunds, "balance below amount")
			}
			u.Balance = u.Balance.Sub(amount)
			return nil
		}
	}
	return apperrors.New(apperrors.CodeUnknownAccount, "no account for id")
}

func (f *fakeLedger) CreateAttempt(ctx context.Context, attempt *models.PurchaseAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = uuid.New()
	cp := *attempt
	f.attempts[attempt.ID] = &cp
	return nil
}

func (f *fakeLedger) AdvanceAttempt(ctx context.Context, attemptID uuid.UUID, state models.PurchaseState, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "attempt not found")
	}
	attempt.State = state
	for key, value := range fields {
		switch key {
		case "failure_code":
			attempt.FailureCode = value.(string)
		case "rate_used":
			attempt.RateUsed = value.(decimal.Decimal)
		case "crypto_value":
			attempt.CryptoValue = value.(decimal.Decimal)
		case "value_tx_ref":
			attempt.ValueTxRef = value.(string)
		case "ownership_tx_ref":
			attempt.OwnershipTxRef = value.(string)
		case "report":
			attempt.Report = value.(models.JSONB)
		}
	}
	return nil
}

func (f *fakeLedger) AttemptByID(ctx context.Context, attemptID uuid.UUID) (*models.PurchaseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "attempt not found")
	}
	cp := *attempt
	return &cp, nil
}

func (f *fakeLedger) listing(id uuid.UUID) *models.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings[id]
}

func (f *fakeLedger) balance(wallet string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[wallet].Balance
}

func (f *fakeLedger) onlyAttempt(t *testing.T) *models.PurchaseAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.attempts, 1)
	for _, a := range f.attempts {
		cp := *a
		return &cp
	}
	return nil
}

type fakeGateway struct {
	mu             sync.Mutex
	ownershipCalls int
	valueCalls     int
	custodyCalls   int
	lastValue      *big.Int

	ownershipErr error
	valueErr     error
}

func (f *fakeGateway) ListItem(ctx context.Context, price *big.Int) (uint64, string, error) {
	return 7, "0xlist", nil
}

func (f *fakeGateway) TransferOwnership(ctx context.Context, onChainID uint64, newOwnerWallet string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownershipCalls++
	if f.ownershipErr != nil {
		return "", f.ownershipErr
	}
	return "0xowner", nil
}

func (f *fakeGateway) TransferValue(ctx context.Context, onChainID uint64, fromWallet, toWallet string, value *big.Int, signer *ecdsa.PrivateKey) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valueCalls++
	f.lastValue = new(big.Int).Set(value)
	if f.valueErr != nil {
		return "", f.valueErr
	}
	if signer == nil {
		return "", apperrors.New(apperrors.CodeValidation, "nil signer")
	}
	return "0xvalue", nil
}

func (f *fakeGateway) AdjustCustodyBalance(ctx context.Context, walletID string, amount *big.Int, direction chain.CustodyDirection) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custodyCalls++
	return "0xcustody", nil
}

func (f *fakeGateway) calls() (ownership, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownershipCalls, f.valueCalls
}

type fakeRates struct {
	current    decimal.Decimal
	currentErr error

	historical    decimal.Decimal
	historicalErr error
}

func (f *fakeRates) CurrentRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if f.currentErr != nil {
		return decimal.Zero, f.currentErr
	}
	return f.current, nil
}

func (f *fakeRates) HistoricalRate(ctx context.Context, base, quote string, minutesAgo int) (decimal.Decimal, error) {
	if f.historicalErr != nil {
		return decimal.Zero, f.historicalErr
	}
	return f.historical, nil
}

func testKeyring(t *testing.T) *chain.Keyring {
	kr, err := chain.NewKeyring(buyerWallet + ":" + buyerKey)
	require.NoError(t, err)
	return kr
}

func newSettlementFixture(t *testing.T, rates *fakeRates) (*SettlementService, *fakeLedger, *fakeGateway) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{}
	svc := NewSettlementService(ledger, gateway, rates, testKeyring(t))
	return svc, ledger, gateway
}

func TestTokenPurchaseSettles(t *testing.T) {
	svc, ledger, gateway := newSettlementFixture(t, &fakeRates{})

	ledger.addUser(buyerWallet, decimal.NewFromInt(80000))
	ledger.addUser(sellerWallet, decimal.NewFromInt(1000))
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	result, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathToken)
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseStateLedgerCommitted, result.State)
	assert.Equal(t, models.CurrencyToken, result.Currency)
	assert.Equal(t, "0xowner", result.OwnershipTxRef)

	assert.True(t, ledger.balance(buyerWallet).Equal(decimal.NewFromInt(30000)))
	assert.True(t, ledger.balance(sellerWallet).Equal(decimal.NewFromInt(51000)))
	assert.True(t, ledger.listing(listing.ID).Sold)

	ownership, value := gateway.calls()
	assert.Equal(t, 1, ownership)
	assert.Zero(t, value)

	attempt := ledger.onlyAttempt(t)
	assert.Equal(t, models.PurchaseStateLedgerCommitted, attempt.State)
	assert.Empty(t, attempt.FailureCode)
}

func TestTokenPurchaseInsufficientBalance(t *testing.T) {
	svc, ledger, gateway := newSettlementFixture(t, &fakeRates{})

	ledger.addUser(buyerWallet, decimal.NewFromInt(100))
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	_, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathToken)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInsufficientFunds, apperrors.CodeOf(err))

	// Rejected before any side effect
	ownership, value := gateway.calls()
	assert.Zero(t, ownership)
	assert.Zero(t, value)
	assert.False(t, ledger.listing(listing.ID).Sold)
	assert.True(t, ledger.balance(buyerWallet).Equal(decimal.NewFromInt(100)))
}

func TestPurchaseInvalidPath(t *testing.T) {
	svc, ledger, _ := newSettlementFixture(t, &fakeRates{})
	listing := ledger.addListing(decimal.NewFromInt(100), sellerWallet, 7)

	_, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPath("paypal"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestPurchaseUnknownListing(t *testing.T) {
	svc, _, _ := newSettlementFixture(t, &fakeRates{})

	_, err := svc.Purchase(context.Background(), uuid.New(), buyerWallet, models.PaymentPathToken)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestPurchaseUnknownBuyer(t *testing.T) {
	svc, ledger, _ := newSettlementFixture(t, &fakeRates{})
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(100), sellerWallet, 7)

	_, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathToken)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnknownAccount, apperrors.CodeOf(err))
}

func TestPurchaseAlreadySold(t *testing.T) {
	svc, ledger, gateway := newSettlementFixture(t, &fakeRates{})

	ledger.addUser(buyerWallet, decimal.NewFromInt(80000))
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(100), sellerWallet, 7)
	ledger.listing(listing.ID).Sold = true

	_, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathToken)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAlreadySold, apperrors.CodeOf(err))

	ownership, _ := gateway.calls()
	assert.Zero(t, ownership)
}

func TestConcurrentTokenPurchasesOneWins(t *testing.T) {
	svc, ledger, _ := newSettlementFixture(t, &fakeRates{})

	secondBuyer := "0x90f79bf6eb2c4f870365e785982e1f101e93b906"
	ledger.addUser(buyerWallet, decimal.NewFromInt(80000))
	ledger.addUser(secondBuyer, decimal.NewFromInt(80000))
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, wallet := range []string{buyerWallet, secondBuyer} {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			_, err := svc.Purchase(context.Background(), listing.ID, w, models.PaymentPathToken)
			errs <- err
		}(wallet)
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}

	// Exactly one buyer settles; the loser sees the sold flag, either at
	// validation or at the conditional commit.
	require.Len(t, failures, 1)
	assert.Equal(t, apperrors.CodeAlreadySold, apperrors.CodeOf(failures[0]))
	assert.True(t, ledger.balance(sellerWallet).Equal(decimal.NewFromInt(50000)))
}

func TestCryptoPurchaseSettles(t *testing.T) {
	rates := &fakeRates{
		current:    decimal.NewFromInt(200000),
		historical: decimal.NewFromInt(210000),
	}
	svc, ledger, gateway := newSettlementFixture(t, rates)

	ledger.addUser(buyerWallet, decimal.Zero)
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	result, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathCrypto)
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseStateLedgerCommitted, result.State)
	assert.Equal(t, models.CurrencyCrypto, result.Currency)
	assert.Equal(t, "0xvalue", result.ValueTxRef)
	assert.Equal(t, "0xowner", result.OwnershipTxRef)

	// 50000 INR at 200000 INR/ETH is 0.25 ETH
	assert.True(t, result.CryptoValue.Equal(decimal.RequireFromString("0.25")),
		"got %s", result.CryptoValue)

	expectedWei, _ := new(big.Int).SetString("250000000000000000", 10)
	gateway.mu.Lock()
	assert.Zero(t, expectedWei.Cmp(gateway.lastValue))
	gateway.mu.Unlock()

	// Crypto path settles value on-chain; token balances stay put.
	assert.True(t, ledger.balance(buyerWallet).Equal(decimal.Zero))
	assert.True(t, ledger.balance(sellerWallet).Equal(decimal.Zero))
	assert.True(t, ledger.listing(listing.ID).Sold)

	// Reconciliation runs detached; wait for it.
	svc.Drain(2 * time.Second)

	attempt, err := svc.Attempt(context.Background(), result.AttemptID)
	require.NoError(t, err)
	require.NotNil(t, attempt.Report)

	windows, ok := attempt.Report["windows"].([]interface{})
	require.True(t, ok)
	require.Len(t, windows, 4)

	// 0.25 ETH at the historical 210000 reconstructs 52500, a 5% drift
	// from the 50000 listing price.
	first, ok := windows[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "52500", first["reconstructed_value"])
	assert.Equal(t, "5", first["deviation_pct"])
}

func TestCryptoPurchaseOracleDown(t *testing.T) {
	rates := &fakeRates{
		currentErr: apperrors.New(apperrors.CodeOracleUnavailable, "rate source unreachable"),
	}
	svc, ledger, gateway := newSettlementFixture(t, rates)

	ledger.addUser(buyerWallet, decimal.Zero)
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	_, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathCrypto)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeOracleUnavailable, apperrors.CodeOf(err))

	// No chain call and no mutation without a rate.
	ownership, value := gateway.calls()
	assert.Zero(t, ownership)
	assert.Zero(t, value)
	assert.False(t, ledger.listing(listing.ID).Sold)

	attempt := ledger.onlyAttempt(t)
	assert.Equal(t, models.PurchaseStateFailed, attempt.State)
	assert.Equal(t, string(apperrors.CodeOracleUnavailable), attempt.FailureCode)
}

func TestCryptoOwnershipFailureAfterPayment(t *testing.T) {
	rates := &fakeRates{current: decimal.NewFromInt(200000)}
	svc, ledger, gateway := newSettlementFixture(t, rates)
	gateway.ownershipErr = apperrors.New(apperrors.CodeOnChainFailure, "transferItemOwnership reverted")

	ledger.addUser(buyerWallet, decimal.Zero)
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	_, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathCrypto)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeOwnershipTransferAfterPaymentFailed, apperrors.CodeOf(err))

	// Value moved on-chain but nothing was committed off-chain.
	ownership, value := gateway.calls()
	assert.Equal(t, 1, ownership)
	assert.Equal(t, 1, value)
	assert.False(t, ledger.listing(listing.ID).Sold)

	attempt := ledger.onlyAttempt(t)
	assert.Equal(t, models.PurchaseStateFailed, attempt.State)
	assert.Equal(t, string(apperrors.CodeOwnershipTransferAfterPaymentFailed), attempt.FailureCode)
	assert.Equal(t, "0xvalue", attempt.ValueTxRef)
}

func TestCryptoPurchaseNoSignerKey(t *testing.T) {
	rates := &fakeRates{current: decimal.NewFromInt(200000)}
	svc, ledger, gateway := newSettlementFixture(t, rates)

	stranger := "0x90f79bf6eb2c4f870365e785982e1f101e93b906"
	ledger.addUser(stranger, decimal.Zero)
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	_, err := svc.Purchase(context.Background(), listing.ID, stranger, models.PaymentPathCrypto)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, value := gateway.calls()
	assert.Zero(t, value)
	assert.False(t, ledger.listing(listing.ID).Sold)
}

func TestReconciliationSurvivesMissingData(t *testing.T) {
	rates := &fakeRates{
		current:       decimal.NewFromInt(200000),
		historicalErr: apperrors.New(apperrors.CodeNoHistoricalData, "empty window"),
	}
	svc, ledger, _ := newSettlementFixture(t, rates)

	ledger.addUser(buyerWallet, decimal.Zero)
	ledger.addUser(sellerWallet, decimal.Zero)
	listing := ledger.addListing(decimal.NewFromInt(50000), sellerWallet, 7)

	result, err := svc.Purchase(context.Background(), listing.ID, buyerWallet, models.PaymentPathCrypto)
	require.NoError(t, err)

	svc.Drain(2 * time.Second)

	attempt, err := svc.Attempt(context.Background(), result.AttemptID)
	require.NoError(t, err)
	require.NotNil(t, attempt.Report)
	assert.Equal(t, models.PurchaseStateLedgerCommitted, attempt.State)

	windows, ok := attempt.Report["windows"].([]interface{})
	require.True(t, ok)
	require.Len(t, windows, 4)
	first := windows[0].(map[string]interface{})
	assert.Equal(t, string(apperrors.CodeNoHistoricalData), first["error"])
}
