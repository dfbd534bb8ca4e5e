// internal/services/settlement_service.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/chain"
	"github.com/chainbazaar/marketplace-backend/internal/models"
	"github.com/chainbazaar/marketplace-backend/internal/oracle"
	"github.com/chainbazaar/marketplace-backend/internal/store"
)

const (
	cryptoAsset = "ETH"
	fiatUnit    = "INR"
)

// reconcileWindows are the fixed look-back windows, in minutes, for the
// post-trade price reconciliation report.
var reconcileWindows = []int{5, 10, 15, 30}

// SettlementService orchestrates one purchase end to end: precondition
// validation, payment-path execution, on-chain transfer calls, the
// atomic off-chain commit, and the detached reconciliation report.
type SettlementService struct {
	ledger  store.Ledger
	gateway chain.TransferGateway
	rates   oracle.RateSource
	keyring *chain.Keyring

	background sync.WaitGroup
}

type PurchaseResult struct {
	AttemptID      uuid.UUID                 `json:"attempt_id"`
	ListingID      uuid.UUID                 `json:"listing_id"`
	State          models.PurchaseState      `json:"state"`
	Currency       models.SettlementCurrency `json:"currency"`
	ValueTxRef     string                    `json:"value_tx_ref,omitempty"`
	OwnershipTxRef string                    `json:"ownership_tx_ref"`
	RateUsed       decimal.Decimal           `json:"rate_used,omitempty"`
	CryptoValue    decimal.Decimal           `json:"crypto_value,omitempty"`
}

func NewSettlementService(ledger store.Ledger, gateway chain.TransferGateway, rates oracle.RateSource, keyring *chain.Keyring) *SettlementService {
	return &SettlementService{
		ledger:  ledger,
		gateway: gateway,
		rates:   rates,
		keyring: keyring,
	}
}

// Purchase settles one listing for one buyer. Preconditions are checked
// before any side effect; every failure carries a stable reason code.
//
// The work runs on a context detached from the caller's connection: a
// transaction already broadcast on-chain is irreversible, so a client
// disconnect must not abort the pipeline. The attempt row makes the
// outcome queryable afterward.
func (s *SettlementService) Purchase(ctx context.Context, listingID uuid.UUID, buyerWallet string, path models.PaymentPath) (*PurchaseResult, error) {
	ctx = context.WithoutCancel(ctx)

	if !path.Valid() {
		return nil, apperrors.New(apperrors.CodeValidation, "payment path must be token or crypto")
	}

	listing, err := s.ledger.ListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Sold {
		return nil, apperrors.New(apperrors.CodeAlreadySold, "listing already sold")
	}
	if listing.OnChainID == nil {
		return nil, apperrors.New(apperrors.CodeValidation, "listing has no confirmed on-chain id")
	}

	buyer, err := s.ledger.AccountByWallet(ctx, buyerWallet)
	if err != nil {
		return nil, err
	}
	seller, err := s.ledger.AccountByWallet(ctx, listing.OwnerWallet)
	if err != nil {
		return nil, err
	}

	if path == models.PaymentPathToken && buyer.Balance.LessThan(listing.Price) {
		return nil, apperrors.New(apperrors.CodeInsufficientFunds, "token balance below listing price")
	}

	attempt := &models.PurchaseAttempt{
		ListingID:   listing.ID,
		BuyerWallet: buyer.WalletID,
		PaymentPath: path,
		State:       models.PurchaseStateValidated,
	}
	if err := s.ledger.CreateAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"attempt_id":   attempt.ID,
		"listing_id":   listing.ID,
		"buyer_wallet": buyer.WalletID,
		"payment_path": path,
	})

	if path == models.PaymentPathToken {
		return s.settleWithToken(ctx, log, attempt, listing, buyer, seller)
	}
	return s.settleWithCrypto(ctx, log, attempt, listing, buyer, seller)
}

// settleWithToken records ownership on-chain first, then moves the
// fiat-token balances and flips the listing in one atomic commit. If
// the on-chain call fails the ledger is untouched.
func (s *SettlementService) settleWithToken(ctx context.Context, log *logrus.Entry, attempt *models.PurchaseAttempt, listing *models.Listing, buyer, seller *models.User) (*PurchaseResult, error) {
	ownershipTx, err := s.gateway.TransferOwnership(ctx, *listing.OnChainID, buyer.WalletID)
	if err != nil {
		s.failAttempt(ctx, log, attempt.ID, err)
		return nil, err
	}

	if err := s.ledger.AdvanceAttempt(ctx, attempt.ID, models.PurchaseStateOwnershipSettled, map[string]interface{}{
		"ownership_tx_ref": ownershipTx,
	}); err != nil {
		log.WithError(err).Error("Failed to persist attempt state")
	}

	if err := s.ledger.CommitSettlement(ctx, store.SettlementCommit{
		ListingID:         listing.ID,
		BuyerWallet:       buyer.WalletID,
		SellerWallet:      seller.WalletID,
		TxRef:             ownershipTx,
		Amount:            listing.Price,
		Currency:          models.CurrencyToken,
		MoveTokenBalances: true,
	}); err != nil {
		s.failAttempt(ctx, log, attempt.ID, err)
		return nil, err
	}

	if err := s.ledger.AdvanceAttempt(ctx, attempt.ID, models.PurchaseStateLedgerCommitted, nil); err != nil {
		log.WithError(err).Error("Failed to persist attempt state")
	}

	log.WithField("tx", ownershipTx).Info("Token purchase settled")

	return &PurchaseResult{
		AttemptID:      attempt.ID,
		ListingID:      listing.ID,
		State:          models.PurchaseStateLedgerCommitted,
		Currency:       models.CurrencyToken,
		OwnershipTxRef: ownershipTx,
	}, nil
}

// settleWithCrypto prices the listing at the live rate, moves value
// from buyer to seller on-chain, then ownership, then commits off-chain.
// Strict ordering bounds the inconsistency window to "payment sent,
// ownership not yet recorded" and never the reverse.
func (s *SettlementService) settleWithCrypto(ctx context.Context, log *logrus.Entry, attempt *models.PurchaseAttempt, listing *models.Listing, buyer, seller *models.User) (*PurchaseResult, error) {
	rate, err := s.rates.CurrentRate(ctx, cryptoAsset, fiatUnit)
	if err != nil {
		s.failAttempt(ctx, log, attempt.ID, err)
		return nil, err
	}

	cryptoValue := listing.Price.DivRound(rate, 18)
	wei := chain.ToWei(cryptoValue)

	signer, err := s.keyring.Signer(buyer.WalletID)
	if err != nil {
		s.failAttempt(ctx, log, attempt.ID, err)
		return nil, err
	}

	if err := s.ledger.AdvanceAttempt(ctx, attempt.ID, models.PurchaseStateValidated, map[string]interface{}{
		"rate_used":    rate,
		"crypto_value": cryptoValue,
	}); err != nil {
		log.WithError(err).Error("Failed to persist attempt state")
	}

	valueTx, err := s.gateway.TransferValue(ctx, *listing.OnChainID, buyer.WalletID, seller.WalletID, wei, signer)
	if err != nil {
		s.failAttempt(ctx, log, attempt.ID, err)
		return nil, err
	}

	if err := s.ledger.AdvanceAttempt(ctx, attempt.ID, models.PurchaseStateValueSettled, map[string]interface{}{
		"value_tx_ref": valueTx,
	}); err != nil {
		log.WithError(err).Error("Failed to persist attempt state")
	}

	ownershipTx, err := s.gateway.TransferOwnership(ctx, *listing.OnChainID, buyer.WalletID)
	if err != nil {
		// The buyer has paid on-chain but ownership did not move. This
		// cannot be rolled back and must not be retried blindly: a
		// resubmitted value transfer would double charge. Operator
		// intervention required.
		wrapped := apperrors.Wrap(apperrors.CodeOwnershipTransferAfterPaymentFailed,
			"value transferred on-chain but ownership transfer failed", err)
		log.WithError(err).WithFields(logrus.Fields{
			"value_tx_ref": valueTx,
			"on_chain_id":  *listing.OnChainID,
			"wei":          wei.String(),
		}).Error("INCONSISTENT SETTLEMENT: payment settled without ownership transfer")
		s.failAttempt(ctx, log, attempt.ID, wrapped)
		return nil, wrapped
	}

	if err := s.ledger.AdvanceAttempt(ctx, attempt.ID, models.PurchaseStateOwnershipSettled, map[string]interface{}{
		"ownership_tx_ref": ownershipTx,
	}); err != nil {
		log.WithError(err).Error("Failed to persist attempt state")
	}

	if err := s.ledger.CommitSettlement(ctx, store.SettlementCommit{
		ListingID:    listing.ID,
		BuyerWallet:  buyer.WalletID,
		SellerWallet: seller.WalletID,
		TxRef:        ownershipTx,
		Amount:       listing.Price,
		Currency:     models.CurrencyCrypto,
	}); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"value_tx_ref":     valueTx,
			"ownership_tx_ref": ownershipTx,
		}).Error("On-chain settlement confirmed but off-chain commit failed")
		s.failAttempt(ctx, log, attempt.ID, err)
		return nil, err
	}

	if err := s.ledger.AdvanceAttempt(ctx, attempt.ID, models.PurchaseStateLedgerCommitted, nil); err != nil {
		log.WithError(err).Error("Failed to persist attempt state")
	}

	log.WithFields(logrus.Fields{
		"value_tx":  valueTx,
		"owner_tx":  ownershipTx,
		"rate":      rate,
		"eth_value": cryptoValue,
	}).Info("Crypto purchase settled")

	// Reconciliation is diagnostic telemetry: it runs detached so oracle
	// latency never delays the settlement response, and its failure
	// never fails the purchase.
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.reconcile(context.WithoutCancel(ctx), log, attempt.ID, listing.Price, cryptoValue)
	}()

	return &PurchaseResult{
		AttemptID:      attempt.ID,
		ListingID:      listing.ID,
		State:          models.PurchaseStateLedgerCommitted,
		Currency:       models.CurrencyCrypto,
		ValueTxRef:     valueTx,
		OwnershipTxRef: ownershipTx,
		RateUsed:       rate,
		CryptoValue:    cryptoValue,
	}, nil
}

// reconcile fetches historical rates at the fixed look-back windows and
// reports how far the settled value drifted from the listing price.
func (s *SettlementService) reconcile(ctx context.Context, log *logrus.Entry, attemptID uuid.UUID, price, cryptoValue decimal.Decimal) {
	entries := make([]interface{}, 0, len(reconcileWindows))

	for _, minutes := range reconcileWindows {
		rate, err := s.rates.HistoricalRate(ctx, cryptoAsset, fiatUnit, minutes)
		if err != nil {
			log.WithError(err).WithField("window_minutes", minutes).Warn("Reconciliation rate fetch failed")
			entries = append(entries, map[string]interface{}{
				"window_minutes": minutes,
				"error":          string(apperrors.CodeOf(err)),
			})
			continue
		}

		reconstructed := rate.Mul(cryptoValue)
		deviation := reconstructed.Sub(price).Abs().Div(price).Mul(decimal.NewFromInt(100))

		log.WithFields(logrus.Fields{
			"window_minutes":      minutes,
			"historical_rate":     rate,
			"reconstructed_value": reconstructed,
			"deviation_pct":       deviation.Round(2),
		}).Info("Settlement accuracy")

		entries = append(entries, map[string]interface{}{
			"window_minutes":      minutes,
			"historical_rate":     rate.String(),
			"reconstructed_value": reconstructed.Round(2).String(),
			"deviation_pct":       deviation.Round(2).String(),
		})
	}

	report := models.JSONB{
		"windows":      entries,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.ledger.AdvanceAttempt(ctx, attemptID, models.PurchaseStateLedgerCommitted, map[string]interface{}{
		"report": report,
	}); err != nil {
		log.WithError(err).Warn("Failed to store reconciliation report")
	}
}

func (s *SettlementService) failAttempt(ctx context.Context, log *logrus.Entry, attemptID uuid.UUID, cause error) {
	code := apperrors.CodeOf(cause)
	if err := s.ledger.AdvanceAttempt(ctx, attemptID, models.PurchaseStateFailed, map[string]interface{}{
		"failure_code": string(code),
	}); err != nil {
		log.WithError(err).Error("Failed to mark attempt failed")
	}
	log.WithField("failure_code", code).WithError(cause).Warn("Purchase failed")
}

// Attempt returns a purchase attempt for post-hoc inspection, including
// the reconciliation report once the background task has stored it.
func (s *SettlementService) Attempt(ctx context.Context, attemptID uuid.UUID) (*models.PurchaseAttempt, error) {
	return s.ledger.AttemptByID(ctx, attemptID)
}

// Drain blocks until detached background work finishes or the timeout
// elapses. Called on shutdown.
func (s *SettlementService) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logrus.Warn("Shutdown timed out waiting for reconciliation tasks")
	}
}
