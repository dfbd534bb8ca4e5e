// internal/services/wallet_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"gorm.io/gorm"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/chain"
	"github.com/chainbazaar/marketplace-backend/internal/config"
	"github.com/chainbazaar/marketplace-backend/internal/models"
	"github.com/chainbazaar/marketplace-backend/internal/store"
)

// WalletService handles the fiat-token custody flows: direct deposits
// and withdrawals against the on-chain custody functions, and the
// Stripe card on-ramp that mints tokens after a confirmed payment.
type WalletService struct {
	db      *gorm.DB
	ledger  store.Ledger
	gateway chain.TransferGateway
	cfg     *config.Config
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type DepositIntentResponse struct {
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
}

type BalanceResult struct {
	Balance decimal.Decimal `json:"balance"`
	TxRef   string          `json:"tx_ref,omitempty"`
}

func NewWalletService(db *gorm.DB, ledger store.Ledger, gateway chain.TransferGateway, cfg *config.Config) *WalletService {
	stripe.Key = cfg.Payment.StripeSecretKey

	return &WalletService{
		db:      db,
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
	}
}

// Deposit mints custody tokens on-chain for the user's wallet, then
// credits the off-chain balance.
func (s *WalletService) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*BalanceResult, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be greater than zero")
	}

	user, err := s.ledger.AccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	txRef, err := s.gateway.AdjustCustodyBalance(ctx, user.WalletID, chain.TokenUnits(amount), chain.CustodyDeposit)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Credit(ctx, userID, amount); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"tx":      txRef,
			"amount":  amount,
		}).WithError(err).Error("Tokens minted on-chain but balance credit failed")
		return nil, err
	}

	return s.balanceResult(ctx, userID, txRef)
}

// Withdraw checks the balance precondition before touching the chain:
// a request exceeding the balance is rejected with InsufficientFunds
// and no on-chain call is made.
func (s *WalletService) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*BalanceResult, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be greater than zero")
	}

	user, err := s.ledger.AccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Balance.LessThan(amount) {
		return nil, apperrors.New(apperrors.CodeInsufficientFunds, "withdrawal exceeds current balance")
	}

	txRef, err := s.gateway.AdjustCustodyBalance(ctx, user.WalletID, chain.TokenUnits(amount), chain.CustodyWithdraw)
	if err != nil {
		return nil, err
	}

	// The guarded debit re-checks the balance, so a concurrent spend
	// between the precondition read and here cannot take it negative.
	if err := s.ledger.DebitGuarded(ctx, userID, amount); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"tx":      txRef,
			"amount":  amount,
		}).WithError(err).Error("Tokens burned on-chain but balance debit failed")
		return nil, err
	}

	return s.balanceResult(ctx, userID, txRef)
}

func (s *WalletService) Balance(ctx context.Context, userID uuid.UUID) (*BalanceResult, error) {
	return s.balanceResult(ctx, userID, "")
}

// CreateDepositIntent starts a Stripe card payment for a fiat deposit.
// No token is minted until the payment is confirmed as succeeded.
func (s *WalletService) CreateDepositIntent(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*DepositIntentResponse, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be greater than zero")
	}

	if _, err := s.ledger.AccountByID(ctx, userID); err != nil {
		return nil, err
	}

	// Stripe wants the smallest currency unit.
	amountMinor := amount.Shift(2).Truncate(0).IntPart()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String("inr"),
	}
	params.AddMetadata("user_id", userID.String())

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	intent := &models.DepositIntent{
		UserID:          userID,
		Amount:          amount,
		PaymentIntentID: pi.ID,
		Status:          models.DepositIntentStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(intent).Error; err != nil {
		return nil, fmt.Errorf("failed to record deposit intent: %w", err)
	}

	return &DepositIntentResponse{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		Amount:          amount,
	}, nil
}

// ConfirmDeposit verifies the Stripe payment succeeded, then mints and
// credits. Confirming an already-completed intent is a no-op, so a
// retried confirmation cannot double-mint.
func (s *WalletService) ConfirmDeposit(ctx context.Context, userID uuid.UUID, paymentIntentID string) (*BalanceResult, error) {
	var intent models.DepositIntent
	if err := s.db.WithContext(ctx).
		First(&intent, "payment_intent_id = ? AND user_id = ?", paymentIntentID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "deposit intent not found")
		}
		return nil, fmt.Errorf("failed to load deposit intent: %w", err)
	}

	if intent.Status == models.DepositIntentStatusCompleted {
		return s.balanceResult(ctx, userID, intent.MintTxRef)
	}

	pi, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("payment not completed, status %s", pi.Status))
	}

	user, err := s.ledger.AccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	txRef, err := s.gateway.AdjustCustodyBalance(ctx, user.WalletID, chain.TokenUnits(intent.Amount), chain.CustodyDeposit)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Credit(ctx, userID, intent.Amount); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"tx":      txRef,
		}).WithError(err).Error("Tokens minted on-chain but balance credit failed")
		return nil, err
	}

	s.db.WithContext(ctx).Model(&intent).Updates(map[string]interface{}{
		"status":      models.DepositIntentStatusCompleted,
		"mint_tx_ref": txRef,
	})

	return s.balanceResult(ctx, userID, txRef)
}

func (s *WalletService) balanceResult(ctx context.Context, userID uuid.UUID, txRef string) (*BalanceResult, error) {
	user, err := s.ledger.AccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{Balance: user.Balance, TxRef: txRef}, nil
}
