// internal/store/gorm.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/database"
	"github.com/chainbazaar/marketplace-backend/internal/models"
)

type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) ListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := l.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("listing %s not found", id))
		}
		return nil, fmt.Errorf("failed to load listing %s: %w", id, err)
	}
	return &listing, nil
}

func (l *GormLedger) AccountByWallet(ctx context.Context, walletID string) (*models.User, error) {
	var user models.User
	if err := l.db.WithContext(ctx).First(&user, "wallet_id = ?", walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeUnknownAccount, fmt.Sprintf("no account for wallet %s", walletID))
		}
		return nil, fmt.Errorf("failed to load account for wallet %s: %w", walletID, err)
	}
	return &user, nil
}

func (l *GormLedger) AccountByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := l.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeUnknownAccount, fmt.Sprintf("account %s not found", id))
		}
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	return &user, nil
}

// CommitSettlement runs the off-chain commit as one DB transaction.
// The listing flip is an atomic conditional update: the WHERE clause
// re-checks sold=false so a racing purchase cannot also pass.
func (l *GormLedger) CommitSettlement(ctx context.Context, commit SettlementCommit) error {
	return database.WithTransaction(l.db.WithContext(ctx), func(tx *gorm.DB) error {
		res := tx.Model(&models.Listing{}).
			Where("id = ? AND sold = ?", commit.ListingID, false).
			Updates(map[string]interface{}{
				"sold":              true,
				"owner_wallet":      commit.BuyerWallet,
				"settlement_tx_ref": commit.TxRef,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update listing %s: %w", commit.ListingID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.CodeAlreadySold,
				fmt.Sprintf("listing %s already sold", commit.ListingID))
		}

		if commit.MoveTokenBalances {
			// Guarded debit and paired credit. The balance check lives in
			// the WHERE clause, so the invariant balance >= 0 holds even
			// under concurrent spends.
			debit := tx.Model(&models.User{}).
				Where("wallet_id = ? AND balance >= ?", commit.BuyerWallet, commit.Amount).
				Update("balance", gorm.Expr("balance - ?", commit.Amount))
			if debit.Error != nil {
				return fmt.Errorf("failed to debit buyer %s: %w", commit.BuyerWallet, debit.Error)
			}
			if debit.RowsAffected == 0 {
				return apperrors.New(apperrors.CodeInsufficientFunds,
					fmt.Sprintf("wallet %s has insufficient token balance", commit.BuyerWallet))
			}

			credit := tx.Model(&models.User{}).
				Where("wallet_id = ?", commit.SellerWallet).
				Update("balance", gorm.Expr("balance + ?", commit.Amount))
			if credit.Error != nil {
				return fmt.Errorf("failed to credit seller %s: %w", commit.SellerWallet, credit.Error)
			}
			if credit.RowsAffected == 0 {
				return apperrors.New(apperrors.CodeUnknownAccount,
					fmt.Sprintf("no account for seller wallet %s", commit.SellerWallet))
			}
		}

		record := models.SettlementRecord{
			ListingID:    commit.ListingID,
			BuyerWallet:  commit.BuyerWallet,
			SellerWallet: commit.SellerWallet,
			Amount:       commit.Amount,
			Currency:     commit.Currency,
			TxRef:        commit.TxRef,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to append settlement record: %w", err)
		}

		return nil
	})
}

func (l *GormLedger) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("failed to credit account %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeUnknownAccount, fmt.Sprintf("account %s not found", userID))
	}
	return nil
}

func (l *GormLedger) DebitGuarded(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("failed to debit account %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeInsufficientFunds,
			fmt.Sprintf("account %s has insufficient balance", userID))
	}
	return nil
}

func (l *GormLedger) CreateAttempt(ctx context.Context, attempt *models.PurchaseAttempt) error {
	if err := l.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to create purchase attempt: %w", err)
	}
	return nil
}

func (l *GormLedger) AdvanceAttempt(ctx context.Context, attemptID uuid.UUID, state models.PurchaseState, fields map[string]interface{}) error {
	updates := map[string]interface{}{"state": state}
	for k, v := range fields {
		updates[k] = v
	}

	res := l.db.WithContext(ctx).Model(&models.PurchaseAttempt{}).
		Where("id = ?", attemptID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to advance attempt %s to %s: %w", attemptID, state, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("attempt %s not found", attemptID))
	}
	return nil
}

func (l *GormLedger) AttemptByID(ctx context.Context, attemptID uuid.UUID) (*models.PurchaseAttempt, error) {
	var attempt models.PurchaseAttempt
	if err := l.db.WithContext(ctx).Preload("Listing").First(&attempt, "id = ?", attemptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("attempt %s not found", attemptID))
		}
		return nil, fmt.Errorf("failed to load attempt %s: %w", attemptID, err)
	}
	return &attempt, nil
}
