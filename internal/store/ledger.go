// internal/store/ledger.go
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainbazaar/marketplace-backend/internal/models"
)

// SettlementCommit is the single logical unit that finalizes a
// purchase off-chain: the conditional listing flip, the paired balance
// moves (token path), and the audit record. Either all of it becomes
// visible or none of it does.
type SettlementCommit struct {
	ListingID    uuid.UUID
	BuyerWallet  string
	SellerWallet string
	TxRef        string
	Amount       decimal.Decimal
	Currency     models.SettlementCurrency

	// MoveTokenBalances is set on the token path, where the fiat-token
	// balances settle off-chain alongside the ownership flip.
	MoveTokenBalances bool
}

// Ledger is the off-chain system of record. All writes are durable
// once acknowledged. The conditional update inside CommitSettlement is
// the critical section for a listing: of two racing purchases exactly
// one wins, the other observes AlreadySold.
type Ledger interface {
	ListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	AccountByWallet(ctx context.Context, walletID string) (*models.User, error)
	AccountByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	CommitSettlement(ctx context.Context, commit SettlementCommit) error

	// Credit and DebitGuarded implement deposits and withdrawals. The
	// debit is conditional on sufficient balance at the store boundary,
	// not on a prior read.
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	DebitGuarded(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error

	CreateAttempt(ctx context.Context, attempt *models.PurchaseAttempt) error
	AdvanceAttempt(ctx context.Context, attemptID uuid.UUID, state models.PurchaseState, fields map[string]interface{}) error
	AttemptByID(ctx context.Context, attemptID uuid.UUID) (*models.PurchaseAttempt, error)
}
